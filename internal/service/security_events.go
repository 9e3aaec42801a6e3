package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"waste-auth-service/internal/bucketing"
	"waste-auth-service/internal/client"
	"waste-auth-service/internal/models"
	"waste-auth-service/internal/util"
)

// SecurityEventEmitter publishes security events to Kafka and mirrors them
// into the Elasticsearch index. Emission is best-effort: a broker outage must
// never fail the authentication path, so errors are logged and swallowed.
type SecurityEventEmitter struct {
	producer *client.KafkaProducer
	es       *client.ESClient
	buckets  *bucketing.BucketingManager
}

func NewSecurityEventEmitter(producer *client.KafkaProducer, es *client.ESClient, buckets *bucketing.BucketingManager) *SecurityEventEmitter {
	return &SecurityEventEmitter{
		producer: producer,
		es:       es,
		buckets:  buckets,
	}
}

// Emit fills in the event identity fields and publishes asynchronously.
func (e *SecurityEventEmitter) Emit(event models.SecurityEvent) {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.EventTime.IsZero() {
		event.EventTime = time.Now().UTC()
	}

	key := event.Username
	if key == "" {
		key = event.DeviceID
	}
	if e.buckets != nil {
		event.EventBucket = e.buckets.GetEventBucket(key)
	}

	util.Info("Security event",
		zap.String("event_type", event.EventType),
		zap.String("username", event.Username),
		zap.String("device_id", event.DeviceID),
		zap.String("source_address", event.SourceAddress),
		zap.String("reason", event.Reason))

	go e.publish(event, key)
}

func (e *SecurityEventEmitter) publish(event models.SecurityEvent, key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	payload, err := json.Marshal(event)
	if err != nil {
		util.Error("Failed to marshal security event", zap.Error(err))
		return
	}

	if e.producer != nil {
		err := e.producer.ProduceMessage(ctx, e.producer.SecurityEventTopic(),
			[]byte(key), payload, map[string]string{
				"event_type": event.EventType,
			})
		if err != nil {
			util.Error("Failed to produce security event",
				zap.String("event_type", event.EventType),
				zap.Error(err))
		}
	}

	if e.es != nil {
		res, err := e.es.IndexDocument(e.es.SecurityEventIndex(), event.EventID, event)
		if err != nil {
			util.Error("Failed to index security event",
				zap.String("event_type", event.EventType),
				zap.Error(err))
			return
		}
		defer res.Body.Close()
		if res.IsError() {
			util.Error("Elasticsearch rejected security event",
				zap.String("event_type", event.EventType),
				zap.String("status", res.Status()))
		}
	}
}
