package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"waste-auth-service/internal/config"
	"waste-auth-service/internal/util"
)

// SMSSender posts messages to the configured SMS provider's HTTP API.
type SMSSender struct {
	providerURL string
	apiKey      string
	senderName  string
	httpClient  *http.Client
}

type smsRequest struct {
	To      string `json:"to"`
	From    string `json:"from"`
	Message string `json:"message"`
}

type smsResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func NewSMSSender(cfg *config.Config) *SMSSender {
	return &SMSSender{
		providerURL: cfg.Notify.SMSProviderURL,
		apiKey:      cfg.Notify.SMSAPIKey,
		senderName:  cfg.Notify.SMSSenderName,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *SMSSender) Channel() string {
	return ChannelSMS
}

func (s *SMSSender) Deliver(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(smsRequest{
		To:      msg.Recipient,
		From:    s.senderName,
		Message: msg.Body,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal SMS request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.providerURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build SMS request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call SMS provider: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		util.Error("SMS provider rejected message",
			zap.Int("status_code", resp.StatusCode),
			zap.ByteString("body", body))
		return fmt.Errorf("%w: sms provider returned %d", ErrDeliveryFailed, resp.StatusCode)
	}

	var parsed smsResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Status != "" && parsed.Status != "success" {
		util.Error("SMS provider reported failure",
			zap.String("status", parsed.Status),
			zap.String("message", parsed.Message))
		return fmt.Errorf("%w: %s", ErrDeliveryFailed, parsed.Message)
	}

	util.Debug("SMS delivered", zap.Int("status_code", resp.StatusCode))
	return nil
}
