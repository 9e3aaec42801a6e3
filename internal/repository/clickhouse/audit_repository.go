package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"waste-auth-service/internal/bucketing"
	"waste-auth-service/internal/client"
	"waste-auth-service/internal/models"
	"waste-auth-service/internal/util"
)

const (
	insertLoginAttempt = `
        INSERT INTO login_attempts (
            attempt_id, event_bucket, username, user_id,
            source_address, success, failure_reason, attempted_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	insertBiometricAttempt = `
        INSERT INTO biometric_login_attempts (
            attempt_id, event_bucket, device_id, user_id,
            source_address, success, failure_reason, attempted_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
)

// AuditRepository appends login attempt rows to ClickHouse. Rows are never
// updated or deleted.
type AuditRepository struct {
	client  *client.ClickHouseClient
	buckets *bucketing.BucketingManager
}

func NewAuditRepository(ch *client.ClickHouseClient, buckets *bucketing.BucketingManager) *AuditRepository {
	return &AuditRepository{
		client:  ch,
		buckets: buckets,
	}
}

// InsertLoginAttempt appends a password/OTP login attempt row.
func (r *AuditRepository) InsertLoginAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	if attempt.AttemptID == "" {
		attempt.AttemptID = uuid.New().String()
	}
	if attempt.AttemptedAt.IsZero() {
		attempt.AttemptedAt = time.Now().UTC()
	}
	attempt.EventBucket = r.buckets.GetEventBucket(attempt.Username)

	err := r.client.Exec(ctx, insertLoginAttempt,
		attempt.AttemptID, attempt.EventBucket, attempt.Username, attempt.UserID,
		attempt.SourceAddress, attempt.Success, attempt.FailureReason, attempt.AttemptedAt)
	if err != nil {
		util.Error("Failed to insert login attempt",
			zap.String("username", attempt.Username),
			zap.Bool("success", attempt.Success),
			zap.Error(err))
		return fmt.Errorf("failed to insert login attempt: %w", err)
	}

	util.Debug("Login attempt recorded",
		zap.String("username", attempt.Username),
		zap.Bool("success", attempt.Success))
	return nil
}

// InsertBiometricAttempt appends a challenge-response verification row.
func (r *AuditRepository) InsertBiometricAttempt(ctx context.Context, attempt *models.BiometricLoginAttempt) error {
	if attempt.AttemptID == "" {
		attempt.AttemptID = uuid.New().String()
	}
	if attempt.AttemptedAt.IsZero() {
		attempt.AttemptedAt = time.Now().UTC()
	}
	attempt.EventBucket = r.buckets.GetEventBucket(attempt.DeviceID)

	err := r.client.Exec(ctx, insertBiometricAttempt,
		attempt.AttemptID, attempt.EventBucket, attempt.DeviceID, attempt.UserID,
		attempt.SourceAddress, attempt.Success, attempt.FailureReason, attempt.AttemptedAt)
	if err != nil {
		util.Error("Failed to insert biometric attempt",
			zap.String("device_id", attempt.DeviceID),
			zap.Bool("success", attempt.Success),
			zap.Error(err))
		return fmt.Errorf("failed to insert biometric attempt: %w", err)
	}

	util.Debug("Biometric attempt recorded",
		zap.String("device_id", attempt.DeviceID),
		zap.Bool("success", attempt.Success))
	return nil
}

// InsertLoginAttemptBatch appends many rows in one round trip, used by the
// async drain path.
func (r *AuditRepository) InsertLoginAttemptBatch(ctx context.Context, attempts []*models.LoginAttempt) error {
	if len(attempts) == 0 {
		return nil
	}

	rows := make([][]interface{}, 0, len(attempts))
	for _, a := range attempts {
		if a.AttemptID == "" {
			a.AttemptID = uuid.New().String()
		}
		if a.AttemptedAt.IsZero() {
			a.AttemptedAt = time.Now().UTC()
		}
		a.EventBucket = r.buckets.GetEventBucket(a.Username)
		rows = append(rows, []interface{}{
			a.AttemptID, a.EventBucket, a.Username, a.UserID,
			a.SourceAddress, a.Success, a.FailureReason, a.AttemptedAt,
		})
	}

	if err := r.client.BatchInsert(ctx, insertLoginAttempt, rows); err != nil {
		util.Error("Failed to batch insert login attempts",
			zap.Int("count", len(attempts)),
			zap.Error(err))
		return fmt.Errorf("failed to batch insert login attempts: %w", err)
	}

	util.Debug("Login attempt batch recorded", zap.Int("count", len(attempts)))
	return nil
}
