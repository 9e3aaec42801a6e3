package scylla

import (
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"waste-auth-service/internal/bucketing"
	"waste-auth-service/internal/models"
	"waste-auth-service/internal/util"
)

var (
	ErrUserNotFound = errors.New("user not found")
)

// UserRepository is the durable store for resident and staff accounts.
type UserRepository interface {
	Create(user *models.User) error
	GetByID(userID string) (*models.User, error)
	GetByUsername(username string) (*models.User, error)
	UpdateLastLogin(userID string, at time.Time) error
	UpdateStatus(userID, status string) error
}

type ScyllaUserRepository struct {
	client  *ScyllaClient
	buckets *bucketing.BucketingManager
}

func NewUserRepository(client *ScyllaClient, buckets *bucketing.BucketingManager) *ScyllaUserRepository {
	return &ScyllaUserRepository{
		client:  client,
		buckets: buckets,
	}
}

func (r *ScyllaUserRepository) Create(user *models.User) error {
	if user.UserID == "" {
		user.UserID = uuid.New().String()
	}
	user.UserBucket = r.buckets.GetUserBucket(user.UserID)

	now := time.Now().UTC()
	user.CreatedAt = now

	// Batch keeps the lookup table consistent with the main row
	batch := r.client.Session.NewBatch(gocql.LoggedBatch)

	batch.Query(r.client.Prepared.CreateUser.Statement(),
		user.UserBucket, user.UserID, user.Username, user.PhoneHash,
		user.PhoneEncrypted, user.PhoneKeyID, user.Email, user.PasswordHash,
		user.Status, user.FamilyID, user.CreatedAt, user.LastLogin, user.UpdatedAt)

	batch.Query(r.client.Prepared.CreateUsernameToUser.Statement(),
		user.Username, user.UserBucket, user.UserID, user.CreatedAt)

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to create user",
			zap.String("user_id", user.UserID),
			zap.String("username", user.Username),
			zap.Error(err))
		return fmt.Errorf("failed to create user: %w", err)
	}

	util.Info("User created",
		zap.String("user_id", user.UserID),
		zap.String("username", user.Username),
		zap.Int("user_bucket", user.UserBucket))
	return nil
}

func (r *ScyllaUserRepository) GetByID(userID string) (*models.User, error) {
	bucket := r.buckets.GetUserBucket(userID)
	return r.getByBucketAndID(bucket, userID)
}

func (r *ScyllaUserRepository) getByBucketAndID(bucket int, userID string) (*models.User, error) {
	user := &models.User{}

	query := r.client.Prepared.GetUserByID.Bind(bucket, userID)

	err := r.client.ScanWithRetry(query,
		&user.UserBucket, &user.UserID, &user.Username, &user.PhoneHash,
		&user.PhoneEncrypted, &user.PhoneKeyID, &user.Email, &user.PasswordHash,
		&user.Status, &user.FamilyID, &user.CreatedAt, &user.LastLogin, &user.UpdatedAt)

	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrUserNotFound
		}
		util.Error("Failed to get user by ID",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}

	return user, nil
}

func (r *ScyllaUserRepository) GetByUsername(username string) (*models.User, error) {
	var bucket int
	var userID string

	query := r.client.Prepared.GetUserByUsername.Bind(username)
	if err := r.client.ScanWithRetry(query, &bucket, &userID); err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrUserNotFound
		}
		util.Error("Failed to resolve username",
			zap.String("username", username),
			zap.Error(err))
		return nil, fmt.Errorf("failed to resolve username: %w", err)
	}

	return r.getByBucketAndID(bucket, userID)
}

func (r *ScyllaUserRepository) UpdateLastLogin(userID string, at time.Time) error {
	bucket := r.buckets.GetUserBucket(userID)

	query := r.client.Prepared.UpdateUserLastLogin.Bind(at, bucket, userID)
	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		util.Error("Failed to update last login",
			zap.String("user_id", userID),
			zap.Error(err))
		return fmt.Errorf("failed to update last login: %w", err)
	}

	return nil
}

func (r *ScyllaUserRepository) UpdateStatus(userID, status string) error {
	bucket := r.buckets.GetUserBucket(userID)
	now := time.Now().UTC()

	query := r.client.Prepared.UpdateUserStatus.Bind(status, now, bucket, userID)
	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		util.Error("Failed to update user status",
			zap.String("user_id", userID),
			zap.String("status", status),
			zap.Error(err))
		return fmt.Errorf("failed to update user status: %w", err)
	}

	util.Info("User status updated",
		zap.String("user_id", userID),
		zap.String("status", status))
	return nil
}
