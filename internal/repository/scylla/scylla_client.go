package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"waste-auth-service/internal/config"
	"waste-auth-service/internal/util"
)

// PreparedStatements holds prepared statements that are actually used by the
// repositories.
type PreparedStatements struct {
	CreateUser           *gocql.Query
	CreateUsernameToUser *gocql.Query
	GetUserByID          *gocql.Query
	GetUserByUsername    *gocql.Query
	UpdateUserLastLogin  *gocql.Query
	UpdateUserStatus     *gocql.Query

	CreateDevice             *gocql.Query
	CreateCredentialLookup   *gocql.Query
	CreateDeviceLookup       *gocql.Query
	GetDevice                *gocql.Query
	GetDevicesByUser         *gocql.Query
	GetCredentialLookup      *gocql.Query
	GetDeviceLookup          *gocql.Query
	DeleteCredentialLookup   *gocql.Query
	UpdateDeviceChallenge    *gocql.Query
	UpdateDeviceFailures     *gocql.Query
	UpdateDeviceVerified     *gocql.Query
	UpdateDeviceActive       *gocql.Query
	UpdateDeviceRegistration *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.MaxRoutingKeyInfo = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if !cfg.IsDevelopment() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 "/root/certs/ca.pem",
			CertPath:               "/root/certs/server.pem",
			KeyPath:                "/root/certs/server.key",
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.CreateUser = s.Session.Query(`
        INSERT INTO users (
            user_bucket, user_id, username, phone_hash, phone_encrypted,
            phone_key_id, email, password_hash, status, family_id,
            created_at, last_login, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.CreateUsernameToUser = s.Session.Query(`
        INSERT INTO username_to_user (username, user_bucket, user_id, created_at)
        VALUES (?, ?, ?, ?)`)

	prepared.GetUserByID = s.Session.Query(`
        SELECT user_bucket, user_id, username, phone_hash, phone_encrypted,
            phone_key_id, email, password_hash, status, family_id,
            created_at, last_login, updated_at
        FROM users WHERE user_bucket = ? AND user_id = ?`)

	prepared.GetUserByUsername = s.Session.Query(`
        SELECT user_bucket, user_id FROM username_to_user WHERE username = ?`)

	prepared.UpdateUserLastLogin = s.Session.Query(`
        UPDATE users SET last_login = ? WHERE user_bucket = ? AND user_id = ?`)

	prepared.UpdateUserStatus = s.Session.Query(`
        UPDATE users SET status = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ?`)

	prepared.CreateDevice = s.Session.Query(`
        INSERT INTO biometric_devices (
            user_bucket, user_id, device_id, device_name, device_type,
            public_key, credential_id, device_fingerprint, is_active, is_trusted,
            failed_attempts, max_failed_attempts, challenge, challenge_expires,
            last_used_at, last_verified_at, last_source_addr, expires_at,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.CreateCredentialLookup = s.Session.Query(`
        INSERT INTO credential_to_device (credential_id, user_bucket, user_id, device_id)
        VALUES (?, ?, ?, ?)`)

	prepared.CreateDeviceLookup = s.Session.Query(`
        INSERT INTO device_to_user (device_id, user_bucket, user_id)
        VALUES (?, ?, ?)`)

	prepared.GetDevice = s.Session.Query(`
        SELECT user_bucket, user_id, device_id, device_name, device_type,
            public_key, credential_id, device_fingerprint, is_active, is_trusted,
            failed_attempts, max_failed_attempts, challenge, challenge_expires,
            last_used_at, last_verified_at, last_source_addr, expires_at,
            created_at, updated_at
        FROM biometric_devices
        WHERE user_bucket = ? AND user_id = ? AND device_id = ?`)

	prepared.GetDevicesByUser = s.Session.Query(`
        SELECT user_bucket, user_id, device_id, device_name, device_type,
            public_key, credential_id, device_fingerprint, is_active, is_trusted,
            failed_attempts, max_failed_attempts, challenge, challenge_expires,
            last_used_at, last_verified_at, last_source_addr, expires_at,
            created_at, updated_at
        FROM biometric_devices
        WHERE user_bucket = ? AND user_id = ?`)

	prepared.GetCredentialLookup = s.Session.Query(`
        SELECT user_bucket, user_id, device_id FROM credential_to_device
        WHERE credential_id = ?`)

	prepared.GetDeviceLookup = s.Session.Query(`
        SELECT user_bucket, user_id FROM device_to_user
        WHERE device_id = ?`)

	prepared.DeleteCredentialLookup = s.Session.Query(`
        DELETE FROM credential_to_device WHERE credential_id = ?`)

	prepared.UpdateDeviceChallenge = s.Session.Query(`
        UPDATE biometric_devices
        SET challenge = ?, challenge_expires = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ? AND device_id = ?`)

	prepared.UpdateDeviceFailures = s.Session.Query(`
        UPDATE biometric_devices
        SET failed_attempts = ?, is_active = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ? AND device_id = ?`)

	prepared.UpdateDeviceVerified = s.Session.Query(`
        UPDATE biometric_devices
        SET failed_attempts = ?, challenge = ?, challenge_expires = ?,
            last_used_at = ?, last_verified_at = ?, last_source_addr = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ? AND device_id = ?`)

	prepared.UpdateDeviceActive = s.Session.Query(`
        UPDATE biometric_devices SET is_active = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ? AND device_id = ?`)

	prepared.UpdateDeviceRegistration = s.Session.Query(`
        UPDATE biometric_devices
        SET device_name = ?, device_type = ?, public_key = ?, credential_id = ?,
            device_fingerprint = ?, is_active = ?, failed_attempts = ?,
            challenge = ?, challenge_expires = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ? AND device_id = ?`)

	s.Prepared = prepared
	s.isPrepared = true

	util.Info("ScyllaDB prepared statements created successfully")
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...)
}

func (s *ScyllaClient) Batch(typ gocql.BatchType) *gocql.Batch {
	return s.Session.NewBatch(typ)
}

func (s *ScyllaClient) ExecuteBatch(batch *gocql.Batch) error {
	return s.Session.ExecuteBatch(batch)
}

func (s *ScyllaClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if err := query.Scan(dest...); err != nil {
			lastErr = err
			if i < 2 {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}
