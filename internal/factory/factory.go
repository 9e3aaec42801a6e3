package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"waste-auth-service/internal/bucketing"
	"waste-auth-service/internal/client"
	"waste-auth-service/internal/config"
	"waste-auth-service/internal/encryption"
	"waste-auth-service/internal/handler"
	"waste-auth-service/internal/hashing"
	"waste-auth-service/internal/notify"
	"waste-auth-service/internal/repository/clickhouse"
	redisrepo "waste-auth-service/internal/repository/redis"
	"waste-auth-service/internal/repository/scylla"
	"waste-auth-service/internal/service"
	"waste-auth-service/internal/tls"
	"waste-auth-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.Manager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager

	// Caches and repositories
	otpCache       *redisrepo.OTPCache
	lockoutCache   *redisrepo.LockoutCache
	rateLimitCache *redisrepo.RateLimitCache
	tokenCache     *redisrepo.TokenCache
	userRepository scylla.UserRepository
	deviceRepo     scylla.BiometricDeviceRepository
	auditRepo      *clickhouse.AuditRepository

	// Notification delivery
	gateway *notify.Gateway

	// Services
	events           *service.SecurityEventEmitter
	otpService       *service.OTPService
	guardService     *service.GuardService
	tokenService     *service.TokenService
	biometricService *service.BiometricService
	authService      *service.AuthService

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewManager(cfg)
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeManagers(); err != nil {
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis
	if rc, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = rc
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	// ScyllaDB
	if sc, err := scylla.NewScyllaClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = sc
		if err := f.scyllaClient.HealthCheck(); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		} else {
			util.Info("ScyllaDB client initialized and healthy")
		}
	}

	// Kafka is best-effort: security events degrade to log-only
	if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
		util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
		util.Info("Kafka producer initialized")
	}

	// Elasticsearch is best-effort for the same reason
	if ec, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
		util.Warn("Elasticsearch initialization failed - proceeding without event index", util.ErrorField(err))
	} else {
		f.esClient = ec
		util.Info("Elasticsearch client initialized")
	}

	// ClickHouse
	if ch, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
	} else {
		f.clickhouseClient = ch
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
		} else {
			util.Info("ClickHouse client initialized and healthy")
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeManagers initializes hashing, encryption, and bucketing managers
func (f *Factory) initializeManagers() error {
	f.hasher = hashing.NewHasher(f.config)

	em, err := encryption.NewEncryptionManager(f.config)
	if err != nil {
		return err
	}
	f.encryptionManager = em
	f.bucketingManager = bucketing.NewBucketingManager(f.config)

	util.Info("Managers initialized successfully",
		util.Bool("hashing_initialized", f.hasher != nil),
		util.Bool("encryption_initialized", f.encryptionManager != nil),
		util.Bool("bucketing_initialized", f.bucketingManager != nil),
	)
	return nil
}

// ==============================
// Caches and Repositories
// ==============================

func (f *Factory) OTPCache() *redisrepo.OTPCache {
	if f.otpCache == nil {
		f.otpCache = redisrepo.NewOTPCache(f.redisClient)
	}
	return f.otpCache
}

func (f *Factory) LockoutCache() *redisrepo.LockoutCache {
	if f.lockoutCache == nil {
		f.lockoutCache = redisrepo.NewLockoutCache(f.redisClient)
	}
	return f.lockoutCache
}

func (f *Factory) RateLimitCache() *redisrepo.RateLimitCache {
	if f.rateLimitCache == nil {
		f.rateLimitCache = redisrepo.NewRateLimitCache(f.redisClient)
	}
	return f.rateLimitCache
}

func (f *Factory) TokenCache() *redisrepo.TokenCache {
	if f.tokenCache == nil {
		f.tokenCache = redisrepo.NewTokenCache(f.redisClient)
	}
	return f.tokenCache
}

func (f *Factory) UserRepository() scylla.UserRepository {
	if f.userRepository == nil {
		f.userRepository = scylla.NewUserRepository(f.scyllaClient, f.BucketingManager())
	}
	return f.userRepository
}

func (f *Factory) DeviceRepository() scylla.BiometricDeviceRepository {
	if f.deviceRepo == nil {
		f.deviceRepo = scylla.NewDeviceRepository(f.scyllaClient, f.BucketingManager())
	}
	return f.deviceRepo
}

func (f *Factory) AuditRepository() *clickhouse.AuditRepository {
	if f.auditRepo == nil && f.clickhouseClient != nil {
		f.auditRepo = clickhouse.NewAuditRepository(f.clickhouseClient, f.BucketingManager())
	}
	return f.auditRepo
}

// ==============================
// Notification Gateway
// ==============================

func (f *Factory) NotificationGateway() *notify.Gateway {
	if f.gateway == nil {
		f.gateway = notify.NewGateway(f.config,
			notify.NewSMSSender(f.config),
			notify.NewEmailSender(f.config),
		)
	}
	return f.gateway
}

// ==============================
// Services
// ==============================

func (f *Factory) SecurityEventEmitter() *service.SecurityEventEmitter {
	if f.events == nil {
		f.events = service.NewSecurityEventEmitter(f.kafkaProducer, f.esClient, f.BucketingManager())
	}
	return f.events
}

func (f *Factory) OTPService() *service.OTPService {
	if f.otpService == nil {
		f.otpService = service.NewOTPService(
			f.OTPCache(),
			f.Hasher(),
			f.NotificationGateway(),
			f.SecurityEventEmitter(),
			f.config,
		)
	}
	return f.otpService
}

func (f *Factory) GuardService() *service.GuardService {
	if f.guardService == nil {
		f.guardService = service.NewGuardService(
			f.LockoutCache(),
			f.RateLimitCache(),
			f.SecurityEventEmitter(),
			f.config,
		)
	}
	return f.guardService
}

func (f *Factory) TokenService() *service.TokenService {
	if f.tokenService == nil {
		f.tokenService = service.NewTokenService(f.TokenCache(), f.config)
	}
	return f.tokenService
}

func (f *Factory) BiometricService() *service.BiometricService {
	if f.biometricService == nil {
		var audit service.AuditSink
		if r := f.AuditRepository(); r != nil {
			audit = r
		}
		f.biometricService = service.NewBiometricService(
			f.DeviceRepository(),
			f.UserRepository(),
			audit,
			f.SecurityEventEmitter(),
			f.config,
		)
	}
	return f.biometricService
}

func (f *Factory) AuthService() *service.AuthService {
	if f.authService == nil {
		var audit service.LoginAuditSink
		if r := f.AuditRepository(); r != nil {
			audit = r
		}
		f.authService = service.NewAuthService(
			f.UserRepository(),
			f.Hasher(),
			f.OTPService(),
			f.GuardService(),
			f.TokenService(),
			f.EncryptionManager(),
			audit,
			f.config,
		)
	}
	return f.authService
}

// ==============================
// Handlers
// ==============================

func (f *Factory) AuthHandler() *handler.AuthHandler {
	return handler.NewAuthHandler(
		f.AuthService(),
		f.OTPService(),
		f.GuardService(),
		f.TokenService(),
		util.Get(),
	)
}

func (f *Factory) BiometricHandler() *handler.BiometricHandler {
	return handler.NewBiometricHandler(
		f.BiometricService(),
		f.AuthService(),
		f.GuardService(),
		util.Get(),
	)
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(); err != nil {
			healthErrors["scylla"] = err
		}
	} else {
		healthErrors["scylla"] = fmt.Errorf("scylla client not initialized")
	}

	if f.esClient != nil {
		if err := f.esClient.HealthCheck(); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	} else {
		healthErrors["clickhouse"] = fmt.Errorf("clickhouse client not initialized")
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	if f.hasher == nil {
		healthErrors["hasher"] = fmt.Errorf("hasher not initialized")
	}
	if f.encryptionManager == nil {
		healthErrors["encryption"] = fmt.Errorf("encryption manager not initialized")
	}
	if f.bucketingManager == nil {
		healthErrors["bucketing"] = fmt.Errorf("bucketing manager not initialized")
	}

	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	// Event plumbing is best-effort; it never fails readiness
	delete(healthErrors, "kafka")
	delete(healthErrors, "elasticsearch")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.gateway != nil {
			f.gateway.Close()
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
			util.Info("Encryption manager cache cleared")
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.Manager {
	return f.tlsManager
}

func (f *Factory) ScyllaClient() *scylla.ScyllaClient {
	return f.scyllaClient
}

func (f *Factory) Hasher() *hashing.Hasher {
	return f.hasher
}

func (f *Factory) EncryptionManager() *encryption.EncryptionManager {
	return f.encryptionManager
}

func (f *Factory) BucketingManager() *bucketing.BucketingManager {
	return f.bucketingManager
}
