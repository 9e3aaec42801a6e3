package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waste-auth-service/internal/client"
	"waste-auth-service/internal/config"
	"waste-auth-service/internal/hashing"
	"waste-auth-service/internal/notify"
	redisrepo "waste-auth-service/internal/repository/redis"
	"waste-auth-service/internal/service"
	"waste-auth-service/internal/util"
)

var otpCodePattern = regexp.MustCompile(`[0-9]{6}`)

// captureSender keeps delivered messages so tests can read the code out of
// the rendered body.
type captureSender struct {
	delivered chan notify.Message
}

func (s *captureSender) Deliver(_ context.Context, msg notify.Message) error {
	s.delivered <- msg
	return nil
}

func (s *captureSender) Channel() string { return notify.ChannelSMS }

// routerFixture wires the Redis-backed endpoints against miniredis. The
// durable-store services are left nil; their routes are registered but not
// exercised here.
type routerFixture struct {
	router http.Handler
	guard  *service.GuardService
	tokens *service.TokenService
	otp    *service.OTPService
	sms    *captureSender
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	rc := client.NewRedisClientFromExisting(rdb, &config.RedisConfig{})

	cfg := &config.Config{
		Environment: "development",
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  8192,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
		},
		OTP: config.OTPConfig{
			Length:      6,
			Expiry:      5 * time.Minute,
			MaxAttempts: 3,
		},
		Lockout: config.LockoutConfig{
			Threshold: 5,
			Window:    30 * time.Minute,
			Duration:  30 * time.Minute,
		},
		RateLimit: config.RateLimitConfig{
			LoginLimit:      10,
			LoginWindow:     15 * time.Minute,
			BiometricLimit:  15,
			BiometricWindow: 15 * time.Minute,
		},
		Token: config.TokenConfig{
			Secret:     "test-secret",
			Issuer:     "waste-auth-service",
			AccessTTL:  time.Hour,
			RefreshTTL: 720 * time.Hour,
		},
		Notify: config.NotifyConfig{
			QueueSize:  16,
			Workers:    1,
			MaxRetries: 0,
			RetryBase:  time.Millisecond,
		},
	}

	sms := &captureSender{delivered: make(chan notify.Message, 16)}
	gateway := notify.NewGateway(cfg, sms)
	t.Cleanup(gateway.Close)

	emitter := service.NewSecurityEventEmitter(nil, nil, nil)
	guard := service.NewGuardService(redisrepo.NewLockoutCache(rc), redisrepo.NewRateLimitCache(rc), emitter, cfg)
	tokens := service.NewTokenService(redisrepo.NewTokenCache(rc), cfg)
	otp := service.NewOTPService(redisrepo.NewOTPCache(rc), hashing.NewHasher(cfg), gateway, emitter, cfg)
	auth := service.NewAuthService(nil, nil, otp, guard, tokens, nil, nil, cfg)

	authHandler := NewAuthHandler(auth, otp, guard, tokens, util.Get())
	biometricHandler := NewBiometricHandler(nil, nil, guard, util.Get())

	return &routerFixture{
		router: NewRouter(cfg, authHandler, biometricHandler, util.Get()),
		guard:  guard,
		tokens: tokens,
		otp:    otp,
		sms:    sms,
	}
}

func (fx *routerFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	fx := newRouterFixture(t)

	rec := fx.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "waste-auth-service", body["service"])
}

func TestUnknownRoute(t *testing.T) {
	fx := newRouterFixture(t)

	rec := fx.do(t, http.MethodGet, "/api/v1/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	fx := newRouterFixture(t)

	rec := fx.do(t, http.MethodDelete, "/api/v1/auth/login", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestLockStatusEndpoint(t *testing.T) {
	fx := newRouterFixture(t)

	rec := fx.do(t, http.MethodGet, "/api/v1/auth/accounts/resident01/lock", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, false, data["locked"])

	// Lock the account through the policy and read the status back.
	for i := 0; i < 5; i++ {
		_, err := fx.guard.RecordFailure("resident01", "203.0.113.10")
		require.NoError(t, err)
	}

	rec = fx.do(t, http.MethodGet, "/api/v1/auth/accounts/resident01/lock", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	data = resp.Data.(map[string]interface{})
	assert.Equal(t, true, data["locked"])
	assert.Greater(t, data["unlocks_in"].(float64), float64(0))
}

func TestUnlockEndpoint(t *testing.T) {
	fx := newRouterFixture(t)

	for i := 0; i < 5; i++ {
		_, err := fx.guard.RecordFailure("resident01", "203.0.113.10")
		require.NoError(t, err)
	}

	rec := fx.do(t, http.MethodPost, "/api/v1/auth/accounts/resident01/unlock", `{"admin_id":"admin-7"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = fx.do(t, http.MethodGet, "/api/v1/auth/accounts/resident01/lock", "")
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, false, data["locked"])
}

func TestRefreshEndpoint(t *testing.T) {
	fx := newRouterFixture(t)

	rec := fx.do(t, http.MethodPost, "/api/v1/auth/token/refresh", `{"refresh_token":"never-issued"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = fx.do(t, http.MethodPost, "/api/v1/auth/token/refresh", `{"refresh_token":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = fx.do(t, http.MethodPost, "/api/v1/auth/token/refresh", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyOTPReportsRemainingAttempts(t *testing.T) {
	fx := newRouterFixture(t)

	_, err := fx.otp.Send(context.Background(), "sms", "verification", "+66812345678")
	require.NoError(t, err)

	var msg notify.Message
	select {
	case msg = <-fx.sms.delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("no notification delivered")
	}
	code := otpCodePattern.FindString(msg.Body)
	require.Len(t, code, 6)

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	body := fmt.Sprintf(`{"channel":"sms","purpose":"verification","identifier":"+66812345678","code":%q}`, wrong)

	// Each wrong code reports how many attempts are left.
	for _, want := range []float64{2, 1} {
		rec := fx.do(t, http.MethodPost, "/api/v1/auth/otp/verify", body)
		require.Equal(t, http.StatusUnauthorized, rec.Code)

		var resp Response
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		assert.Contains(t, resp.Message, fmt.Sprintf("%d attempts remaining", int(want)))
		data := resp.Data.(map[string]interface{})
		assert.Equal(t, want, data["remaining_attempts"])
	}
}

func TestLogoutEndpoint(t *testing.T) {
	fx := newRouterFixture(t)

	// Logout is idempotent: no body, an empty token, and an unknown token
	// all succeed.
	rec := fx.do(t, http.MethodPost, "/api/v1/auth/logout", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = fx.do(t, http.MethodPost, "/api/v1/auth/logout", `{"refresh_token":""}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = fx.do(t, http.MethodPost, "/api/v1/auth/logout", `{"refresh_token":"never-issued"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}
