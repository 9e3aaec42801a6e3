package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"waste-auth-service/internal/models"
	"waste-auth-service/internal/service"
	"waste-auth-service/internal/util"
)

// BiometricHandler exposes the device registry and the challenge-response
// protocol.
type BiometricHandler struct {
	biometric *service.BiometricService
	auth      *service.AuthService
	guard     *service.GuardService
	logger    *zap.Logger
}

func NewBiometricHandler(
	biometric *service.BiometricService,
	auth *service.AuthService,
	guard *service.GuardService,
	logger *zap.Logger,
) *BiometricHandler {
	return &BiometricHandler{
		biometric: biometric,
		auth:      auth,
		guard:     guard,
		logger:    logger,
	}
}

func (h *BiometricHandler) RegisterRoutes(router chi.Router) {
	router.Route("/biometric", func(r chi.Router) {
		r.Post("/devices", h.RegisterDevice)
		r.Get("/devices/{userID}", h.ListDevices)
		r.Delete("/devices/{userID}/{deviceID}", h.RevokeDevice)

		r.Post("/challenge", h.InitChallenge)
		r.Post("/verify", h.VerifyChallenge)
	})
}

type registerDeviceRequest struct {
	UserID            string `json:"user_id"`
	DeviceID          string `json:"device_id"`
	DeviceName        string `json:"device_name"`
	DeviceType        string `json:"device_type"`
	PublicKey         string `json:"public_key"`
	CredentialID      string `json:"credential_id"`
	DeviceFingerprint string `json:"device_fingerprint"`
}

// RegisterDevice stores a new device credential.
func (h *BiometricHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var req registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	device, err := h.biometric.Register(req.UserID, &service.DeviceRegistration{
		DeviceID:          req.DeviceID,
		DeviceName:        req.DeviceName,
		DeviceType:        req.DeviceType,
		PublicKey:         req.PublicKey,
		CredentialID:      req.CredentialID,
		DeviceFingerprint: req.DeviceFingerprint,
	})
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to register device")
		return
	}

	respondWithJSON(w, http.StatusCreated, successResponse(devicePayload(device), "Device registered"))

	h.logger.Info("Biometric device registered via HTTP",
		util.String("user_id", req.UserID),
		util.String("device_id", device.DeviceID),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "RegisterDevice"),
	)
}

// ListDevices returns the user's registered devices, credentials redacted.
func (h *BiometricHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	devices, err := h.biometric.ListDevices(userID)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to list devices")
		return
	}

	payload := make([]map[string]interface{}, 0, len(devices))
	for _, d := range devices {
		payload = append(payload, devicePayload(d))
	}

	respondWithJSON(w, http.StatusOK, successResponse(payload, ""))
}

// RevokeDevice permanently deactivates a device credential.
func (h *BiometricHandler) RevokeDevice(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	deviceID := chi.URLParam(r, "deviceID")

	if err := h.biometric.Revoke(userID, deviceID); err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to revoke device")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(nil, "Device revoked"))
}

type challengeRequest struct {
	DeviceID     string `json:"device_id"`
	CredentialID string `json:"credential_id"`
}

// InitChallenge issues a fresh challenge for the device named by the
// {device_id, credential_id} pair.
func (h *BiometricHandler) InitChallenge(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.guard.CheckBiometricAllowed(r.RemoteAddr); err != nil {
		respondWithError(w, getStatusCode(err), err, "Too many requests")
		return
	}

	issue, err := h.biometric.InitChallenge(req.DeviceID, req.CredentialID)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to issue challenge")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"challenge":  issue.Challenge,
		"user_id":    issue.UserID,
		"expires_in": issue.ExpiresIn,
	}, ""))
}

type verifyChallengeRequest struct {
	DeviceID          string `json:"device_id"`
	CredentialID      string `json:"credential_id"`
	Challenge         string `json:"challenge"`
	Signature         string `json:"signature"`
	DeviceFingerprint string `json:"device_fingerprint"`
}

// VerifyChallenge checks the signed challenge and completes the login.
func (h *BiometricHandler) VerifyChallenge(w http.ResponseWriter, r *http.Request) {
	var req verifyChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.guard.CheckBiometricAllowed(r.RemoteAddr); err != nil {
		respondWithError(w, getStatusCode(err), err, "Too many requests")
		return
	}

	user, device, err := h.biometric.VerifyChallenge(r.Context(), &service.ChallengeVerification{
		DeviceID:          req.DeviceID,
		CredentialID:      req.CredentialID,
		Challenge:         req.Challenge,
		Signature:         req.Signature,
		DeviceFingerprint: req.DeviceFingerprint,
	}, r.RemoteAddr)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Verification failed")
		return
	}

	result, err := h.auth.CompleteBiometricLogin(r.Context(), user, device.DeviceID, r.RemoteAddr)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Login failed")
		return
	}

	payload := loginPayload(result)
	payload["device_info"] = devicePayload(device)
	respondWithJSON(w, http.StatusOK, successResponse(payload, "Login successful"))
}

// devicePayload strips credential material before a device row leaves the
// service.
func devicePayload(d *models.BiometricDevice) map[string]interface{} {
	payload := map[string]interface{}{
		"device_id":       d.DeviceID,
		"device_name":     d.DeviceName,
		"device_type":     d.DeviceType,
		"is_active":       d.IsActive,
		"is_trusted":      d.IsTrusted,
		"failed_attempts": d.FailedAttempts,
		"created_at":      d.CreatedAt.UTC().Format(time.RFC3339),
	}
	if d.LastUsedAt != nil {
		payload["last_used_at"] = d.LastUsedAt.UTC().Format(time.RFC3339)
	}
	return payload
}
