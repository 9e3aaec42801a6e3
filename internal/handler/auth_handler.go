package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"waste-auth-service/internal/models"
	"waste-auth-service/internal/service"
	"waste-auth-service/internal/util"
)

// AuthHandler exposes OTP issuance, password login, token rotation, and the
// administrative unlock.
type AuthHandler struct {
	auth   *service.AuthService
	otp    *service.OTPService
	guard  *service.GuardService
	tokens *service.TokenService
	logger *zap.Logger
}

func NewAuthHandler(
	auth *service.AuthService,
	otp *service.OTPService,
	guard *service.GuardService,
	tokens *service.TokenService,
	logger *zap.Logger,
) *AuthHandler {
	return &AuthHandler{
		auth:   auth,
		otp:    otp,
		guard:  guard,
		tokens: tokens,
		logger: logger,
	}
}

func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/otp/send", h.SendOTP)
		r.Post("/otp/verify", h.VerifyOTP)
		r.Post("/login", h.Login)
		r.Post("/login/complete", h.CompleteLogin)
		r.Post("/token/refresh", h.RefreshToken)
		r.Post("/logout", h.Logout)

		// Administrative
		r.Post("/accounts/{username}/unlock", h.UnlockAccount)
		r.Get("/accounts/{username}/lock", h.LockStatus)
	})
}

type sendOTPRequest struct {
	Channel    string `json:"channel"`
	Purpose    string `json:"purpose"`
	Identifier string `json:"identifier"`
}

// SendOTP issues a one-time code to a phone number or email address.
func (h *AuthHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	identifier, err := normalizeIdentifier(req.Channel, req.Identifier)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid identifier")
		return
	}
	if req.Purpose == "" {
		req.Purpose = models.OTPPurposeGeneric
	}

	expiry, err := h.otp.Send(r.Context(), req.Channel, req.Purpose, identifier)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to send verification code")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"expires_in": int(expiry.Seconds()),
	}, "Verification code sent"))
}

type verifyOTPRequest struct {
	Channel    string `json:"channel"`
	Purpose    string `json:"purpose"`
	Identifier string `json:"identifier"`
	Code       string `json:"code"`
}

// VerifyOTP checks a standalone code, e.g. for account verification flows.
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	identifier, err := normalizeIdentifier(req.Channel, req.Identifier)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid identifier")
		return
	}
	if req.Purpose == "" {
		req.Purpose = models.OTPPurposeGeneric
	}

	remaining, err := h.otp.Verify(req.Channel, req.Purpose, identifier, req.Code)
	if err != nil {
		if errors.Is(err, service.ErrOTPInvalid) {
			resp := errorResponse(err, fmt.Sprintf("Invalid code. %d attempts remaining.", remaining))
			resp.Data = map[string]interface{}{
				"remaining_attempts": remaining,
			}
			respondWithJSON(w, getStatusCode(err), resp)
			return
		}
		respondWithError(w, getStatusCode(err), err, "Verification failed")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"verified": true,
	}, "Code verified"))
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login validates the first factor and dispatches the login OTP.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	start, err := h.auth.PasswordLogin(r.Context(), req.Username, req.Password, r.RemoteAddr)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Login failed")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"otp_sent": start.OTPSent,
		"user_id":  start.UserID,
		"channel":  start.Channel,
	}, "Verification code sent"))

	h.logger.Info("Login initiated via HTTP",
		util.String("user_id", start.UserID),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "Login"),
	)
}

type completeLoginRequest struct {
	Username string `json:"username"`
	Code     string `json:"code"`
}

// CompleteLogin verifies the login OTP and returns the token pair.
func (h *AuthHandler) CompleteLogin(w http.ResponseWriter, r *http.Request) {
	var req completeLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	result, err := h.auth.CompleteLogin(r.Context(), req.Username, req.Code, r.RemoteAddr)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Login failed")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(loginPayload(result), "Login successful"))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshToken rotates a refresh token for a new pair.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	pair, record, err := h.tokens.Refresh(req.RefreshToken)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Token refresh failed")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"expires_in":    pair.ExpiresIn,
		"user_id":       record.UserID,
	}, "Token refreshed"))
}

// Logout revokes the presented refresh token. A missing body or token is a
// no-op: logging out an already-ended session still succeeds.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.auth.Logout(req.RefreshToken); err != nil {
		respondWithError(w, getStatusCode(err), err, "Logout failed")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(nil, "Logged out"))
}

type unlockRequest struct {
	AdminID string `json:"admin_id"`
}

// UnlockAccount is the administrative override for a locked account.
func (h *AuthHandler) UnlockAccount(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	var req unlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.guard.Unlock(username, req.AdminID); err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to unlock account")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(nil, "Account unlocked"))
}

// LockStatus reports whether an account is currently locked.
func (h *AuthHandler) LockStatus(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	locked, ttl, err := h.guard.IsLocked(username)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to check lock status")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"locked":     locked,
		"unlocks_in": int(ttl.Seconds()),
	}, ""))
}

func loginPayload(result *service.LoginResult) map[string]interface{} {
	return map[string]interface{}{
		"access_token":  result.Tokens.AccessToken,
		"refresh_token": result.Tokens.RefreshToken,
		"expires_in":    result.Tokens.ExpiresIn,
		"user_info": map[string]interface{}{
			"user_id":   result.User.UserID,
			"username":  result.User.Username,
			"status":    result.User.Status,
			"family_id": result.User.FamilyID,
		},
	}
}

func normalizeIdentifier(channel, identifier string) (string, error) {
	switch channel {
	case models.OTPChannelEmail:
		return util.NormalizeEmail(identifier), nil
	default:
		return util.NormalizePhone(identifier)
	}
}
