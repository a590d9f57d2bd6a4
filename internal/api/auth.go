package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"studylib/internal/constants"
	"studylib/internal/models"
	"studylib/internal/session"
	"studylib/internal/verification"
)

type AuthHandler struct {
	verifier *verification.Service
	issuer   *session.Issuer
}

func NewAuthHandler(verifier *verification.Service, issuer *session.Issuer) *AuthHandler {
	return &AuthHandler{verifier: verifier, issuer: issuer}
}

// AuthResponse is the envelope returned by every auth endpoint.
type AuthResponse struct {
	Success              bool                   `json:"success"`
	Message              string                 `json:"message"`
	Code                 string                 `json:"code,omitempty"`
	UserID               string                 `json:"userId,omitempty"`
	Email                string                 `json:"email,omitempty"`
	RequiresVerification bool                   `json:"requiresVerification,omitempty"`
	AutoVerified         bool                   `json:"autoVerified,omitempty"`
	EmailSent            *bool                  `json:"emailSent,omitempty"`
	AccessToken          string                 `json:"accessToken,omitempty"`
	RefreshToken         string                 `json:"refreshToken,omitempty"`
	ExpiresAt            string                 `json:"expiresAt,omitempty"`
	User                 *models.AccountSummary `json:"user,omitempty"`
}

// POST /auth/register
type RegisterRequest struct {
	Name     string `json:"name" form:"name" validate:"required,max=100"`
	Email    string `json:"email" form:"email" validate:"required,email,max=254"`
	Password string `json:"password" form:"password" validate:"required,max=128"`
}

func (req *RegisterRequest) normalize() {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeRequest(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	result, err := h.verifier.Register(r.Context(), verification.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	account := result.Account
	resp := AuthResponse{
		Success: true,
		UserID:  account.ID,
		Email:   account.Email,
	}

	switch result.Outcome {
	case verification.OutcomeAutoVerified:
		resp.AutoVerified = true
		resp.EmailSent = boolPtr(false)
		resp.User = account.Summary()
		resp.Message = "Registration successful. You can log in now."
	default:
		resp.RequiresVerification = true
		resp.EmailSent = boolPtr(result.EmailSent)
		resp.Message = "Registration successful. Please check your email for the verification code."
		if !result.EmailSent {
			resp.Code = ErrCodeSendFailure
			resp.Message = "Registration successful, but we could not email your verification code. Please request a new code."
		}
	}

	writeJSON(w, http.StatusCreated, resp)
}

// POST /auth/verify-otp
// Either email or userId names the account; otp and code are synonyms.
type VerifyOTPRequest struct {
	Email  string  `json:"email" form:"email" validate:"omitempty,email,max=254"`
	UserID string  `json:"userId" form:"userId" validate:"omitempty,max=64"`
	OTP    otpCode `json:"otp" form:"otp" validate:"omitempty,len=6,numeric"`
	Code   otpCode `json:"code" form:"code" validate:"omitempty,len=6,numeric"`
}

func (req *VerifyOTPRequest) normalize() {
	req.Email = strings.TrimSpace(req.Email)
	req.UserID = strings.TrimSpace(req.UserID)
	req.OTP = otpCode(strings.TrimSpace(string(req.OTP)))
	req.Code = otpCode(strings.TrimSpace(string(req.Code)))
}

// otpCode accepts a JSON string or number. Numbers drop leading zeros, so
// they are padded back to the code length.
type otpCode string

func (c *otpCode) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = otpCode(s)
		return nil
	}

	n, err := strconv.ParseUint(string(data), 10, 32)
	if err != nil {
		return fmt.Errorf("otp must be digits: %w", err)
	}
	*c = otpCode(fmt.Sprintf("%0*d", constants.OTPLength, n))
	return nil
}

func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if err := decodeRequest(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	if req.Email == "" && req.UserID == "" {
		badRequest(w, "email or userId is required")
		return
	}
	code := string(req.OTP)
	if code == "" {
		code = string(req.Code)
	}
	if code == "" {
		badRequest(w, "otp is required")
		return
	}

	account, err := h.verifier.VerifyCode(r.Context(), verification.AccountRef{ID: req.UserID, Email: req.Email}, code)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, AuthResponse{
		Success: true,
		Message: "Email verified successfully. You can log in now.",
		UserID:  account.ID,
		Email:   account.Email,
		User:    account.Summary(),
	})
}

// POST /auth/resend-otp
type ResendOTPRequest struct {
	Email  string `json:"email" form:"email" validate:"omitempty,email,max=254"`
	UserID string `json:"userId" form:"userId" validate:"omitempty,max=64"`
}

func (req *ResendOTPRequest) normalize() {
	req.Email = strings.TrimSpace(req.Email)
	req.UserID = strings.TrimSpace(req.UserID)
}

func (h *AuthHandler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	var req ResendOTPRequest
	if err := decodeRequest(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.Email == "" && req.UserID == "" {
		badRequest(w, "email or userId is required")
		return
	}

	result, err := h.verifier.ResendCode(r.Context(), verification.AccountRef{ID: req.UserID, Email: req.Email})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	resp := AuthResponse{
		Success:              true,
		UserID:               result.Account.ID,
		Email:                result.Account.Email,
		RequiresVerification: true,
		EmailSent:            boolPtr(result.Sent),
		Message:              "A new verification code has been sent to your email.",
	}
	if !result.Sent {
		resp.Code = ErrCodeSendFailure
		resp.Message = "A new verification code was issued but could not be emailed. Please try again later or contact support."
	}

	writeJSON(w, http.StatusOK, resp)
}

// POST /auth/login
type LoginRequest struct {
	Email    string `json:"email" form:"email" validate:"required,email,max=254"`
	Password string `json:"password" form:"password" validate:"required,max=128"`
}

func (req *LoginRequest) normalize() {
	req.Email = strings.TrimSpace(req.Email)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeRequest(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	result, err := h.issuer.Login(r.Context(), req.Email, req.Password)
	var vErr *session.VerificationRequiredError
	if errors.As(err, &vErr) {
		message := "Please verify your email before logging in."
		if vErr.CodeSent() {
			message = "Please verify your email before logging in. A new verification code has been sent."
		}
		writeJSON(w, http.StatusForbidden, AuthResponse{
			Message:              message,
			Code:                 ErrCodeVerificationRequired,
			UserID:               vErr.Account.ID,
			Email:                vErr.Account.Email,
			RequiresVerification: true,
			EmailSent:            boolPtr(vErr.CodeSent()),
		})
		return
	}
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse("Login successful", result))
}

// POST /auth/refresh
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" form:"refreshToken" validate:"required,max=256"`
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeRequest(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	result, err := h.issuer.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse("Token refreshed", result))
}

// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	accountID := GetAccountID(r)
	if accountID == "" {
		unauthorized(w, "Account not found in context")
		return
	}

	if err := h.issuer.Logout(r.Context(), accountID); err != nil {
		writeDomainError(w, r, err)
		return
	}

	slog.Info("logout", "account_id", accountID)
	writeJSON(w, http.StatusOK, AuthResponse{Success: true, Message: "Logged out successfully"})
}

func sessionResponse(message string, result *session.LoginResult) AuthResponse {
	summary := result.Account.Summary()
	summary.OnlineStatus = result.OnlineStatus
	return AuthResponse{
		Success:      true,
		Message:      message,
		UserID:       result.Account.ID,
		Email:        result.Account.Email,
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
		ExpiresAt:    result.Tokens.ExpiresAt.UTC().Format(timeFormat),
		User:         summary,
	}
}

func boolPtr(v bool) *bool {
	return &v
}
