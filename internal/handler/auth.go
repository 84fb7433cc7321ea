package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/dukerupert/mealmood/internal/auth"
	"github.com/dukerupert/mealmood/internal/model"
	"github.com/dukerupert/mealmood/internal/store"
)

var credentialsValidator = validator.New(validator.WithRequiredStructEnabled())

type AuthHandler struct {
	userStore *store.UserStore
	tokens    *auth.Tokens
	logger    *slog.Logger
}

func NewAuthHandler(us *store.UserStore, tokens *auth.Tokens, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{userStore: us, tokens: tokens, logger: logger.With("component", "auth")}
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Name     string `json:"name" validate:"max=100"`
	Password string `json:"password" validate:"required"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type tokenResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      *model.User `json:"user"`
}

func credentialsErr(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			return model.Invalid(field, "is required")
		case "email":
			return model.Invalid(field, "must be a valid email address")
		default:
			return model.Invalid(field, "is too long")
		}
	}
	return model.Invalid("", err.Error())
}

func (h *AuthHandler) issue(w http.ResponseWriter, status int, user *model.User) {
	token, exp, err := h.tokens.Issue(user.ID, user.Email)
	if err != nil {
		h.logger.Error("issue token", "user_id", user.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorBody{Error: "internal error", Code: "internal"})
		return
	}
	writeJSON(w, status, tokenResponse{Token: token, ExpiresAt: exp, User: user})
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, h.logger, err)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	if err := credentialsValidator.Struct(req); err != nil {
		WriteError(w, h.logger, credentialsErr(err))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if errors.Is(err, auth.ErrPasswordTooShort) {
		WriteError(w, h.logger, model.Invalid("password", err.Error()))
		return
	}
	if err != nil {
		h.logger.Error("hash password", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorBody{Error: "internal error", Code: "internal"})
		return
	}

	user, err := h.userStore.Create(r.Context(), req.Email, req.Name, hash)
	if errors.Is(err, store.ErrEmailTaken) {
		writeJSON(w, http.StatusConflict, ErrorBody{Error: err.Error(), Code: "email_taken"})
		return
	}
	if err != nil {
		h.logger.Error("create user", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, ErrorBody{Error: "storage unavailable", Code: "store_failure"})
		return
	}
	h.logger.Info("user registered", "user_id", user.ID)
	h.issue(w, http.StatusCreated, user)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, h.logger, err)
		return
	}
	if err := credentialsValidator.Struct(req); err != nil {
		WriteError(w, h.logger, credentialsErr(err))
		return
	}

	user, err := h.userStore.GetByEmail(r.Context(), req.Email)
	if err != nil {
		h.logger.Error("login lookup", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, ErrorBody{Error: "storage unavailable", Code: "store_failure"})
		return
	}
	// Same response for unknown email and wrong password.
	if user == nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		writeJSON(w, http.StatusUnauthorized, ErrorBody{Error: "invalid email or password", Code: "unauthorized"})
		return
	}
	h.issue(w, http.StatusOK, user)
}

// Me returns the authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.userStore.GetByID(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("load user", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, ErrorBody{Error: "storage unavailable", Code: "store_failure"})
		return
	}
	if user == nil {
		writeJSON(w, http.StatusNotFound, ErrorBody{Error: "user not found", Code: "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, user)
}
