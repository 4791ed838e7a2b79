package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"authgate/internal/observability"
)

const (
	maxJSONBodyBytes = 1 << 20
	maxFormBodyBytes = 64 << 10

	accessTokenCookie = "access_token"
	loginRetryAfter   = 60
	defaultListLimit  = 100
	maxListLimit      = 500
)

// CSRFIssuer sets a fresh CSRF cookie on the response and returns its value.
type CSRFIssuer interface {
	IssueCookie(w http.ResponseWriter) (string, error)
}

type Handler struct {
	service *Service
	csrf    CSRFIssuer
	logger  *observability.Logger
}

func NewHandler(service *Service, csrf CSRFIssuer, logger *observability.Logger) *Handler {
	return &Handler{service: service, csrf: csrf, logger: logger}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBodyBytes)
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	username := r.PostForm.Get("username")
	password := r.PostForm.Get("password")

	tokens, err := h.service.Login(r.Context(), username, password, clientMeta(r))
	if err != nil {
		switch {
		case errors.Is(err, ErrTooManyAttempts):
			w.Header().Set("Retry-After", strconv.Itoa(loginRetryAfter))
			writeError(w, http.StatusTooManyRequests, "too many login attempts")
		case errors.Is(err, ErrInvalidCredentials),
			errors.Is(err, ErrAccountLocked),
			errors.Is(err, ErrAccountInactive):
			writeError(w, http.StatusUnauthorized, "invalid credentials")
		default:
			h.internalError(w, "login", err)
		}
		return
	}

	if h.csrf != nil {
		if _, err := h.csrf.IssueCookie(w); err != nil {
			h.internalError(w, "login", err)
			return
		}
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, tokens)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body refreshRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	tokens, err := h.service.Refresh(r.Context(), body.RefreshToken, clientMeta(r))
	if err != nil {
		if isCredentialError(err) {
			writeError(w, http.StatusUnauthorized, "invalid refresh token")
			return
		}
		h.internalError(w, "refresh", err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, tokens)
}

// Logout always answers 200, whatever the state of the presented token.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		if cookie, err := r.Cookie(accessTokenCookie); err == nil {
			token = cookie.Value
		}
	}

	h.service.Logout(r.Context(), token)

	http.SetCookie(w, &http.Cookie{
		Name:     accessTokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Successfully logged out"})
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body RegisterInput
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	user, err := h.service.Register(r.Context(), body)
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateUsername):
			writeError(w, http.StatusBadRequest, "username already registered")
		case errors.Is(err, ErrDuplicateEmail):
			writeError(w, http.StatusBadRequest, "email already registered")
		case errors.Is(err, ErrWeakPassword):
			writeError(w, http.StatusBadRequest, "password must be at least 8 characters and contain upper and lower case letters, a digit and one of @$!%*?&")
		case errors.Is(err, ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "invalid registration data")
		default:
			h.internalError(w, "register", err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, user.View())
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, user.View())
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(parsed, maxListLimit)
	}

	users, err := h.service.ListUsers(r.Context(), limit)
	if err != nil {
		h.internalError(w, "list_users", err)
		return
	}

	views := make([]UserView, 0, len(users))
	for _, user := range users {
		views = append(views, user.View())
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": views})
}

func (h *Handler) internalError(w http.ResponseWriter, operation string, err error) {
	h.logger.Error("auth_request_failed", map[string]any{"operation": operation, "error": err.Error()})
	observability.CaptureError(err, map[string]string{"operation": operation})
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func isCredentialError(err error) bool {
	return errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenRevokedOrUnknown) ||
		errors.Is(err, ErrTokenKindMismatch) ||
		errors.Is(err, ErrMalformedToken) ||
		errors.Is(err, ErrAccountInactive) ||
		errors.Is(err, ErrUnauthenticated)
}

func clientMeta(r *http.Request) ClientMeta {
	return ClientMeta{
		UserAgent: r.UserAgent(),
		IPAddress: observability.ClientIP(r),
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
