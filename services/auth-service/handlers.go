package main

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"emergency-rescue-system/pkg/middleware"
	"emergency-rescue-system/pkg/response"

	"github.com/gorilla/mux"
)

type handler struct {
	auth *authService
	// redirects lists the app URLs a federated callback may return to.
	redirects []string
}

func (h *handler) routes(r *mux.Router, jwtSecret []byte) {
	r.HandleFunc("/api/auth/register", h.register).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/login", h.login).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/refresh", h.refresh).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/logout", h.logout).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/federated", h.federated).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/federated/callback", h.federatedCallback).Methods(http.MethodGet)

	auth := middleware.AuthMiddleware(jwtSecret)
	r.Handle("/api/auth/me", auth(http.HandlerFunc(h.me))).Methods(http.MethodGet)
	r.Handle("/api/auth/me", auth(http.HandlerFunc(h.updateMe))).Methods(http.MethodPut)
	r.Handle("/api/auth/me/availability", auth(http.HandlerFunc(h.setAvailability))).Methods(http.MethodPut)
}

func writeAuthError(w http.ResponseWriter, r *http.Request, action string, err error) {
	var verr *validationError
	switch {
	case errors.As(err, &verr):
		response.Error(w, http.StatusBadRequest, verr.msg, "")
	case errors.Is(err, errEmailTaken):
		response.Error(w, http.StatusConflict, "Email already registered", "")
	case errors.Is(err, errInvalidCredentials):
		response.Error(w, http.StatusUnauthorized, "Invalid email or password", "")
	case errors.Is(err, errInvalidToken):
		response.Error(w, http.StatusUnauthorized, "Invalid refresh token", "")
	case errors.Is(err, errInvalidIdentity):
		response.Error(w, http.StatusUnauthorized, "Invalid identity token", "")
	case errors.Is(err, errNotRescuer):
		response.Error(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, errNotFound):
		response.Error(w, http.StatusNotFound, "User not found", "")
	default:
		middleware.LogError(middleware.GetTraceID(r), "Failed to "+action, err)
		middleware.CaptureError(err)
		response.Error(w, http.StatusInternalServerError, "Failed to "+action, "")
	}
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var input registerInput
	if err := response.Decode(r, &input); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", "")
		return
	}

	pair, err := h.auth.Register(r.Context(), input)
	if err != nil {
		writeAuthError(w, r, "register", err)
		return
	}
	response.Success(w, http.StatusCreated, "User registered successfully", pair)
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := response.Decode(r, &input); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", "")
		return
	}

	pair, err := h.auth.Login(r.Context(), input.Email, input.Password)
	if err != nil {
		writeAuthError(w, r, "login", err)
		return
	}
	response.Success(w, http.StatusOK, "Login successful", pair)
}

type refreshInput struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	var input refreshInput
	if err := response.Decode(r, &input); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", "")
		return
	}

	pair, err := h.auth.Refresh(r.Context(), input.RefreshToken)
	if err != nil {
		writeAuthError(w, r, "refresh session", err)
		return
	}
	response.Success(w, http.StatusOK, "Session refreshed", pair)
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	var input refreshInput
	if err := response.Decode(r, &input); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", "")
		return
	}

	if err := h.auth.Logout(r.Context(), input.RefreshToken); err != nil {
		writeAuthError(w, r, "logout", err)
		return
	}
	response.Success(w, http.StatusOK, "Logged out", nil)
}

// federated exchanges an identity token for a session in the JSON envelope.
func (h *handler) federated(w http.ResponseWriter, r *http.Request) {
	var input struct {
		IDToken string `json:"id_token"`
	}
	if err := response.Decode(r, &input); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", "")
		return
	}

	pair, err := h.auth.FederatedSignIn(r.Context(), input.IDToken)
	if err != nil {
		writeAuthError(w, r, "sign in", err)
		return
	}
	response.Success(w, http.StatusOK, "Login successful", pair)
}

// federatedCallback is where the identity broker sends the browser. The token
// pair goes back to the app in the redirect URL fragment:
// redirect_uri#access_token=...&refresh_token=...
func (h *handler) federatedCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target := q.Get("redirect_uri")
	if !h.allowedRedirect(target) {
		response.Error(w, http.StatusBadRequest, "Redirect URI not allowed", "")
		return
	}

	fragment := url.Values{}
	pair, err := h.auth.FederatedSignIn(r.Context(), q.Get("id_token"))
	switch {
	case err == nil:
		fragment.Set("access_token", pair.AccessToken)
		fragment.Set("refresh_token", pair.RefreshToken)
		fragment.Set("expires_in", strconv.FormatInt(pair.ExpiresIn, 10))
		fragment.Set("token_type", "bearer")
	case errors.Is(err, errInvalidIdentity):
		fragment.Set("error", "access_denied")
		fragment.Set("error_description", "Invalid identity token")
	default:
		middleware.LogError(middleware.GetTraceID(r), "Failed to complete federated sign-in", err)
		middleware.CaptureError(err)
		fragment.Set("error", "server_error")
		fragment.Set("error_description", "Sign-in failed")
	}

	http.Redirect(w, r, target+"#"+fragment.Encode(), http.StatusFound)
}

func (h *handler) allowedRedirect(target string) bool {
	if target == "" {
		return false
	}
	for _, allowed := range h.redirects {
		if target == allowed {
			return true
		}
	}
	return false
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.UserFromContext(r.Context())

	profile, err := h.auth.Me(r.Context(), claims.UserID)
	if err != nil {
		writeAuthError(w, r, "fetch profile", err)
		return
	}
	response.Success(w, http.StatusOK, "User profile fetched", profile)
}

func (h *handler) updateMe(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.UserFromContext(r.Context())

	var input struct {
		FullName string `json:"full_name"`
		Phone    string `json:"phone"`
	}
	if err := response.Decode(r, &input); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", "")
		return
	}

	profile, err := h.auth.UpdateProfile(r.Context(), claims.UserID, input.FullName, input.Phone)
	if err != nil {
		writeAuthError(w, r, "update profile", err)
		return
	}
	response.Success(w, http.StatusOK, "Profile updated", profile)
}

func (h *handler) setAvailability(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.UserFromContext(r.Context())

	var input struct {
		Online *bool `json:"online"`
	}
	if err := response.Decode(r, &input); err != nil || input.Online == nil {
		response.Error(w, http.StatusBadRequest, "Field online is required", "")
		return
	}

	profile, err := h.auth.SetAvailability(r.Context(), claims.UserID, *input.Online)
	if err != nil {
		writeAuthError(w, r, "update availability", err)
		return
	}
	response.Success(w, http.StatusOK, "Availability updated", profile)
}
