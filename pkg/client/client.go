// Package client is the Go SDK used by the citizen and rescuer apps: the HTTP
// API client, the session resolver, the case sync listener, the report
// composer and the nearby-landmark tracker.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"emergency-rescue-system/pkg/cases"
	"emergency-rescue-system/pkg/geo"
	"emergency-rescue-system/pkg/locations"
	"emergency-rescue-system/pkg/response"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
)

// APIError is a non-2xx answer from a service.
type APIError struct {
	Status  int
	Message string
	Detail  string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("status %d: %s: %s", e.Status, e.Message, e.Detail)
	}
	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

// Is lets callers match on the status class with errors.Is.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrForbidden:
		return e.Status == http.StatusForbidden
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrConflict:
		return e.Status == http.StatusConflict
	case cases.ErrValidation:
		return e.Status == http.StatusBadRequest
	}
	return false
}

// Endpoints are the base URLs of the services.
type Endpoints struct {
	Auth          string
	Cases         string
	Locations     string
	Notifications string
}

// Profile mirrors the auth service profile record.
type Profile struct {
	ID           string `json:"id"`
	FullName     string `json:"full_name"`
	Phone        string `json:"phone"`
	Role         string `json:"role"`
	Availability string `json:"availability"`
}

// TokenPair is returned by every call that establishes a session.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
	Profile *Profile `json:"profile"`
}

// Tokens returns the pair without the user details.
func (p *TokenPair) Tokens() Tokens {
	return Tokens{AccessToken: p.AccessToken, RefreshToken: p.RefreshToken}
}

// API talks to the backend services on behalf of one signed-in user.
type API struct {
	endpoints Endpoints
	http      *http.Client

	mu    sync.RWMutex
	token string
}

func NewAPI(endpoints Endpoints, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &API{endpoints: endpoints, http: httpClient}
}

// SetToken sets the bearer token used by every later call.
func (a *API) SetToken(token string) {
	a.mu.Lock()
	a.token = token
	a.mu.Unlock()
}

// Token returns the current bearer token.
func (a *API) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token
}

// NotificationsURL is the change-stream endpoint.
func (a *API) NotificationsURL() string {
	return strings.TrimRight(a.endpoints.Notifications, "/") + "/subscribe"
}

func (a *API) send(ctx context.Context, method, base, path string, body io.Reader, contentType string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(base, "/")+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token := a.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var env response.APIResponse
		_ = json.NewDecoder(resp.Body).Decode(&env)
		return &APIError{Status: resp.StatusCode, Message: env.Message, Detail: env.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

// call sends a JSON request and unwraps the response envelope into T.
func call[T any](ctx context.Context, a *API, method, base, path string, in interface{}) (T, error) {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			var zero T
			return zero, err
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	var env response.Envelope[T]
	err := a.send(ctx, method, base, path, body, contentType, &env)
	return env.Data, err
}

func (a *API) Register(ctx context.Context, email, password, name, phone string) (*TokenPair, error) {
	return call[*TokenPair](ctx, a, http.MethodPost, a.endpoints.Auth, "/api/auth/register", map[string]string{
		"email": email, "password": password, "name": name, "phone": phone,
	})
}

func (a *API) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	return call[*TokenPair](ctx, a, http.MethodPost, a.endpoints.Auth, "/api/auth/login", map[string]string{
		"email": email, "password": password,
	})
}

func (a *API) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	return call[*TokenPair](ctx, a, http.MethodPost, a.endpoints.Auth, "/api/auth/refresh", map[string]string{
		"refresh_token": refreshToken,
	})
}

func (a *API) Logout(ctx context.Context, refreshToken string) error {
	_, err := call[json.RawMessage](ctx, a, http.MethodPost, a.endpoints.Auth, "/api/auth/logout", map[string]string{
		"refresh_token": refreshToken,
	})
	return err
}

func (a *API) Me(ctx context.Context) (*Profile, error) {
	return call[*Profile](ctx, a, http.MethodGet, a.endpoints.Auth, "/api/auth/me", nil)
}

func (a *API) UpdateProfile(ctx context.Context, fullName, phone string) (*Profile, error) {
	return call[*Profile](ctx, a, http.MethodPut, a.endpoints.Auth, "/api/auth/me", map[string]string{
		"full_name": fullName, "phone": phone,
	})
}

// SetAvailability toggles a rescuer online or offline.
func (a *API) SetAvailability(ctx context.Context, online bool) (*Profile, error) {
	return call[*Profile](ctx, a, http.MethodPut, a.endpoints.Auth, "/api/auth/me/availability", map[string]bool{
		"online": online,
	})
}

func (a *API) CreateCase(ctx context.Context, in cases.NewCaseInput) (*cases.Case, error) {
	return call[*cases.Case](ctx, a, http.MethodPost, a.endpoints.Cases, "/api/cases", in)
}

// ActiveCase returns the citizen's in-flight case, or nil.
func (a *API) ActiveCase(ctx context.Context) (*cases.Case, error) {
	return call[*cases.Case](ctx, a, http.MethodGet, a.endpoints.Cases, "/api/cases/active", nil)
}

func (a *API) Case(ctx context.Context, id string) (*cases.Case, error) {
	return call[*cases.Case](ctx, a, http.MethodGet, a.endpoints.Cases, "/api/cases/"+url.PathEscape(id), nil)
}

// Jobs returns the rescuer's current job and assigned queue.
func (a *API) Jobs(ctx context.Context) (cases.JobView, error) {
	return call[cases.JobView](ctx, a, http.MethodGet, a.endpoints.Cases, "/api/jobs", nil)
}

func (a *API) AcceptCase(ctx context.Context, id string) (*cases.Case, error) {
	return call[*cases.Case](ctx, a, http.MethodPost, a.endpoints.Cases, "/api/cases/"+url.PathEscape(id)+"/accept", nil)
}

func (a *API) CloseCase(ctx context.Context, id, notes string) (*cases.Case, error) {
	return call[*cases.Case](ctx, a, http.MethodPost, a.endpoints.Cases, "/api/cases/"+url.PathEscape(id)+"/close",
		map[string]string{"close_notes": notes})
}

// UploadImage stores one JPEG and returns its public URL.
func (a *API) UploadImage(ctx context.Context, data []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "photo.jpg")
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	var env response.Envelope[struct {
		URL string `json:"url"`
	}]
	if err := a.send(ctx, http.MethodPost, a.endpoints.Cases, "/api/uploads", &buf, mw.FormDataContentType(), &env); err != nil {
		return "", err
	}
	return env.Data.URL, nil
}

func (a *API) Landmarks(ctx context.Context) ([]locations.Landmark, error) {
	return call[[]locations.Landmark](ctx, a, http.MethodGet, a.endpoints.Locations, "/api/landmarks", nil)
}

func (a *API) NearbyLandmarks(ctx context.Context, p geo.Point, radiusKm float64) ([]locations.NearbyLandmark, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(p.Latitude, 'f', -1, 64))
	q.Set("lng", strconv.FormatFloat(p.Longitude, 'f', -1, 64))
	q.Set("radius_km", strconv.FormatFloat(radiusKm, 'f', -1, 64))
	return call[[]locations.NearbyLandmark](ctx, a, http.MethodGet, a.endpoints.Locations, "/api/landmarks/nearby?"+q.Encode(), nil)
}

// Alerts returns the active alert zones.
func (a *API) Alerts(ctx context.Context) ([]locations.Alert, error) {
	return call[[]locations.Alert](ctx, a, http.MethodGet, a.endpoints.Locations, "/api/alerts", nil)
}

// UpdateLocation upserts the caller's live position.
func (a *API) UpdateLocation(ctx context.Context, p geo.Point) error {
	_, err := call[json.RawMessage](ctx, a, http.MethodPut, a.endpoints.Locations, "/api/locations/me", p)
	return err
}

func (a *API) SavedLocations(ctx context.Context) ([]locations.SavedLocation, error) {
	return call[[]locations.SavedLocation](ctx, a, http.MethodGet, a.endpoints.Locations, "/api/saved-locations", nil)
}

func (a *API) SaveLocation(ctx context.Context, in locations.SavedLocationInput) (*locations.SavedLocation, error) {
	return call[*locations.SavedLocation](ctx, a, http.MethodPost, a.endpoints.Locations, "/api/saved-locations", in)
}

func (a *API) DeleteSavedLocation(ctx context.Context, id uint) error {
	_, err := call[json.RawMessage](ctx, a, http.MethodDelete, a.endpoints.Locations,
		"/api/saved-locations/"+strconv.FormatUint(uint64(id), 10), nil)
	return err
}
