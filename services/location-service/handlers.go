package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"emergency-rescue-system/pkg/geo"
	"emergency-rescue-system/pkg/locations"
	"emergency-rescue-system/pkg/middleware"
	"emergency-rescue-system/pkg/response"

	"github.com/gorilla/mux"
)

type handler struct {
	store locationStore
	cache landmarkCache // nil disables caching
	now   func() time.Time
}

func newHandler(store locationStore, cache landmarkCache) *handler {
	return &handler{store: store, cache: cache, now: time.Now}
}

func (h *handler) routes(r *mux.Router, jwtSecret []byte, internalToken string) {
	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.AuthMiddleware(jwtSecret))

	api.HandleFunc("/landmarks", h.listLandmarks).Methods(http.MethodGet)
	api.HandleFunc("/landmarks/nearby", h.nearbyLandmarks).Methods(http.MethodGet)
	api.HandleFunc("/alerts", h.activeAlerts).Methods(http.MethodGet)
	api.HandleFunc("/locations/me", h.updateMyLocation).Methods(http.MethodPut)
	api.HandleFunc("/saved-locations", h.listSaved).Methods(http.MethodGet)
	api.HandleFunc("/saved-locations", h.createSaved).Methods(http.MethodPost)
	api.HandleFunc("/saved-locations/{id:[0-9]+}", h.deleteSaved).Methods(http.MethodDelete)

	internal := r.PathPrefix("/internal").Subrouter()
	internal.Use(middleware.RequireInternalToken(internalToken))
	internal.HandleFunc("/rescuers/online", h.onlineRescuers).Methods(http.MethodGet)
}

func (h *handler) serverError(w http.ResponseWriter, r *http.Request, action string, err error) {
	middleware.LogError(middleware.GetTraceID(r), "Failed to "+action, err)
	middleware.CaptureError(err)
	response.Error(w, http.StatusInternalServerError, "Failed to "+action, "")
}

// landmarks serves the list from cache when possible. A cache failure only
// costs a database read.
func (h *handler) landmarks(ctx context.Context) ([]locations.Landmark, error) {
	if h.cache != nil {
		list, ok, err := h.cache.Get(ctx)
		if err != nil {
			log.Printf("[WARN] Landmark cache read failed: %v", err)
		} else if ok {
			return list, nil
		}
	}

	list, err := h.store.Landmarks(ctx)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []locations.Landmark{}
	}

	if h.cache != nil {
		if err := h.cache.Set(ctx, list); err != nil {
			log.Printf("[WARN] Landmark cache write failed: %v", err)
		}
	}
	return list, nil
}

func (h *handler) listLandmarks(w http.ResponseWriter, r *http.Request) {
	list, err := h.landmarks(r.Context())
	if err != nil {
		h.serverError(w, r, "fetch landmarks", err)
		return
	}
	response.Success(w, http.StatusOK, "Landmarks fetched", list)
}

func parseFloatParam(r *http.Request, name string) (float64, bool) {
	v, err := strconv.ParseFloat(r.URL.Query().Get(name), 64)
	return v, err == nil
}

func (h *handler) nearbyLandmarks(w http.ResponseWriter, r *http.Request) {
	lat, okLat := parseFloatParam(r, "lat")
	lng, okLng := parseFloatParam(r, "lng")
	ref := geo.Point{Latitude: lat, Longitude: lng}
	if !okLat || !okLng || !ref.Valid() {
		response.Error(w, http.StatusBadRequest, "Valid lat and lng are required", "")
		return
	}

	radius := geo.DefaultRadiusKm
	if r.URL.Query().Get("radius_km") != "" {
		v, ok := parseFloatParam(r, "radius_km")
		if !ok || v < 0 {
			response.Error(w, http.StatusBadRequest, "Invalid radius_km", "")
			return
		}
		radius = v
	}

	list, err := h.landmarks(r.Context())
	if err != nil {
		h.serverError(w, r, "fetch landmarks", err)
		return
	}
	response.Success(w, http.StatusOK, "Nearby landmarks fetched", locations.NearbyLandmarks(ref, list, radius))
}

func (h *handler) activeAlerts(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ActiveAlerts(r.Context())
	if err != nil {
		h.serverError(w, r, "fetch alerts", err)
		return
	}
	if list == nil {
		list = []locations.Alert{}
	}
	response.Success(w, http.StatusOK, "Alerts fetched", list)
}

func (h *handler) updateMyLocation(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.UserFromContext(r.Context())

	var input struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	}
	if err := response.Decode(r, &input); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", err.Error())
		return
	}
	if input.Latitude == nil || input.Longitude == nil ||
		!(geo.Point{Latitude: *input.Latitude, Longitude: *input.Longitude}).Valid() {
		response.Error(w, http.StatusBadRequest, "Valid latitude and longitude are required", "")
		return
	}

	loc := &locations.UserLocation{
		ID:        claims.UserID,
		Email:     claims.Email,
		Latitude:  *input.Latitude,
		Longitude: *input.Longitude,
		UpdatedAt: h.now(),
	}
	if err := h.store.UpsertUserLocation(r.Context(), loc); err != nil {
		h.serverError(w, r, "save location", err)
		return
	}
	response.Success(w, http.StatusOK, "Location updated", loc)
}

func (h *handler) onlineRescuers(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.OnlineRescuers(r.Context())
	if err != nil {
		h.serverError(w, r, "fetch online rescuers", err)
		return
	}
	if list == nil {
		list = []locations.OnlineRescuer{}
	}
	response.Success(w, http.StatusOK, "Online rescuers fetched", list)
}

func (h *handler) listSaved(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.UserFromContext(r.Context())

	list, err := h.store.SavedLocations(r.Context(), claims.UserID)
	if err != nil {
		h.serverError(w, r, "fetch saved locations", err)
		return
	}
	if list == nil {
		list = []locations.SavedLocation{}
	}
	response.Success(w, http.StatusOK, "Saved locations fetched", list)
}

func (h *handler) createSaved(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.UserFromContext(r.Context())

	var input locations.SavedLocationInput
	if err := response.Decode(r, &input); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", err.Error())
		return
	}
	if msg := input.Validate(); msg != "" {
		response.Error(w, http.StatusBadRequest, msg, "")
		return
	}

	loc := &locations.SavedLocation{
		UserID:      claims.UserID,
		Name:        input.Name,
		Description: input.Description,
		Latitude:    *input.Latitude,
		Longitude:   *input.Longitude,
		CreatedAt:   h.now(),
	}
	if err := h.store.CreateSavedLocation(r.Context(), loc); err != nil {
		h.serverError(w, r, "save location", err)
		return
	}
	log.Printf("[OK] Saved location created - ID: %d, User: %s", loc.ID, claims.UserID)
	response.Success(w, http.StatusCreated, "Location saved", loc)
}

func (h *handler) deleteSaved(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.UserFromContext(r.Context())

	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid location ID", "")
		return
	}

	err = h.store.DeleteSavedLocation(r.Context(), claims.UserID, uint(id))
	if errors.Is(err, errNotFound) {
		response.Error(w, http.StatusNotFound, "Saved location not found", "")
		return
	}
	if err != nil {
		h.serverError(w, r, "delete location", err)
		return
	}
	response.Success(w, http.StatusOK, "Location deleted", nil)
}
