package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"emergency-rescue-system/pkg/cases"
	"emergency-rescue-system/pkg/middleware"
	"emergency-rescue-system/pkg/response"
	"emergency-rescue-system/pkg/storage"

	"github.com/gorilla/mux"
)

const (
	maxUploadBytes   = 10 << 20
	imageContentType = "image/jpeg"
)

type handler struct {
	cases   *cases.Service
	objects storage.ObjectStore
	now     func() time.Time
}

func newHandler(svc *cases.Service, objects storage.ObjectStore) *handler {
	return &handler{
		cases:   svc,
		objects: objects,
		now:     time.Now,
	}
}

// routes registers the public and internal case endpoints on r.
func (h *handler) routes(r *mux.Router, jwtSecret []byte, internalToken string) {
	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.AuthMiddleware(jwtSecret))

	api.HandleFunc("/cases", h.createCase).Methods(http.MethodPost)
	api.HandleFunc("/cases/active", h.activeCase).Methods(http.MethodGet)
	api.HandleFunc("/cases/{id}", h.getCase).Methods(http.MethodGet)
	api.HandleFunc("/uploads", h.uploadImage).Methods(http.MethodPost)

	rescue := api.NewRoute().Subrouter()
	rescue.Use(middleware.RequireRole(middleware.RoleRescue))
	rescue.HandleFunc("/jobs", h.jobs).Methods(http.MethodGet)
	rescue.HandleFunc("/cases/{id}/accept", h.acceptCase).Methods(http.MethodPost)
	rescue.HandleFunc("/cases/{id}/close", h.closeCase).Methods(http.MethodPost)

	internal := r.PathPrefix("/internal").Subrouter()
	internal.Use(middleware.RequireInternalToken(internalToken))
	internal.HandleFunc("/cases/pending", h.pendingCases).Methods(http.MethodGet)
	internal.HandleFunc("/cases/{id}/assign", h.assignCase).Methods(http.MethodPost)
}

// writeCaseError maps case errors onto HTTP statuses.
func writeCaseError(w http.ResponseWriter, r *http.Request, action string, err error) {
	switch {
	case errors.Is(err, cases.ErrValidation), errors.Is(err, cases.ErrNoLocation):
		response.Error(w, http.StatusBadRequest, "Invalid case", err.Error())
	case errors.Is(err, cases.ErrForbidden):
		response.Error(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, cases.ErrNotFound):
		response.Error(w, http.StatusNotFound, "Case not found", "")
	case errors.Is(err, cases.ErrInvalidTransition), errors.Is(err, cases.ErrActiveCaseExists):
		response.Error(w, http.StatusConflict, "Case state conflict", err.Error())
	default:
		middleware.LogError(middleware.GetTraceID(r), "Failed to "+action, err)
		middleware.CaptureError(err)
		response.Error(w, http.StatusInternalServerError, "Failed to "+action, "")
	}
}

func recordTransition(to cases.Status, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, cases.ErrInvalidTransition), errors.Is(err, cases.ErrActiveCaseExists):
		outcome = "conflict"
	case errors.Is(err, cases.ErrValidation), errors.Is(err, cases.ErrNoLocation), errors.Is(err, cases.ErrNotFound):
		outcome = "rejected"
	default:
		outcome = "error"
	}
	middleware.CaseTransitions.WithLabelValues(string(to), outcome).Inc()
}

func (h *handler) createCase(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.UserFromContext(r.Context())

	var input cases.NewCaseInput
	if err := response.Decode(r, &input); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", err.Error())
		return
	}

	c, err := h.cases.Create(r.Context(), claims.UserID, input)
	recordTransition(cases.StatusPending, err)
	if err != nil {
		writeCaseError(w, r, "create case", err)
		return
	}
	response.Success(w, http.StatusCreated, "Case created successfully", c)
}

func (h *handler) activeCase(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.UserFromContext(r.Context())

	c, err := h.cases.ActiveCase(r.Context(), claims.UserID)
	if err != nil {
		writeCaseError(w, r, "fetch active case", err)
		return
	}
	// data is null when the citizen has nothing in flight.
	response.JSON(w, http.StatusOK, response.APIResponse{
		Status:  "success",
		Message: "Active case fetched",
		Data:    c,
	})
}

func (h *handler) getCase(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.UserFromContext(r.Context())

	c, err := h.cases.Get(r.Context(), claims.UserID, mux.Vars(r)["id"])
	if err != nil {
		writeCaseError(w, r, "fetch case", err)
		return
	}
	response.Success(w, http.StatusOK, "Case fetched successfully", c)
}

func (h *handler) jobs(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.UserFromContext(r.Context())

	view, err := h.cases.Jobs(r.Context(), claims.UserID)
	if err != nil {
		writeCaseError(w, r, "fetch jobs", err)
		return
	}
	response.Success(w, http.StatusOK, "Jobs fetched successfully", view)
}

func (h *handler) acceptCase(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.UserFromContext(r.Context())

	c, err := h.cases.Accept(r.Context(), mux.Vars(r)["id"], claims.UserID)
	recordTransition(cases.StatusAccepted, err)
	if err != nil {
		writeCaseError(w, r, "accept case", err)
		return
	}
	response.Success(w, http.StatusOK, "Case accepted", c)
}

func (h *handler) closeCase(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.UserFromContext(r.Context())

	var input struct {
		CloseNotes string `json:"close_notes"`
	}
	if err := response.Decode(r, &input); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", err.Error())
		return
	}

	c, err := h.cases.Close(r.Context(), mux.Vars(r)["id"], claims.UserID, input.CloseNotes)
	recordTransition(cases.StatusCompleted, err)
	if err != nil {
		writeCaseError(w, r, "close case", err)
		return
	}
	response.Success(w, http.StatusOK, "Case closed", c)
}

func (h *handler) pendingCases(w http.ResponseWriter, r *http.Request) {
	list, err := h.cases.Pending(r.Context())
	if err != nil {
		writeCaseError(w, r, "list pending cases", err)
		return
	}
	if list == nil {
		list = []cases.Case{}
	}
	response.Success(w, http.StatusOK, "Pending cases fetched", list)
}

func (h *handler) assignCase(w http.ResponseWriter, r *http.Request) {
	var input struct {
		RescueID string `json:"rescue_id"`
	}
	if err := response.Decode(r, &input); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", err.Error())
		return
	}

	c, err := h.cases.Assign(r.Context(), mux.Vars(r)["id"], input.RescueID)
	recordTransition(cases.StatusAssigned, err)
	if err != nil {
		writeCaseError(w, r, "assign case", err)
		return
	}
	response.Success(w, http.StatusOK, "Case assigned", c)
}

// uploadImage stores one JPEG from the "file" form field and returns its
// public URL.
func (h *handler) uploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid upload", err.Error())
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Missing file field", err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Failed to read upload", err.Error())
		return
	}
	if len(data) == 0 {
		response.Error(w, http.StatusBadRequest, "Empty upload", "")
		return
	}

	path := storage.ImagePath(h.now())
	if err := h.objects.Upload(r.Context(), path, bytes.NewReader(data), int64(len(data)), imageContentType); err != nil {
		writeCaseError(w, r, "upload image", fmt.Errorf("upload %s: %w", path, err))
		return
	}

	log.Printf("[OK] Image uploaded - Path: %s, Size: %d", path, len(data))
	response.Success(w, http.StatusCreated, "Image uploaded", map[string]string{
		"path": path,
		"url":  h.objects.PublicURL(path),
	})
}
