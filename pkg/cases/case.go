// Package cases holds the emergency case model, its lifecycle and the storage contract.
package cases

import (
	"strings"
	"time"

	"emergency-rescue-system/pkg/geo"
)

// Status is the lifecycle state of a case.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAssigned  Status = "assigned"
	StatusAccepted  Status = "accepted"
	StatusCompleted Status = "completed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAssigned, StatusAccepted, StatusCompleted:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted
}

// ActiveStatuses are the non-terminal states seen by the reporting citizen.
var ActiveStatuses = []Status{StatusPending, StatusAssigned, StatusAccepted}

// JobStatuses are the states visible in a rescuer's job list.
var JobStatuses = []Status{StatusAssigned, StatusAccepted}

// ReportType classifies the incident.
type ReportType string

const (
	TypeAccident ReportType = "accident"
	TypeFire     ReportType = "fire"
	TypeFlood    ReportType = "flood"
	TypeOther    ReportType = "other"
)

// Valid reports whether t is a known report type.
func (t ReportType) Valid() bool {
	switch t {
	case TypeAccident, TypeFire, TypeFlood, TypeOther:
		return true
	}
	return false
}

// DefaultDescription is stored when the reporter leaves the description empty.
const DefaultDescription = "-"

// Case is a single reported incident.
type Case struct {
	ID            string     `json:"id"`
	ReporterID    string     `json:"reporter_id"`
	ReporterName  string     `json:"reporter_name"`
	ReporterPhone string     `json:"reporter_phone"`
	ReportType    ReportType `json:"report_type"`
	Description   string     `json:"description"`
	Images        []string   `json:"images"`
	Latitude      float64    `json:"latitude"`
	Longitude     float64    `json:"longitude"`
	Status        Status     `json:"status"`
	RescueID      string     `json:"rescue_id"`
	CloseNotes    string     `json:"close_notes,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	AssignedAt    *time.Time `json:"assigned_at,omitempty"`
	AcceptedAt    *time.Time `json:"accepted_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Position implements geo.Locatable.
func (c Case) Position() geo.Point {
	return geo.Point{Latitude: c.Latitude, Longitude: c.Longitude}
}

// NewCaseInput is what a citizen submits.
type NewCaseInput struct {
	ReporterName  string     `json:"reporter_name"`
	ReporterPhone string     `json:"reporter_phone"`
	ReportType    ReportType `json:"report_type"`
	Description   string     `json:"description"`
	Images        []string   `json:"images"`
	Latitude      *float64   `json:"latitude"`
	Longitude     *float64   `json:"longitude"`
}

// Normalize trims free-text fields and fills defaults.
func (in *NewCaseInput) Normalize() {
	in.ReporterName = strings.TrimSpace(in.ReporterName)
	in.ReporterPhone = strings.TrimSpace(in.ReporterPhone)
	in.Description = strings.TrimSpace(in.Description)
	if in.Description == "" {
		in.Description = DefaultDescription
	}
	if in.ReportType == "" {
		in.ReportType = TypeAccident
	}
	if in.Images == nil {
		in.Images = []string{}
	}
}

// Validate checks the input before anything is written.
func (in NewCaseInput) Validate() error {
	if in.ReporterName == "" || in.ReporterPhone == "" {
		return validationError("reporter name and phone are required")
	}
	if !in.ReportType.Valid() {
		return validationError("unknown report type " + string(in.ReportType))
	}
	if in.Latitude == nil || in.Longitude == nil {
		return ErrNoLocation
	}
	if !(geo.Point{Latitude: *in.Latitude, Longitude: *in.Longitude}).Valid() {
		return validationError("coordinate out of range")
	}
	return nil
}

// JobView is a rescuer's partition of their visible cases.
type JobView struct {
	MyJob   *Case  `json:"myJob"`
	JobList []Case `json:"jobList"`
}

// SplitJobs partitions job-list cases (already ordered newest first) into the
// current job, the first accepted case, and the queue of assigned cases.
func SplitJobs(list []Case) JobView {
	view := JobView{JobList: []Case{}}
	for i := range list {
		switch list[i].Status {
		case StatusAccepted:
			if view.MyJob == nil {
				c := list[i]
				view.MyJob = &c
			}
		case StatusAssigned:
			view.JobList = append(view.JobList, list[i])
		}
	}
	return view
}

// ChangeEvent is published on every case mutation. Subscribers treat it as a
// "something changed" signal; the fields let delta-aware consumers skip a fetch.
type ChangeEvent struct {
	Type       string    `json:"type"`
	Table      string    `json:"table"`
	CaseID     string    `json:"case_id"`
	Status     Status    `json:"status"`
	ReporterID string    `json:"reporter_id"`
	RescueID   string    `json:"rescue_id,omitempty"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Signal is the part of a ChangeEvent sent to end-user streams. It carries
// no location or identities.
type Signal struct {
	Type   string `json:"type"`
	Table  string `json:"table"`
	CaseID string `json:"case_id"`
}

// Signal strips e down to what a subscriber needs to re-fetch.
func (e ChangeEvent) Signal() Signal {
	return Signal{Type: e.Type, Table: e.Table, CaseID: e.CaseID}
}

// Concerns reports whether userID is the case's reporter or its rescuer.
func (e ChangeEvent) Concerns(userID string) bool {
	return userID != "" && (userID == e.ReporterID || userID == e.RescueID)
}

// Routing keys on the cases exchange.
const (
	Exchange        = "cases"
	TableName       = "cases"
	EventCreated    = "case.created"
	EventAssigned   = "case.assigned"
	EventAccepted   = "case.accepted"
	EventCompleted  = "case.completed"
	EventRoutingAll = "case.*"
	ChangeQueueName = "case_changes"
	DispatchQueue   = "case_dispatch"
)

// NewChangeEvent builds the event announcing c's current state.
func NewChangeEvent(eventType string, c *Case, at time.Time) ChangeEvent {
	return ChangeEvent{
		Type:       eventType,
		Table:      TableName,
		CaseID:     c.ID,
		Status:     c.Status,
		ReporterID: c.ReporterID,
		RescueID:   c.RescueID,
		Latitude:   c.Latitude,
		Longitude:  c.Longitude,
		OccurredAt: at,
	}
}
