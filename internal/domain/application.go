package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActorType identifies who is driving a workflow action.
type ActorType string

const (
	ActorCitizen ActorType = "CITIZEN"
	ActorOfficer ActorType = "OFFICER"
	ActorSystem  ActorType = "SYSTEM"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	Type ActorType
	ID   string
}

// Application is a citizen's request for one service under one authority.
type Application struct {
	ARN            string          `json:"arn"`
	PublicARN      *string         `json:"public_arn,omitempty"`
	ServiceKey     string          `json:"service_key"`
	ServiceVersion int             `json:"service_version"`
	AuthorityID    string          `json:"authority_id"`
	ApplicantID    uuid.UUID       `json:"applicant_id"`
	StateID        string          `json:"state_id"`
	RowVersion     int64           `json:"row_version"`
	Data           json.RawMessage `json:"data"`
	StateEnteredAt time.Time       `json:"state_entered_at"`
	SLADueAt       *time.Time      `json:"sla_due_at,omitempty"`
	SubmittedAt    *time.Time      `json:"submitted_at,omitempty"`
	DisposedAt     *time.Time      `json:"disposed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// CreateApplicationParams holds the input for a new draft application.
type CreateApplicationParams struct {
	ServiceKey     string
	ServiceVersion int
	AuthorityID    string
	ApplicantID    uuid.UUID
	Data           json.RawMessage
}

// StateChange is the persisted effect of a successful transition.
type StateChange struct {
	ARN            string
	ToState        string
	StateEnteredAt time.Time
	SLADueAt       *time.Time
	Disposed       bool
}

// ApplicationProperty is the best-effort projection of the property section of
// an application's data, used by officers to search by location.
type ApplicationProperty struct {
	ARN          string    `json:"arn"`
	PlotNumber   string    `json:"plot_number,omitempty"`
	KhasraNumber string    `json:"khasra_number,omitempty"`
	Village      string    `json:"village,omitempty"`
	Tehsil       string    `json:"tehsil,omitempty"`
	District     string    `json:"district,omitempty"`
	AreaSqMeters *float64  `json:"area_sq_meters,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}
