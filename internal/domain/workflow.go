package domain

import (
	"encoding/json"
	"time"
)

// ServiceVersion is one published configuration of a citizen service.
// Published versions are immutable; applications pin the version they were created under.
type ServiceVersion struct {
	ServiceKey  string          `json:"service_key"`
	Version     int             `json:"version"`
	Status      string          `json:"status"`
	Config      json.RawMessage `json:"config"`
	PublishedAt *time.Time      `json:"published_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Service version statuses.
const (
	ServiceVersionDraft     = "DRAFT"
	ServiceVersionPublished = "PUBLISHED"
	ServiceVersionRetired   = "RETIRED"
)

// ServiceConfig is the versioned configuration document.
type ServiceConfig struct {
	ServiceKey  string         `json:"serviceKey" yaml:"serviceKey"`
	Version     int            `json:"version" yaml:"version"`
	DisplayName string         `json:"displayName,omitempty" yaml:"displayName,omitempty"`
	Workflow    WorkflowDef    `json:"workflow" yaml:"workflow"`
	FeeSchedule FeeScheduleDef `json:"feeSchedule" yaml:"feeSchedule"`
}

// WorkflowDef declares the states and the allowed transitions between them.
type WorkflowDef struct {
	InitialState string          `json:"initialState" yaml:"initialState"`
	States       []StateDef      `json:"states" yaml:"states"`
	Transitions  []TransitionDef `json:"transitions" yaml:"transitions"`
}

// StateDef is a workflow state. SLADays > 0 stamps a due date on entry.
type StateDef struct {
	ID       string `json:"id" yaml:"id"`
	Label    string `json:"label,omitempty" yaml:"label,omitempty"`
	SLADays  int    `json:"slaDays,omitempty" yaml:"slaDays,omitempty"`
	Terminal bool   `json:"terminal,omitempty" yaml:"terminal,omitempty"`
}

// TransitionDef is an edge in the workflow graph.
// Guard is a JSON-logic style expression evaluated against the transition context.
type TransitionDef struct {
	ID         string      `json:"id" yaml:"id"`
	From       string      `json:"from" yaml:"from"`
	To         string      `json:"to" yaml:"to"`
	ActorTypes []ActorType `json:"actorTypes,omitempty" yaml:"actorTypes,omitempty"`
	Guard      interface{} `json:"guard,omitempty" yaml:"guard,omitempty"`
	Message    string      `json:"guardMessage,omitempty" yaml:"guardMessage,omitempty"`
}

// FeeScheduleDef holds the default fee list and per-authority overrides.
type FeeScheduleDef struct {
	Default     []FeeScheduleLine            `json:"default" yaml:"default"`
	Authorities map[string][]FeeScheduleLine `json:"authorities,omitempty" yaml:"authorities,omitempty"`
}

// FeeScheduleLine is one configured fee. Amount is in major currency units
// and may be a number or a decimal string ("1250.50").
type FeeScheduleLine struct {
	FeeType     string      `json:"feeType" yaml:"feeType"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Amount      interface{} `json:"amount" yaml:"amount"`
}
