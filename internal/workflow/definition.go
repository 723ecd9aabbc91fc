package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/civicflow/platform/internal/domain"
	"github.com/civicflow/platform/internal/feeschedule"
	"github.com/civicflow/platform/internal/policy"
	"gopkg.in/yaml.v3"
)

// Transitions the platform runs on its own. Services opt in by declaring them;
// a service that does not is simply skipped.
const (
	TransitionSubmit          = "SUBMIT"
	TransitionAssignAuto      = "ASSIGN_AUTO"
	TransitionQueryRespond    = "QUERY_RESPOND"
	TransitionPaymentReceived = "PAYMENT_RECEIVED"
)

// Transition is a compiled workflow edge.
type Transition struct {
	ID         string
	From       string
	To         string
	ActorTypes []domain.ActorType
	Guard      policy.Expr
	Message    string
}

// Allows reports whether actor may run the transition. No list means anyone.
func (t *Transition) Allows(actor domain.ActorType) bool {
	if len(t.ActorTypes) == 0 {
		return true
	}
	for _, a := range t.ActorTypes {
		if a == actor {
			return true
		}
	}
	return false
}

type transitionKey struct {
	from string
	id   string
}

// Definition is an immutable, compiled service configuration.
type Definition struct {
	Config      domain.ServiceConfig
	states      map[string]domain.StateDef
	transitions map[transitionKey]*Transition
}

// ServiceKey returns the configured service key.
func (d *Definition) ServiceKey() string { return d.Config.ServiceKey }

// Version returns the configured version.
func (d *Definition) Version() int { return d.Config.Version }

// InitialState is the state new applications start in.
func (d *Definition) InitialState() string { return d.Config.Workflow.InitialState }

// State returns the state definition by id.
func (d *Definition) State(id string) (domain.StateDef, bool) {
	s, ok := d.states[id]
	return s, ok
}

// Lookup finds the transition with id leaving state from.
func (d *Definition) Lookup(from, id string) (*Transition, bool) {
	t, ok := d.transitions[transitionKey{from: from, id: id}]
	return t, ok
}

// Compile validates cfg and builds the lookup tables.
func Compile(cfg domain.ServiceConfig) (*Definition, error) {
	if err := domain.ValidateServiceKey(cfg.ServiceKey); err != nil {
		return nil, err
	}
	if cfg.Version <= 0 {
		return nil, domain.ErrValidation("version must be positive")
	}
	wf := cfg.Workflow
	if len(wf.States) == 0 {
		return nil, domain.ErrValidation("workflow must declare at least one state")
	}

	def := &Definition{
		Config:      cfg,
		states:      make(map[string]domain.StateDef, len(wf.States)),
		transitions: make(map[transitionKey]*Transition, len(wf.Transitions)),
	}
	for _, s := range wf.States {
		if s.ID == "" {
			return nil, domain.ErrValidation("workflow state id is required")
		}
		if _, dup := def.states[s.ID]; dup {
			return nil, domain.ErrValidation(fmt.Sprintf("duplicate workflow state %q", s.ID))
		}
		if s.SLADays < 0 {
			return nil, domain.ErrValidation(fmt.Sprintf("state %q: slaDays must not be negative", s.ID))
		}
		def.states[s.ID] = s
	}
	if _, ok := def.states[wf.InitialState]; !ok {
		return nil, domain.ErrValidation(fmt.Sprintf("initial state %q is not declared", wf.InitialState))
	}

	for i, td := range wf.Transitions {
		if td.ID == "" {
			return nil, domain.ErrValidation(fmt.Sprintf("transition %d: id is required", i+1))
		}
		if _, ok := def.states[td.From]; !ok {
			return nil, domain.ErrValidation(fmt.Sprintf("transition %s: unknown from state %q", td.ID, td.From))
		}
		if _, ok := def.states[td.To]; !ok {
			return nil, domain.ErrValidation(fmt.Sprintf("transition %s: unknown to state %q", td.ID, td.To))
		}
		key := transitionKey{from: td.From, id: td.ID}
		if _, dup := def.transitions[key]; dup {
			return nil, domain.ErrValidation(fmt.Sprintf("transition %s declared twice from %s", td.ID, td.From))
		}
		guard, err := policy.Parse(td.Guard)
		if err != nil {
			return nil, domain.ErrValidation(fmt.Sprintf("transition %s: %v", td.ID, err))
		}
		def.transitions[key] = &Transition{
			ID:         td.ID,
			From:       td.From,
			To:         td.To,
			ActorTypes: td.ActorTypes,
			Guard:      guard,
			Message:    td.Message,
		}
	}

	if err := feeschedule.Validate(cfg.FeeSchedule); err != nil {
		return nil, err
	}
	return def, nil
}

// DecodeConfig reads a stored JSON configuration document.
func DecodeConfig(raw json.RawMessage) (domain.ServiceConfig, error) {
	var cfg domain.ServiceConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("decode service config: %w", err)
	}
	return cfg, nil
}

// LoadYAML reads an authored YAML configuration document.
func LoadYAML(data []byte) (domain.ServiceConfig, error) {
	var cfg domain.ServiceConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse service config: %w", err)
	}
	return cfg, nil
}
