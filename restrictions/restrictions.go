// Package restrictions evaluates the predicates attached to commands
// (role requirements, currency minimums, viewer lists) before they fire.
package restrictions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Evaluation modes for a restriction set.
const (
	ModeAll = "all"
	ModeAny = "any"
)

// TriggerType names what caused an evaluation.
type TriggerType string

const (
	TriggerCommand TriggerType = "command"
	TriggerManual  TriggerType = "manual"
)

// Restriction is one configured predicate instance.
type Restriction struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	// Mode is predicate specific (permissions: "roles" or "viewer").
	Mode       string   `json:"mode,omitempty"`
	RoleIDs    []string `json:"roleIds,omitempty"`
	Usernames  []string `json:"usernames,omitempty"`
	CurrencyID string   `json:"currencyId,omitempty"`
	Amount     int64    `json:"amount,omitempty"`
}

// Data is the restriction block stored on a command or sub-command.
type Data struct {
	Restrictions []Restriction `json:"restrictions,omitempty"`
	Mode         string        `json:"mode,omitempty"`
	// SendFailMessage defaults to true when unset.
	SendFailMessage *bool  `json:"sendFailMessage,omitempty"`
	FailMessage     string `json:"failMessage,omitempty"`
}

// Empty reports whether there is nothing to evaluate.
func (d Data) Empty() bool { return len(d.Restrictions) == 0 }

// ShouldSendFailMessage applies the default-true rule.
func (d Data) ShouldSendFailMessage() bool { return d.SendFailMessage == nil || *d.SendFailMessage }

// Metadata describes who triggered what.
type Metadata struct {
	Username string
	UserID   string
	Roles    []string
	// Command, UserCommand and ChatMessage carry the caller's own types for
	// predicates that need them.
	Command     any
	UserCommand any
	ChatMessage any
}

// Trigger is the context a predicate is evaluated in.
type Trigger struct {
	Type     TriggerType
	Metadata Metadata
}

// Rejection lists why a trigger failed its restrictions.
type Rejection struct {
	Reasons []string
}

func (r *Rejection) Error() string { return strings.Join(r.Reasons, ", ") }

// Predicate evaluates one restriction type. A nil error means pass; a
// *Rejection carries the human readable reason; any other error is a fault.
type Predicate interface {
	Type() string
	Evaluate(ctx context.Context, trigger Trigger, r Restriction) error
}

// Evaluator is what the dispatch pipeline depends on.
type Evaluator interface {
	RunPredicates(ctx context.Context, trigger Trigger, data Data) error
}

// Manager holds registered predicates.
type Manager struct {
	mu         sync.RWMutex
	predicates map[string]Predicate
}

// NewManager returns a manager with the given predicates registered.
func NewManager(predicates ...Predicate) *Manager {
	m := &Manager{predicates: make(map[string]Predicate)}
	for _, p := range predicates {
		m.Register(p)
	}
	return m
}

// Register adds or replaces a predicate by type.
func (m *Manager) Register(p Predicate) {
	m.mu.Lock()
	m.predicates[p.Type()] = p
	m.mu.Unlock()
}

func (m *Manager) get(t string) (Predicate, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.predicates[t]
	return p, ok
}

// RunPredicates evaluates data. In "all" mode (the default) every
// restriction must pass and all failure reasons are collected; in "any"
// mode one pass is enough. Unknown restriction types are skipped.
func (m *Manager) RunPredicates(ctx context.Context, trigger Trigger, data Data) error {
	if data.Empty() {
		return nil
	}
	var reasons []string
	passed := 0
	evaluated := 0
	for _, r := range data.Restrictions {
		p, ok := m.get(r.Type)
		if !ok {
			continue
		}
		evaluated++
		err := p.Evaluate(ctx, trigger, r)
		if err == nil {
			passed++
			continue
		}
		var rej *Rejection
		if !errors.As(err, &rej) {
			return fmt.Errorf("restriction %s: %w", r.Type, err)
		}
		reasons = append(reasons, rej.Reasons...)
	}
	if evaluated == 0 {
		return nil
	}
	if strings.EqualFold(data.Mode, ModeAny) {
		if passed > 0 {
			return nil
		}
	} else if len(reasons) == 0 {
		return nil
	}
	if data.FailMessage != "" {
		return &Rejection{Reasons: []string{data.FailMessage}}
	}
	return &Rejection{Reasons: reasons}
}

func reject(format string, args ...any) error {
	return &Rejection{Reasons: []string{fmt.Sprintf(format, args...)}}
}
