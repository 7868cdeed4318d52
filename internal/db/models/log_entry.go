// Package models - log_entry.go defines the LogEntry model: one recorded action by an actor
// against up to three polymorphic subjects.
package models

import (
	"bytes"
	"strconv"
	"text/template"
	"time"
)

// MaxSubjects is the number of subject slots an entry carries.
const MaxSubjects = 3

// Column widths of log_entries and log_entry_subjects, in characters.
const (
	MaxActionLen   = 128
	MaxTypeTagLen  = 100
	MaxRecordIDLen = 255
)

// Type tags of the subjects this service owns itself.
const (
	SubjectTypeUser  = "user"
	SubjectTypeGroup = "group"
)

// SubjectRef identifies an arbitrary record by type tag and record id.
type SubjectRef struct {
	Slot     int    `json:"slot"`
	TypeTag  string `json:"type_tag"`
	RecordID string `json:"record_id"`
}

// Key returns "type_tag:record_id".
func (s SubjectRef) Key() string {
	return s.TypeTag + ":" + s.RecordID
}

// Matches reports whether two refs name the same record, ignoring the slot.
func (s SubjectRef) Matches(other SubjectRef) bool {
	return s.TypeTag == other.TypeTag && s.RecordID == other.RecordID
}

func (s SubjectRef) String() string {
	if s.Slot == 0 {
		return s.Key()
	}
	return "#" + strconv.Itoa(s.Slot) + " " + s.Key()
}

// LogEntry is an immutable audit record.
type LogEntry struct {
	ID             string         `json:"id"`
	ActorID        *string        `json:"actor_id"` // NULL once the actor is deleted
	Actor          *UserSummary   `json:"actor"`
	Action         string         `json:"action"`
	Description    string         `json:"description"`
	Data           map[string]any `json:"data,omitempty"`
	ActionTemplate *string        `json:"-"`
	Subjects       []SubjectRef   `json:"subjects"`
	CreatedAt      time.Time      `json:"created_at"`
}

// HasSubject reports whether ref appears in any slot.
func (e *LogEntry) HasSubject(ref SubjectRef) bool {
	for _, s := range e.Subjects {
		if s.Matches(ref) {
			return true
		}
	}
	return false
}

// messageView is what an action template sees. It copies fields only, so a template cannot
// reach back into LogEntry methods.
type messageView struct {
	Action      string
	Description string
	Actor       *UserSummary
	Data        map[string]any
	Subjects    []SubjectRef
	CreatedAt   time.Time
}

// Message renders the registered action template, falling back to the description and then
// the action key. A template that fails to parse or execute is treated as absent.
func (e *LogEntry) Message() string {
	if e.ActionTemplate != nil && *e.ActionTemplate != "" {
		tmpl, err := template.New(e.Action).Option("missingkey=zero").Parse(*e.ActionTemplate)
		if err == nil {
			view := messageView{
				Action:      e.Action,
				Description: e.Description,
				Actor:       e.Actor,
				Data:        e.Data,
				Subjects:    e.Subjects,
				CreatedAt:   e.CreatedAt,
			}
			var buf bytes.Buffer
			err = tmpl.Execute(&buf, map[string]any{
				"Entry":    view,
				"Actor":    view.Actor,
				"Data":     view.Data,
				"Subjects": view.Subjects,
			})
			if err == nil {
				return buf.String()
			}
		}
	}
	if e.Description != "" {
		return e.Description
	}
	return e.Action
}

// LogAction is a registered action key with its display template.
type LogAction struct {
	Name      string    `json:"name"`
	Template  string    `json:"template"`
	CreatedAt time.Time `json:"created_at"`
}
