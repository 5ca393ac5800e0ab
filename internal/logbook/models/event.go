package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	dErrors "logbook/pkg/domain-errors"
)

// Event is one immutable recorded fact. Events are appended to an Operation or
// a Lifecycle and never edited in place; corrections are new events.
//
// Opaque payloads (agIdExt, rightsStatementIdentifier, eventDetailData,
// masterData) are kept as raw JSON and never interpreted by the store.
type Event struct {
	EventIdentifier                   string          `json:"eventIdentifier"`
	EventIdentifierProcess            string          `json:"eventIdentifierProcess"`
	EventType                         string          `json:"eventType"`
	EventDateTime                     string          `json:"eventDateTime"`
	EventTypeProcess                  string          `json:"eventTypeProcess"`
	Outcome                           Outcome         `json:"outcome"`
	OutcomeDetail                     string          `json:"outcomeDetail,omitempty"`
	OutcomeDetailMessage              string          `json:"outcomeDetailMessage,omitempty"`
	AgentIdentifierApplication        string          `json:"agentIdentifierApplication,omitempty"`
	AgentIdentifierApplicationSession string          `json:"agentIdentifierApplicationSession,omitempty"`
	AgentIdentifierOriginating        string          `json:"agentIdentifierOriginating,omitempty"`
	AgentIdentifierSubmission         string          `json:"agentIdentifierSubmission,omitempty"`
	AgIDExt                           json.RawMessage `json:"agIdExt,omitempty"`
	RightsStatementIdentifier         json.RawMessage `json:"rightsStatementIdentifier,omitempty"`
	EventDetailData                   json.RawMessage `json:"eventDetailData,omitempty"`
	MasterData                        json.RawMessage `json:"masterData,omitempty"`
	ParentEventIdentifier             *string         `json:"parentEventIdentifier,omitempty"`
	// Correction marks events written through the administrative
	// force-update path instead of stage/commit.
	Correction bool `json:"correction,omitempty"`
}

// Event field names as they appear in stored documents and in query paths.
const (
	FieldEventIdentifier                   = "eventIdentifier"
	FieldEventIdentifierProcess            = "eventIdentifierProcess"
	FieldEventType                         = "eventType"
	FieldEventDateTime                     = "eventDateTime"
	FieldEventTypeProcess                  = "eventTypeProcess"
	FieldOutcome                           = "outcome"
	FieldOutcomeDetail                     = "outcomeDetail"
	FieldOutcomeDetailMessage              = "outcomeDetailMessage"
	FieldAgentIdentifierApplication        = "agentIdentifierApplication"
	FieldAgentIdentifierApplicationSession = "agentIdentifierApplicationSession"
	FieldAgentIdentifierOriginating        = "agentIdentifierOriginating"
	FieldAgentIdentifierSubmission         = "agentIdentifierSubmission"
	FieldAgIDExt                           = "agIdExt"
	FieldRightsStatementIdentifier         = "rightsStatementIdentifier"
	FieldEventDetailData                   = "eventDetailData"
	FieldMasterData                        = "masterData"
	FieldParentEventIdentifier             = "parentEventIdentifier"
	FieldCorrection                        = "correction"
)

// FieldKind tells the query layer whether a field may be addressed with a
// dotted sub-path.
type FieldKind int

const (
	FieldScalar FieldKind = iota
	FieldOpaque
)

// EventFields lists every addressable event field.
var EventFields = map[string]FieldKind{
	FieldEventIdentifier:                   FieldScalar,
	FieldEventIdentifierProcess:            FieldScalar,
	FieldEventType:                         FieldScalar,
	FieldEventDateTime:                     FieldScalar,
	FieldEventTypeProcess:                  FieldScalar,
	FieldOutcome:                           FieldScalar,
	FieldOutcomeDetail:                     FieldScalar,
	FieldOutcomeDetailMessage:              FieldScalar,
	FieldAgentIdentifierApplication:        FieldScalar,
	FieldAgentIdentifierApplicationSession: FieldScalar,
	FieldAgentIdentifierOriginating:        FieldScalar,
	FieldAgentIdentifierSubmission:         FieldScalar,
	FieldAgIDExt:                           FieldOpaque,
	FieldRightsStatementIdentifier:         FieldOpaque,
	FieldEventDetailData:                   FieldOpaque,
	FieldMasterData:                        FieldOpaque,
	FieldParentEventIdentifier:             FieldScalar,
	FieldCorrection:                        FieldScalar,
}

// eventDateTimeLayouts accepts ISO-8601 with or without a zone; fractional
// seconds are accepted by time.Parse after the seconds field.
var eventDateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// ParseEventDateTime parses an ISO-8601 event timestamp.
func ParseEventDateTime(s string) (time.Time, error) {
	for _, layout := range eventDateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid eventDateTime %q", s)
}

// Validate enforces the fields every appended event must carry.
func (e Event) Validate() error {
	missing := func(field string) error {
		return dErrors.Newf(dErrors.CodeValidation, "event %s is required", field)
	}
	switch {
	case e.EventIdentifier == "":
		return missing(FieldEventIdentifier)
	case e.EventIdentifierProcess == "":
		return missing(FieldEventIdentifierProcess)
	case e.EventType == "":
		return missing(FieldEventType)
	case e.EventTypeProcess == "":
		return missing(FieldEventTypeProcess)
	case e.EventDateTime == "":
		return missing(FieldEventDateTime)
	}
	if !e.Outcome.IsValid() {
		return dErrors.Newf(dErrors.CodeValidation, "event outcome %q is not valid", e.Outcome)
	}
	if _, err := ParseEventDateTime(e.EventDateTime); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "event eventDateTime must be ISO-8601")
	}
	for field, raw := range map[string]json.RawMessage{
		FieldAgIDExt:                   e.AgIDExt,
		FieldRightsStatementIdentifier: e.RightsStatementIdentifier,
		FieldEventDetailData:           e.EventDetailData,
		FieldMasterData:                e.MasterData,
	} {
		if len(raw) > 0 && !json.Valid(raw) {
			return dErrors.Newf(dErrors.CodeValidation, "event %s is not valid JSON", field)
		}
	}
	return nil
}

// ValidateCreation enforces the stricter rules of the master event that
// creates a document: it must identify the submitting application.
func (e Event) ValidateCreation() error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.AgentIdentifierApplication == "" {
		return dErrors.Newf(dErrors.CodeValidation, "creation event %s is required", FieldAgentIdentifierApplication)
	}
	if e.AgentIdentifierApplicationSession == "" {
		return dErrors.Newf(dErrors.CodeValidation, "creation event %s is required", FieldAgentIdentifierApplicationSession)
	}
	return nil
}

// Redacted returns a copy without agent identification fields.
func (e Event) Redacted() Event {
	e.AgentIdentifierApplication = ""
	e.AgentIdentifierApplicationSession = ""
	e.AgentIdentifierOriginating = ""
	e.AgentIdentifierSubmission = ""
	e.AgIDExt = nil
	e.RightsStatementIdentifier = nil
	return e
}

// HasAgentFields reports whether any agent identification field is set.
func (e Event) HasAgentFields() bool {
	return e.AgentIdentifierApplication != "" ||
		e.AgentIdentifierApplicationSession != "" ||
		e.AgentIdentifierOriginating != "" ||
		e.AgentIdentifierSubmission != "" ||
		len(e.AgIDExt) > 0 ||
		len(e.RightsStatementIdentifier) > 0
}

// Clone returns a deep copy; raw JSON payloads are copied too.
func (e Event) Clone() Event {
	e.AgIDExt = cloneRaw(e.AgIDExt)
	e.RightsStatementIdentifier = cloneRaw(e.RightsStatementIdentifier)
	e.EventDetailData = cloneRaw(e.EventDetailData)
	e.MasterData = cloneRaw(e.MasterData)
	if e.ParentEventIdentifier != nil {
		parent := *e.ParentEventIdentifier
		e.ParentEventIdentifier = &parent
	}
	return e
}

// Equal compares every field. Raw payloads compare by their decoded JSON
// value, so whitespace and key order introduced by a store do not matter.
func (e Event) Equal(o Event) bool {
	if !equalRaw(e.AgIDExt, o.AgIDExt) ||
		!equalRaw(e.RightsStatementIdentifier, o.RightsStatementIdentifier) ||
		!equalRaw(e.EventDetailData, o.EventDetailData) ||
		!equalRaw(e.MasterData, o.MasterData) {
		return false
	}
	switch {
	case e.ParentEventIdentifier == nil && o.ParentEventIdentifier != nil,
		e.ParentEventIdentifier != nil && o.ParentEventIdentifier == nil:
		return false
	case e.ParentEventIdentifier != nil && *e.ParentEventIdentifier != *o.ParentEventIdentifier:
		return false
	}
	a, b := e, o
	a.AgIDExt, a.RightsStatementIdentifier, a.EventDetailData, a.MasterData, a.ParentEventIdentifier = nil, nil, nil, nil, nil
	b.AgIDExt, b.RightsStatementIdentifier, b.EventDetailData, b.MasterData, b.ParentEventIdentifier = nil, nil, nil, nil, nil
	return a.equalScalars(b)
}

// equalRaw treats an absent payload and JSON null as the same value.
func equalRaw(a, b json.RawMessage) bool {
	if bytes.Equal(a, b) {
		return true
	}
	var va, vb any
	if len(a) > 0 {
		if err := json.Unmarshal(a, &va); err != nil {
			return false
		}
	}
	if len(b) > 0 {
		if err := json.Unmarshal(b, &vb); err != nil {
			return false
		}
	}
	return reflect.DeepEqual(va, vb)
}

func (e Event) equalScalars(o Event) bool {
	return e.EventIdentifier == o.EventIdentifier &&
		e.EventIdentifierProcess == o.EventIdentifierProcess &&
		e.EventType == o.EventType &&
		e.EventDateTime == o.EventDateTime &&
		e.EventTypeProcess == o.EventTypeProcess &&
		e.Outcome == o.Outcome &&
		e.OutcomeDetail == o.OutcomeDetail &&
		e.OutcomeDetailMessage == o.OutcomeDetailMessage &&
		e.AgentIdentifierApplication == o.AgentIdentifierApplication &&
		e.AgentIdentifierApplicationSession == o.AgentIdentifierApplicationSession &&
		e.AgentIdentifierOriginating == o.AgentIdentifierOriginating &&
		e.AgentIdentifierSubmission == o.AgentIdentifierSubmission &&
		e.Correction == o.Correction
}

// ToMap converts the event into its JSON-compatible map form.
func (e Event) ToMap() (map[string]any, error) {
	return toMap(e)
}

// EventFromMap builds an event from its JSON-compatible map form.
func EventFromMap(m map[string]any) (Event, error) {
	var e Event
	if err := fromMap(m, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return e, nil
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func fromMap(m map[string]any, v any) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
