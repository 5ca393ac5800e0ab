// Package logbooktest builds events and documents for logbook tests.
package logbooktest

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"logbook/internal/logbook/models"
)

// BaseTime is the timestamp of the first fixture event.
var BaseTime = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

// EventOption customizes a fixture event.
type EventOption func(*models.Event)

// Event returns a valid event owned by process with the given outcome.
// Agent identification is filled in so slicing is observable.
func Event(process string, outcome models.Outcome, opts ...EventOption) models.Event {
	e := models.Event{
		EventIdentifier:                   uuid.NewString(),
		EventIdentifierProcess:            process,
		EventType:                         "STP_INGEST",
		EventDateTime:                     BaseTime.Format(time.RFC3339Nano),
		EventTypeProcess:                  "INGEST",
		Outcome:                           outcome,
		OutcomeDetail:                     "STP_INGEST." + string(outcome),
		OutcomeDetailMessage:              "step " + string(outcome),
		AgentIdentifierApplication:        "app-ingest",
		AgentIdentifierApplicationSession: "session-" + process,
		AgentIdentifierOriginating:        "orig-agency",
		AgentIdentifierSubmission:         "sub-agency",
		AgIDExt:                           json.RawMessage(`{"originatingAgency":"AG-1"}`),
		RightsStatementIdentifier:         json.RawMessage(`{"ArchivalAgreement":"CT-1"}`),
		EventDetailData:                   json.RawMessage(`{"size":42}`),
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// Started returns a valid creation event for process.
func Started(process string, opts ...EventOption) models.Event {
	return Event(process, models.OutcomeStarted, opts...)
}

// WithType sets the event type.
func WithType(eventType string) EventOption {
	return func(e *models.Event) { e.EventType = eventType }
}

// WithDetail sets the event detail payload.
func WithDetail(raw string) EventOption {
	return func(e *models.Event) { e.EventDetailData = json.RawMessage(raw) }
}

// WithDateTime sets the event timestamp.
func WithDateTime(t time.Time) EventOption {
	return func(e *models.Event) { e.EventDateTime = t.Format(time.RFC3339Nano) }
}

// WithoutAgent clears agent identification.
func WithoutAgent() EventOption {
	return func(e *models.Event) { *e = e.Redacted() }
}

// Document returns a committed document holding events.
func Document(docID string, tenant int, version int, events ...models.Event) models.Document {
	return models.Document{
		ID:                docID,
		Tenant:            tenantID(tenant),
		Version:           version,
		Events:            events,
		LastPersistedDate: BaseTime,
	}
}
