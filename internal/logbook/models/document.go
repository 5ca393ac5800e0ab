package models

import (
	"encoding/json"
	"fmt"
	"time"

	id "logbook/pkg/domain"
)

// Document field names used by queries, projections and stores.
const (
	DocFieldID                = "_id"
	DocFieldTenant            = "_tenant"
	DocFieldVersion           = "_v"
	DocFieldEvents            = "events"
	DocFieldLastPersistedDate = "_lastPersistedDate"
	DocFieldStage             = "_stage"
	DocFieldProcess           = "_process"
)

// Stage records which transition a staged (InProcess) document is waiting for.
type Stage string

const (
	StageCreate Stage = "create"
	StageUpdate Stage = "update"
)

// Document is the persisted shape of Operations and Lifecycles.
//
// For a staged update Version holds the committed base version the staged
// events will be appended to; for a staged create it is 0.
type Document struct {
	ID                string      `json:"_id"`
	Tenant            id.TenantID `json:"_tenant"`
	Version           int         `json:"_v"`
	Events            []Event     `json:"events"`
	LastPersistedDate time.Time   `json:"_lastPersistedDate"`
	Stage             Stage       `json:"_stage,omitempty"`
	ProcessID         string      `json:"_process,omitempty"`
}

// Master returns the creation event.
func (d Document) Master() (Event, bool) {
	if len(d.Events) == 0 {
		return Event{}, false
	}
	return d.Events[0], true
}

// Clone returns a deep copy safe to hand out of a store.
func (d Document) Clone() Document {
	if d.Events != nil {
		events := make([]Event, len(d.Events))
		for i, e := range d.Events {
			events[i] = e.Clone()
		}
		d.Events = events
	}
	return d
}

// View applies the read-time disclosure rule. A restricted view keeps agent
// identification on the master event only; storage is never modified.
func (d Document) View(restricted bool) Document {
	out := d.Clone()
	if restricted {
		out.Events = SliceEvents(out.Events)
	}
	return out
}

// SliceEvents returns a copy of events where every event after the first has
// its agent identification removed.
func SliceEvents(events []Event) []Event {
	if events == nil {
		return nil
	}
	out := make([]Event, len(events))
	for i, e := range events {
		if i == 0 {
			out[i] = e
			continue
		}
		out[i] = e.Redacted()
	}
	return out
}

// Equal compares documents field by field, events included.
func (d Document) Equal(o Document) bool {
	if d.ID != o.ID || d.Tenant != o.Tenant || d.Version != o.Version ||
		d.Stage != o.Stage || d.ProcessID != o.ProcessID ||
		!d.LastPersistedDate.Equal(o.LastPersistedDate) ||
		len(d.Events) != len(o.Events) {
		return false
	}
	for i := range d.Events {
		if !d.Events[i].Equal(o.Events[i]) {
			return false
		}
	}
	return true
}

// ToMap converts the document into its JSON-compatible map form.
func (d Document) ToMap() (map[string]any, error) {
	return toMap(d)
}

// DocumentFromMap builds a document from its JSON-compatible map form.
func DocumentFromMap(m map[string]any) (Document, error) {
	var d Document
	if err := fromMap(m, &d); err != nil {
		return Document{}, fmt.Errorf("decode document: %w", err)
	}
	return d, nil
}

// MarshalDocument serializes a document for the search index.
func MarshalDocument(d Document) ([]byte, error) {
	return json.Marshal(d)
}

// UnmarshalDocument parses a serialized document.
func UnmarshalDocument(raw []byte) (Document, error) {
	var d Document
	if err := json.Unmarshal(raw, &d); err != nil {
		return Document{}, fmt.Errorf("decode document: %w", err)
	}
	return d, nil
}

// Mutation is the atomic change applied by an update: push events and bump
// the version by one.
type Mutation struct {
	Push []Event
	// ExpectedVersion, when set, makes the update fail with a conflict unless
	// the stored version still equals it.
	ExpectedVersion *int
}

// WriteResult describes a successful primary write.
//
// IndexWarning is set when the write landed in the primary store but the
// search index mirror failed; it is never a reason to treat the write as
// failed.
type WriteResult struct {
	ID           string
	Version      int
	IndexWarning error
}
