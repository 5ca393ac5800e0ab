package models

import (
	"time"

	id "logbook/pkg/domain"
)

// Lifecycle is the typed, untruncated view of a committed lifecycle.
type Lifecycle struct {
	Kind              LifecycleKind
	ObjectIdentifier  string
	Tenant            id.TenantID
	Version           int
	LastPersistedDate time.Time
	Events            []Event
}

// NewLifecycle builds the typed view from a committed document.
func NewLifecycle(kind LifecycleKind, doc Document) *Lifecycle {
	doc = doc.Clone()
	return &Lifecycle{
		Kind:              kind,
		ObjectIdentifier:  doc.ID,
		Tenant:            doc.Tenant,
		Version:           doc.Version,
		LastPersistedDate: doc.LastPersistedDate,
		Events:            doc.Events,
	}
}

// Master returns the event that created the lifecycle.
func (l *Lifecycle) Master() (Event, bool) {
	if len(l.Events) == 0 {
		return Event{}, false
	}
	return l.Events[0], true
}

// Last returns the most recent event.
func (l *Lifecycle) Last() (Event, bool) {
	if len(l.Events) == 0 {
		return Event{}, false
	}
	return l.Events[len(l.Events)-1], true
}

// Corrections returns the events written by forced updates.
func (l *Lifecycle) Corrections() []Event {
	var out []Event
	for _, e := range l.Events {
		if e.Correction {
			out = append(out, e)
		}
	}
	return out
}

// LifecycleBatch is one object's events within a bulk staging call.
type LifecycleBatch struct {
	ObjectIdentifier string
	Events           []Event
}
