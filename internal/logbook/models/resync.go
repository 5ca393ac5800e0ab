package models

import (
	"time"

	"github.com/google/uuid"

	id "logbook/pkg/domain"
)

// ResyncRequest asks the index synchronizer to copy documents from the
// primary store into the search index again.
type ResyncRequest struct {
	ID          uuid.UUID   `json:"id"`
	Collection  Collection  `json:"collection"`
	Tenant      id.TenantID `json:"tenant"`
	DocumentIDs []string    `json:"documentIds"`
	Reason      string      `json:"reason"`
	RequestedAt time.Time   `json:"requestedAt"`
}

// NewResyncRequest stamps a request with a fresh identifier.
func NewResyncRequest(c Collection, tenant id.TenantID, ids []string, reason string, now time.Time) ResyncRequest {
	return ResyncRequest{
		ID:          uuid.New(),
		Collection:  c,
		Tenant:      tenant,
		DocumentIDs: append([]string(nil), ids...),
		Reason:      reason,
		RequestedAt: now,
	}
}

// Key is the partitioning key for transports; requests for the same index
// stay ordered.
func (r ResyncRequest) Key() string {
	return IndexName(r.Collection, r.Tenant)
}
