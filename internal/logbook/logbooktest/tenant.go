package logbooktest

import (
	"context"

	id "logbook/pkg/domain"
	"logbook/pkg/requestcontext"
)

func tenantID(n int) id.TenantID { return id.TenantID(n) }

// TenantContext returns a context acting for tenant.
func TenantContext(tenant int) context.Context {
	return requestcontext.WithTenantID(context.Background(), id.TenantID(tenant))
}
