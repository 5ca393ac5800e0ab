package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	id "logbook/pkg/domain"
)

func TestTenantID(t *testing.T) {
	t.Run("absent tenant is reported", func(t *testing.T) {
		_, ok := TenantID(context.Background())
		assert.False(t, ok)
	})

	t.Run("tenant zero is a real tenant", func(t *testing.T) {
		tenant, ok := TenantID(WithTenantID(context.Background(), id.TenantID(0)))
		assert.True(t, ok)
		assert.Equal(t, id.TenantID(0), tenant)
	})
}

func TestNow(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, fixed, Now(WithTime(context.Background(), fixed)))
	assert.WithinDuration(t, time.Now(), Now(context.Background()), time.Second)
}
