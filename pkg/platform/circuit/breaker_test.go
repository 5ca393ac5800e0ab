package circuit

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// outcome sequences: 'F' a failed index write, 'S' a successful one or an
// applied resync.
func TestBreaker_Sequences(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		successes int
		outcomes  string
		wantOpen  bool
		opened    int
		closed    int
	}{
		{name: "defaults stay closed below five failures", outcomes: "FFFF", wantOpen: false},
		{name: "defaults open on the fifth failure", outcomes: "FFFFF", wantOpen: true, opened: 1},
		{name: "a success between failures restarts the count", failures: 3, outcomes: "FFSFF", wantOpen: false},
		{name: "failures while open do not reopen", failures: 1, outcomes: "FFF", wantOpen: true, opened: 1},
		{name: "resync successes close it", failures: 1, successes: 2, outcomes: "FSS", wantOpen: false, opened: 1, closed: 1},
		{name: "a failure while recovering restarts the success count", failures: 1, successes: 2, outcomes: "FSFS", wantOpen: true, opened: 1},
		{name: "it can open again after closing", failures: 2, successes: 1, outcomes: "FFSFF", wantOpen: true, opened: 2, closed: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []Option
			if tt.failures > 0 {
				opts = append(opts, WithFailureThreshold(tt.failures))
			}
			if tt.successes > 0 {
				opts = append(opts, WithSuccessThreshold(tt.successes))
			}
			b := New("search-index", opts...)

			var opened, closed int
			for _, o := range tt.outcomes {
				var change StateChange
				if o == 'F' {
					_, change = b.RecordFailure()
				} else {
					_, change = b.RecordSuccess()
				}
				if change.Opened {
					opened++
				}
				if change.Closed {
					closed++
				}
			}
			assert.Equal(t, tt.wantOpen, b.IsOpen())
			assert.Equal(t, tt.opened, opened)
			assert.Equal(t, tt.closed, closed)
		})
	}
}

func TestBreaker_ReportsWhichPathToTake(t *testing.T) {
	b := New("search-index", WithFailureThreshold(1), WithSuccessThreshold(1))
	assert.Equal(t, "search-index", b.Name())
	assert.Equal(t, "closed", b.State().String())

	usePrimary, _ := b.RecordSuccess()
	assert.True(t, usePrimary)

	useFallback, change := b.RecordFailure()
	assert.True(t, useFallback, "the failure that opens it already diverts to the fallback")
	assert.True(t, change.Opened)
	assert.Equal(t, "open", b.State().String())

	usePrimary, change = b.RecordSuccess()
	assert.True(t, usePrimary)
	assert.True(t, change.Closed)
}

func TestBreaker_SharedByWritersAndResync(t *testing.T) {
	b := New("search-index", WithFailureThreshold(10), WithSuccessThreshold(5))

	var wg sync.WaitGroup
	var opened atomic.Int32
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, change := b.RecordFailure(); change.Opened {
				opened.Add(1)
			}
		}()
	}
	wg.Wait()
	require.True(t, b.IsOpen())
	assert.Equal(t, int32(1), opened.Load(), "concurrent writers open it once")

	var closed atomic.Int32
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, change := b.RecordSuccess(); change.Closed {
				closed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.False(t, b.IsOpen())
	assert.Equal(t, int32(1), closed.Load())
}
