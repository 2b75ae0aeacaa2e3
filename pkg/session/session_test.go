package session

import (
	"testing"
	"time"

	"github.com/mikekulinski/zkasync/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailbox_PreservesOrder(t *testing.T) {
	m := NewMailbox()
	defer m.Close()

	// Pushing never blocks even with no reader.
	for i := 0; i < 100; i++ {
		m.Push(&wire.Frame{Xid: int64(i)})
	}
	for i := 0; i < 100; i++ {
		select {
		case f := <-m.Out():
			assert.Equal(t, int64(i), f.Xid)
		case <-time.After(time.Second):
			require.FailNow(t, "timed out waiting for frame", "frame %d", i)
		}
	}
}

func TestMailbox_Close(t *testing.T) {
	m := NewMailbox()
	m.Close()
	m.Push(&wire.Frame{Xid: 1})
	// Closing twice is fine.
	m.Close()

	select {
	case _, ok := <-m.Out():
		assert.False(t, ok)
	case <-time.After(time.Second):
		require.FailNow(t, "out channel was not closed")
	}
}

func TestSession_Expired(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		expired bool
	}{
		{
			name:    "recently heard from",
			elapsed: time.Second,
			expired: false,
		},
		{
			name:    "silent past the timeout",
			elapsed: 3 * time.Second,
			expired: true,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s := NewSession(1, "client", 2*time.Second, false)
			defer s.Outbound.Close()
			now := time.Now()
			s.Touch(now)
			assert.Equal(t, test.expired, s.Expired(now.Add(test.elapsed)))
		})
	}
}
