package imap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostLimiter_SessionCeiling(t *testing.T) {
	limiter := NewHostLimiter(2, 0)
	ctx := context.Background()

	require.NoError(t, limiter.Acquire(ctx, "imap.example.com"))
	require.NoError(t, limiter.Acquire(ctx, "imap.example.com"))
	assert.Equal(t, 2, limiter.InUse("imap.example.com"))

	blocked, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := limiter.Acquire(blocked, "imap.example.com")
	require.Error(t, err)

	limiter.Release("imap.example.com")
	require.NoError(t, limiter.Acquire(ctx, "imap.example.com"))
}

func TestHostLimiter_HostsAreIndependent(t *testing.T) {
	limiter := NewHostLimiter(1, 0)
	ctx := context.Background()

	require.NoError(t, limiter.Acquire(ctx, "imap.one.com"))
	require.NoError(t, limiter.Acquire(ctx, "imap.two.com"))
	assert.Equal(t, 1, limiter.InUse("imap.one.com"))
	assert.Equal(t, 1, limiter.InUse("imap.two.com"))
}

func TestHostLimiter_DialPacing(t *testing.T) {
	// 60 dials per minute = 1 per second; the bucket starts full.
	limiter := NewHostLimiter(100, 60)
	st := limiter.state("imap.example.com")

	// Drain the initial burst.
	for i := 0; i < 60; i++ {
		assert.Equal(t, time.Duration(0), st.reserveDialToken(60))
	}

	// The next reservations queue behind the refill rate.
	first := st.reserveDialToken(60)
	second := st.reserveDialToken(60)
	assert.Greater(t, first, 500*time.Millisecond)
	assert.Greater(t, second, first)
}

func TestHostLimiter_AcquireRespectsContext(t *testing.T) {
	limiter := NewHostLimiter(1, 0)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, limiter.Acquire(ctx, "imap.example.com"))

	done := make(chan error, 1)
	go func() {
		done <- limiter.Acquire(ctx, "imap.example.com")
	}()
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("acquire did not observe cancellation")
	}
}
