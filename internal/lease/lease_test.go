// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lease

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/robotlab/robotd/internal/bus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func testConfig() Config {
	return Config{
		MaxDuration:   30 * time.Minute,
		IdleTimeout:   5 * time.Minute,
		WarningGrace:  30 * time.Second,
		CheckInterval: 10 * time.Millisecond,
	}
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestManager_MutualExclusion(t *testing.T) {
	mgr := New(testConfig, nil, nil)

	res, err := mgr.Acquire(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "granted", res.Status)
	assert.NotEmpty(t, res.LeaseID)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = mgr.Acquire(ctx, "bob")
	assert.Error(t, err, "a second holder must not be granted while the lease is held")
}

func TestManager_AlreadyHeld(t *testing.T) {
	mgr := New(testConfig, nil, nil)
	first, err := mgr.Acquire(context.Background(), "alice")
	require.NoError(t, err)

	second, err := mgr.Acquire(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "already_held", second.Status)
	assert.Equal(t, first.LeaseID, second.LeaseID)
}

func TestManager_QueueFIFO(t *testing.T) {
	mgr := New(testConfig, nil, nil)
	first, err := mgr.Acquire(context.Background(), "alice")
	require.NoError(t, err)

	type result struct {
		holder string
		res    AcquireResult
	}
	results := make(chan result, 2)

	go func() {
		res, err := mgr.Acquire(context.Background(), "bob")
		require.NoError(t, err)
		results <- result{"bob", res}
	}()
	time.Sleep(5 * time.Millisecond)
	go func() {
		res, err := mgr.Acquire(context.Background(), "carol")
		require.NoError(t, err)
		results <- result{"carol", res}
	}()
	time.Sleep(5 * time.Millisecond)

	status := mgr.Status()
	require.Len(t, status.Queue, 2)
	assert.Equal(t, "bob", status.Queue[0].Holder)
	assert.Equal(t, "carol", status.Queue[1].Holder)

	mgr.Release(first.LeaseID)
	first2 := <-results
	assert.Equal(t, "bob", first2.holder, "queue must admit in FIFO order")

	mgr.Release(first2.res.LeaseID)
	second2 := <-results
	assert.Equal(t, "carol", second2.holder)
}

func TestManager_StatusExcludesLeaseID(t *testing.T) {
	mgr := New(testConfig, nil, nil)
	_, err := mgr.Acquire(context.Background(), "alice")
	require.NoError(t, err)

	raw, err := json.Marshal(mgr.Status())
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "lease_id", "status payload must never leak the lease id")
	assert.Contains(t, string(raw), "alice")
}

func TestManager_ValidateAndExtend(t *testing.T) {
	mgr := New(testConfig, nil, nil)
	granted, err := mgr.Acquire(context.Background(), "alice")
	require.NoError(t, err)

	assert.True(t, mgr.ValidateLease(granted.LeaseID))
	assert.False(t, mgr.ValidateLease("bogus"))

	remaining, ok := mgr.Extend(granted.LeaseID)
	assert.True(t, ok)
	assert.Greater(t, remaining, 0.0)
}

func TestManager_IdleRevocation(t *testing.T) {
	cfg := Config{
		MaxDuration:   time.Hour,
		IdleTimeout:   20 * time.Millisecond,
		WarningGrace:  5 * time.Millisecond,
		CheckInterval: 5 * time.Millisecond,
	}
	b := bus.NewMemoryBus()
	sub, err := b.Subscribe(context.Background(), TopicFeedback)
	require.NoError(t, err)
	defer sub.Close()

	mgr := New(func() Config { return cfg }, fixedMotion{}, b)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx)
	defer mgr.Stop()

	granted, err := mgr.Acquire(context.Background(), "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, granted.LeaseID)

	require.Eventually(t, func() bool {
		return !mgr.ValidateLease(granted.LeaseID)
	}, time.Second, 5*time.Millisecond, "idle lease must be revoked after idle_timeout")

	var sawRevoke bool
	for i := 0; i < 10; i++ {
		select {
		case msg := <-sub.C():
			if m, ok := msg.(map[string]any); ok && m["type"] == "lease_revoked" {
				sawRevoke = true
			}
		case <-time.After(50 * time.Millisecond):
		}
		if sawRevoke {
			break
		}
	}
	assert.True(t, sawRevoke, "a lease_revoked event must be published on idle revocation")
}

func TestManager_ResetOnReleaseAdmitsNextHolder(t *testing.T) {
	cfg := testConfig()
	cfg.ResetOnRelease = true
	mgr := New(func() Config { return cfg }, nil, nil)

	resetCalled := make(chan struct{}, 1)
	mgr.SetOnLeaseEnd(func(ctx context.Context) error {
		resetCalled <- struct{}{}
		return nil
	})

	first, err := mgr.Acquire(context.Background(), "alice")
	require.NoError(t, err)

	done := make(chan AcquireResult, 1)
	go func() {
		res, err := mgr.Acquire(context.Background(), "bob")
		require.NoError(t, err)
		done <- res
	}()
	time.Sleep(5 * time.Millisecond)

	mgr.Release(first.LeaseID)

	select {
	case <-resetCalled:
	case <-time.After(time.Second):
		t.Fatal("reset hook was not invoked on release")
	}

	select {
	case res := <-done:
		assert.Equal(t, "granted", res.Status)
	case <-time.After(time.Second):
		t.Fatal("next holder was not admitted after reset completed")
	}
}

func TestManager_ClearQueueCancelsWaiters(t *testing.T) {
	mgr := New(testConfig, nil, nil)
	_, err := mgr.Acquire(context.Background(), "alice")
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := mgr.Acquire(context.Background(), "bob")
		errs <- err
	}()
	time.Sleep(5 * time.Millisecond)

	mgr.ClearQueue()

	select {
	case err := <-errs:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("queued acquire must be cancelled by ClearQueue")
	}
}

type fixedMotion struct{}

func (fixedMotion) LastMovedAt() time.Time { return time.Time{} }
