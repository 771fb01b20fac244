package toggle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToggle_ZeroValueIsOff(t *testing.T) {
	var tg Toggle

	assert.False(t, tg.IsOn())
	require.NoError(t, tg.WaitForOff(context.Background()))
}

func TestToggle_SetReportsChange(t *testing.T) {
	tg := New(false)

	assert.True(t, tg.Set(true))
	assert.False(t, tg.Set(true))
	assert.True(t, tg.IsOn())
	assert.True(t, tg.Set(false))
	assert.False(t, tg.IsOn())
}

func TestToggle_WaitForOnReturnsImmediatelyWhenOn(t *testing.T) {
	tg := New(true)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, tg.WaitForOn(ctx))
}

func TestToggle_WaitForOnWakesOnSet(t *testing.T) {
	tg := New(false)
	done := make(chan error, 1)

	go func() {
		done <- tg.WaitForOn(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("WaitForOn returned before the toggle was set")
	case <-time.After(20 * time.Millisecond):
	}

	tg.Set(true)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitForOn did not wake up")
	}
}

func TestToggle_WaitForOffWakesAllWaiters(t *testing.T) {
	tg := New(true)
	done := make(chan error, 3)

	for range 3 {
		go func() {
			done <- tg.WaitForOff(context.Background())
		}()
	}

	time.Sleep(10 * time.Millisecond)
	tg.Set(false)

	for range 3 {
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("waiter did not wake up")
		}
	}
}

func TestToggle_WaitHonorsContext(t *testing.T) {
	tg := New(false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tg.WaitForOn(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
