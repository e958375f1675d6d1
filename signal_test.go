package main

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const signalWait = 2 * time.Second

func waitDone(t *testing.T, ctx context.Context, what string) {
	t.Helper()

	select {
	case <-ctx.Done():
	case <-time.After(signalWait):
		t.Fatalf("context still live %s after %s", what, signalWait)
	}
}

func TestWithInterrupt_SIGTERMCancels(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctx := withInterrupt(parent, discardLogger())

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	waitDone(t, ctx, "after SIGTERM")
	require.NoError(t, parent.Err(), "the parent is left alone")
}

func TestWithInterrupt_FollowsParent(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())

	ctx := withInterrupt(parent, discardLogger())
	require.NoError(t, ctx.Err())

	cancel()

	waitDone(t, ctx, "after parent cancel")
}

func TestInterrupter_SecondSignalExits(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	defer cancel()

	codes := make(chan int, 1)
	in := newInterrupter(discardLogger())
	in.signals = make(chan os.Signal, 2)
	in.exit = func(code int) { codes <- code }

	ctx := in.watch(parent)

	in.signals <- syscall.SIGINT
	waitDone(t, ctx, "after first signal")

	select {
	case <-codes:
		t.Fatal("exited on the first signal")
	default:
	}

	in.signals <- syscall.SIGINT

	select {
	case code := <-codes:
		assert.Equal(t, exitInterrupted, code)
	case <-time.After(signalWait):
		t.Fatal("no exit after second signal")
	}
}
