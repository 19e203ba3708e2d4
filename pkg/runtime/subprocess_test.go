package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubprocessLauncher_RunScript_Succeeds(t *testing.T) {
	l := NewSubprocessLauncher(zerolog.Nop())
	err := l.RunScript(context.Background(), ScriptSpec{
		ServiceName: "demo",
		Command:     "exit 0",
	})
	assert.NoError(t, err)
}

func TestSubprocessLauncher_RunScript_ReturnsCombinedOutputOnFailure(t *testing.T) {
	l := NewSubprocessLauncher(zerolog.Nop())
	err := l.RunScript(context.Background(), ScriptSpec{
		ServiceName: "demo",
		Command:     "echo boom >&2; exit 1",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestSubprocessLauncher_RunScript_TimesOut(t *testing.T) {
	l := NewSubprocessLauncher(zerolog.Nop())
	err := l.RunScript(context.Background(), ScriptSpec{
		ServiceName: "demo",
		Command:     "sleep 5",
		Timeout:     50 * time.Millisecond,
	})
	require.Error(t, err)
}

func TestSubprocessLauncher_StartService_WaitAndStop(t *testing.T) {
	l := NewSubprocessLauncher(zerolog.Nop())
	handle, err := l.StartService(context.Background(), ServiceSpec{
		ServiceName: "demo",
		Command:     "sleep 5",
	})
	require.NoError(t, err)
	assert.True(t, handle.Running())

	err = handle.Stop(context.Background(), time.Second)
	assert.NoError(t, err)
	assert.False(t, handle.Running())
}

func TestSubprocessLauncher_StartService_StopAfterExitReturnsErrNotRunning(t *testing.T) {
	l := NewSubprocessLauncher(zerolog.Nop())
	handle, err := l.StartService(context.Background(), ServiceSpec{
		ServiceName: "demo",
		Command:     "exit 0",
	})
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = handle.Wait(waitCtx)

	err = handle.Stop(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrNotRunning)
}
