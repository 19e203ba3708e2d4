package runtime

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetedge/deployd/pkg/types"
)

// SubprocessLauncher runs recipe lifecycle phases as plain OS processes via
// os/exec, the launch path for recipe.ArtifactKindSubprocess. Phase
// sequencing (start, wait-with-timeout, report failure) is grounded in the
// teacher's worker.executeContainer, generalized from "pull image, create
// container, start container" to "build *exec.Cmd, apply posixUser
// credentials if RequiresPrivilege, start, wait".
type SubprocessLauncher struct {
	logger zerolog.Logger
}

// NewSubprocessLauncher constructs a SubprocessLauncher.
func NewSubprocessLauncher(logger zerolog.Logger) *SubprocessLauncher {
	return &SubprocessLauncher{logger: logger.With().Str("component", "runtime.subprocess").Logger()}
}

// RunScript runs spec.Command to completion via "sh -c", bounded by
// spec.Timeout (0 means no bound).
func (l *SubprocessLauncher) RunScript(ctx context.Context, spec ScriptSpec) error {
	if spec.Command == "" {
		return nil
	}
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", spec.Command)
	cmd.Dir = spec.WorkDir
	cmd.Env = append(os.Environ(), spec.Env...)
	if err := applyCredentials(cmd, spec.RunWith, spec.RequiresPrivilege); err != nil {
		return fmt.Errorf("runtime: %s: %w", spec.ServiceName, err)
	}

	l.logger.Debug().Str("service", spec.ServiceName).Str("command", spec.Command).Msg("running lifecycle script")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("runtime: %s: script failed: %w (output: %s)", spec.ServiceName, err, string(out))
	}
	return nil
}

// StartService launches spec.Command as a long-running process and returns
// a handle for supervision.
func (l *SubprocessLauncher) StartService(ctx context.Context, spec ServiceSpec) (ServiceHandle, error) {
	if spec.Command == "" {
		return nil, fmt.Errorf("runtime: %s: no run command", spec.ServiceName)
	}
	cmd := exec.Command("sh", "-c", spec.Command)
	cmd.Dir = spec.WorkDir
	cmd.Env = append(os.Environ(), spec.Env...)
	if err := applyCredentials(cmd, spec.RunWith, spec.RequiresPrivilege); err != nil {
		return nil, fmt.Errorf("runtime: %s: %w", spec.ServiceName, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("runtime: %s: start: %w", spec.ServiceName, err)
	}
	l.logger.Info().Str("service", spec.ServiceName).Int("pid", cmd.Process.Pid).Msg("service started")

	h := &subprocessHandle{cmd: cmd, exited: make(chan struct{})}
	h.running.Store(true)
	go func() {
		h.waitErr = cmd.Wait()
		h.running.Store(false)
		close(h.exited)
	}()
	return h, nil
}

// applyCredentials resolves RunWith.PosixUser to a syscall.Credential and
// attaches it to cmd, dropping privilege for a RequiresPrivilege-free
// recipe running as a non-root daemon and otherwise leaving the process
// under the engine's own identity.
func applyCredentials(cmd *exec.Cmd, runWith *types.RunWith, requiresPrivilege bool) error {
	if runWith == nil || runWith.PosixUser == "" {
		return nil
	}
	if requiresPrivilege {
		// The recipe declared it needs elevated privileges; run as the
		// engine's own (expected-root) identity rather than dropping to
		// PosixUser.
		return nil
	}
	u, err := user.Lookup(runWith.PosixUser)
	if err != nil {
		return fmt.Errorf("resolving posixUser %q: %w", runWith.PosixUser, err)
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return fmt.Errorf("parsing uid for %q: %w", runWith.PosixUser, err)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return fmt.Errorf("parsing gid for %q: %w", runWith.PosixUser, err)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Credential: &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)},
	}
	return nil
}

type subprocessHandle struct {
	cmd     *exec.Cmd
	exited  chan struct{}
	waitErr error
	running atomic.Bool
	mu      sync.Mutex
}

func (h *subprocessHandle) Wait(ctx context.Context) error {
	select {
	case <-h.exited:
		return h.waitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *subprocessHandle) Running() bool {
	return h.running.Load()
}

func (h *subprocessHandle) Stop(ctx context.Context, timeout time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running.Load() {
		return ErrNotRunning
	}

	_ = h.cmd.Process.Signal(syscall.SIGTERM)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-h.exited:
		return nil
	case <-timer.C:
		_ = h.cmd.Process.Kill()
		<-h.exited
		return nil
	case <-ctx.Done():
		_ = h.cmd.Process.Kill()
		return ctx.Err()
	}
}
