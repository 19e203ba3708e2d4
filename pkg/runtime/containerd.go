package runtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/rs/zerolog"
)

const (
	// DefaultNamespace is the containerd namespace the engine launches
	// component containers into.
	DefaultNamespace = "deployd"

	// DefaultSocketPath is the default containerd socket path.
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// ContainerLauncher runs recipe lifecycle phases for
// recipe.ArtifactKindContainer artifacts via containerd, adapted nearly
// verbatim from the teacher's ContainerdRuntime: image pull, OCI spec
// construction (including CPU/memory limits from RunWith.SystemResourceLimits),
// container creation and task start/stop, generalized from a worker's fixed
// Container task shape to this engine's ServiceSpec/ScriptSpec.
type ContainerLauncher struct {
	client    *containerd.Client
	namespace string
	logger    zerolog.Logger
}

// NewContainerLauncher dials the containerd socket at socketPath (or
// DefaultSocketPath if empty).
func NewContainerLauncher(socketPath string, logger zerolog.Logger) (*ContainerLauncher, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("runtime: connecting to containerd at %s: %w", socketPath, err)
	}
	return &ContainerLauncher{
		client:    client,
		namespace: DefaultNamespace,
		logger:    logger.With().Str("component", "runtime.containerd").Logger(),
	}, nil
}

// Close releases the containerd client connection.
func (l *ContainerLauncher) Close() error {
	return l.client.Close()
}

func (l *ContainerLauncher) pullImage(ctx context.Context, imageRef string) (containerd.Image, error) {
	ctx = namespaces.WithNamespace(ctx, l.namespace)
	image, err := l.client.Pull(ctx, imageRef, containerd.WithPullUnpack)
	if err != nil {
		return nil, fmt.Errorf("pulling image %s: %w", imageRef, err)
	}
	return image, nil
}

func specOpts(spec ServiceSpec, env []string) []oci.SpecOpts {
	opts := []oci.SpecOpts{
		oci.WithEnv(env),
	}
	if spec.RunWith != nil && spec.RunWith.SystemResourceLimits != nil {
		limits := spec.RunWith.SystemResourceLimits
		if limits.CPUs > 0 {
			shares := uint64(limits.CPUs * 1024)
			quota := int64(limits.CPUs * 100000)
			period := uint64(100000)
			opts = append(opts, oci.WithCPUShares(shares), oci.WithCPUCFS(quota, period))
		}
		if limits.MemoryBytes > 0 {
			opts = append(opts, oci.WithMemoryLimit(uint64(limits.MemoryBytes)))
		}
	}
	return opts
}

// RunScript is not meaningful for a container artifact's one-shot phases
// beyond "run" (a recipe declaring a container artifact has no separate
// install/startup subprocess to execute) so it is a no-op, matching §4.4's
// "any field may be empty, meaning that phase is a no-op" for the phases a
// container-backed recipe leaves unset.
func (l *ContainerLauncher) RunScript(ctx context.Context, spec ScriptSpec) error {
	return nil
}

// StartService pulls spec.Artifact.Image, creates a container with the
// recipe's resource limits applied, and starts its task.
func (l *ContainerLauncher) StartService(ctx context.Context, spec ServiceSpec) (ServiceHandle, error) {
	if spec.Artifact.Image == "" {
		return nil, fmt.Errorf("runtime: %s: container artifact has no image", spec.ServiceName)
	}
	ctx = namespaces.WithNamespace(ctx, l.namespace)

	image, err := l.pullImage(ctx, spec.Artifact.Image)
	if err != nil {
		return nil, err
	}

	opts := append([]oci.SpecOpts{oci.WithImageConfig(image)}, specOpts(spec, spec.Env)...)
	containerID := spec.ServiceName + "-" + image.Target().Digest.Encoded()[:12]

	ctrdContainer, err := l.client.NewContainer(
		ctx,
		containerID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(containerID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return nil, fmt.Errorf("runtime: %s: creating container: %w", spec.ServiceName, err)
	}

	task, err := ctrdContainer.NewTask(ctx, cio.NullIO)
	if err != nil {
		_ = ctrdContainer.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, fmt.Errorf("runtime: %s: creating task: %w", spec.ServiceName, err)
	}
	if err := task.Start(ctx); err != nil {
		_ = ctrdContainer.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, fmt.Errorf("runtime: %s: starting task: %w", spec.ServiceName, err)
	}
	l.logger.Info().Str("service", spec.ServiceName).Str("container_id", containerID).Msg("container service started")

	exitCh, err := task.Wait(context.Background())
	if err != nil {
		return nil, fmt.Errorf("runtime: %s: waiting on task: %w", spec.ServiceName, err)
	}

	h := &containerHandle{
		namespace: l.namespace,
		container: ctrdContainer,
		task:      task,
		exitCh:    exitCh,
		exited:    make(chan struct{}),
	}
	h.running.Store(true)
	go func() {
		status := <-exitCh
		if status.Error() != nil {
			h.waitErr = status.Error()
		} else if status.ExitCode() != 0 {
			h.waitErr = fmt.Errorf("container exited with status %d", status.ExitCode())
		}
		h.running.Store(false)
		close(h.exited)
	}()
	return h, nil
}

type containerHandle struct {
	namespace string
	container containerd.Container
	task      containerd.Task
	exitCh    <-chan containerd.ExitStatus
	exited    chan struct{}
	waitErr   error
	running   atomic.Bool
	mu        sync.Mutex
}

func (h *containerHandle) Wait(ctx context.Context) error {
	select {
	case <-h.exited:
		return h.waitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *containerHandle) Running() bool {
	return h.running.Load()
}

func (h *containerHandle) Stop(ctx context.Context, timeout time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running.Load() {
		return ErrNotRunning
	}
	ctx = namespaces.WithNamespace(ctx, h.namespace)

	stopCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := h.task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		return fmt.Errorf("runtime: sending SIGTERM: %w", err)
	}

	select {
	case <-h.exited:
	case <-stopCtx.Done():
		if err := h.task.Kill(ctx, syscall.SIGKILL); err != nil {
			return fmt.Errorf("runtime: force kill: %w", err)
		}
		<-h.exited
	}

	if _, err := h.task.Delete(ctx); err != nil {
		return fmt.Errorf("runtime: deleting task: %w", err)
	}
	if err := h.container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("runtime: deleting container: %w", err)
	}
	return nil
}
