// Package sandbox runs one build inside an isolated containerd
// container with configured CPU, memory, wall-clock, and network
// limits, capturing its output up to a configured byte cap.
package sandbox

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// gracePeriod is how much longer than limits.Timeout a build is given
// to die after SIGKILL before Run gives up and returns anyway.
const gracePeriod = 5 * time.Second

// Limits bounds one sandboxed build.
type Limits struct {
	MemoryMB       int64
	CPULimit       float64
	Timeout        time.Duration
	NetworkEnabled bool
	MaxLogSize     int64
}

// Result is the outcome of one sandboxed run.
type Result struct {
	Log      []byte
	ExitCode uint32
	TimedOut bool
}

// Sandbox runs builds inside one containerd namespace, all sharing
// the same base image.
type Sandbox struct {
	client    *containerd.Client
	namespace string
	image     string
}

// New connects to containerd at socketPath and prepares to run
// containers from image in namespace.
func New(socketPath, namespace, image string) (*Sandbox, error) {
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("sandbox: connecting to containerd: %w", err)
	}
	return &Sandbox{client: client, namespace: namespace, image: image}, nil
}

// Close releases the containerd client connection.
func (s *Sandbox) Close() error { return s.client.Close() }

// Run executes cmd inside a fresh container named id, with workDir
// bind-mounted at /build, honoring limits, and returns its captured
// output (capped at limits.MaxLogSize) plus exit status.
func (s *Sandbox) Run(ctx context.Context, id string, cmd []string, env []string, workDir string, limits Limits) (*Result, error) {
	ctx = namespaces.WithNamespace(ctx, s.namespace)

	image, err := s.client.GetImage(ctx, s.image)
	if err != nil {
		return nil, fmt.Errorf("sandbox: image %s not present (pull it before building): %w", s.image, err)
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithProcessArgs(cmd...),
		oci.WithEnv(env),
		oci.WithMounts([]specs.Mount{{
			Source:      workDir,
			Destination: "/build",
			Type:        "bind",
			Options:     []string{"rw", "bind"},
		}}),
	}
	if limits.CPULimit > 0 {
		shares := uint64(limits.CPULimit * 1024)
		quota := int64(limits.CPULimit * 100000)
		opts = append(opts, oci.WithCPUShares(shares), oci.WithCPUCFS(quota, 100000))
	}
	if limits.MemoryMB > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(limits.MemoryMB)*1024*1024))
	}
	if !limits.NetworkEnabled {
		opts = append(opts, oci.WithLinuxNamespace(specs.LinuxNamespace{Type: specs.NetworkNamespace}))
	}

	container, err := s.client.NewContainer(ctx, id,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(id+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return nil, fmt.Errorf("sandbox: creating container: %w", err)
	}
	defer container.Delete(ctx, containerd.WithSnapshotCleanup)

	out := newCappedBuffer(limits.MaxLogSize)
	task, err := container.NewTask(ctx, cio.NewCreator(cio.WithStreams(nil, out, out)))
	if err != nil {
		return nil, fmt.Errorf("sandbox: creating task: %w", err)
	}
	defer task.Delete(ctx)

	statusC, err := task.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("sandbox: waiting on task: %w", err)
	}
	if err := task.Start(ctx); err != nil {
		return nil, fmt.Errorf("sandbox: starting task: %w", err)
	}

	timer := time.NewTimer(limits.Timeout)
	defer timer.Stop()

	select {
	case status := <-statusC:
		return &Result{Log: out.Bytes(), ExitCode: status.ExitCode()}, nil
	case <-timer.C:
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return nil, fmt.Errorf("sandbox: killing timed-out task: %w", err)
		}
		select {
		case status := <-statusC:
			return &Result{Log: out.Bytes(), ExitCode: status.ExitCode(), TimedOut: true}, nil
		case <-time.After(gracePeriod):
			return &Result{Log: out.Bytes(), TimedOut: true}, nil
		}
	case <-ctx.Done():
		task.Kill(context.Background(), syscall.SIGKILL)
		return nil, ctx.Err()
	}
}
