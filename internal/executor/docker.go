package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/mount"
	dockerclient "github.com/moby/moby/client"
)

const (
	// DefaultDockerImage carries the terraform binary for containerized runs.
	DefaultDockerImage = "hashicorp/terraform:latest"

	inspectInterval = 500 * time.Millisecond
)

// DockerError wraps a failed daemon operation with enough context to log.
type DockerError struct {
	Op      string
	Message string
	Err     error
}

func (e *DockerError) Error() string {
	return fmt.Sprintf("docker %s: %s: %v", e.Op, e.Message, e.Err)
}

func (e *DockerError) Unwrap() error {
	return e.Err
}

// DockerRunnerConfig controls the containerized runner.
type DockerRunnerConfig struct {
	Image string
	// PullPolicy is "always", "if-not-present" or "never".
	PullPolicy string
	// GracePeriod is passed to the daemon as the stop timeout before SIGKILL.
	GracePeriod time.Duration
}

// DockerRunner executes commands inside a throwaway container with the
// project directory bind-mounted at its host path, so relative references in
// the project config resolve identically to a local run.
type DockerRunner struct {
	client *dockerclient.Client
	cfg    DockerRunnerConfig

	pullOnce sync.Once
	pullErr  error
}

// NewDockerRunner connects to the Docker daemon and verifies it responds.
func NewDockerRunner(cfg DockerRunnerConfig) (*DockerRunner, error) {
	if cfg.Image == "" {
		cfg.Image = DefaultDockerImage
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}

	cli, err := dockerclient.New(dockerclient.WithAPIVersionNegotiation(), dockerclient.FromEnv)
	if err != nil {
		return nil, &DockerError{Op: "connect", Err: err, Message: "failed to connect to Docker daemon"}
	}

	ctx := context.Background()
	if _, err := cli.Ping(ctx, dockerclient.PingOptions{NegotiateAPIVersion: true}); err != nil {
		return nil, &DockerError{Op: "ping", Err: err, Message: "Docker daemon not available"}
	}

	return &DockerRunner{client: cli, cfg: cfg}, nil
}

func (r *DockerRunner) Close() error {
	return r.client.Close()
}

func (r *DockerRunner) Run(ctx context.Context, spec RunSpec) (*RunResult, error) {
	if err := r.ensureImage(ctx); err != nil {
		return nil, err
	}

	runCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	created, err := r.client.ContainerCreate(ctx, dockerclient.ContainerCreateOptions{
		Image: r.cfg.Image,
		Config: &container.Config{
			Image:      r.cfg.Image,
			Entrypoint: []string{"sh", "-c"},
			Cmd:        []string{spec.Command},
			Env:        spec.Env,
			WorkingDir: spec.Dir,
			// A TTY merges the streams, so the hijacked connection can be
			// read raw without demultiplexing.
			Tty: true,
		},
		HostConfig: &container.HostConfig{
			Mounts: []mount.Mount{
				{
					Type:   mount.TypeBind,
					Source: spec.Dir,
					Target: spec.Dir,
				},
			},
		},
	})
	if err != nil {
		return nil, &DockerError{Op: "create", Err: err, Message: "failed to create container"}
	}
	containerID := created.ID

	defer func() {
		removeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_, _ = r.client.ContainerRemove(removeCtx, containerID, dockerclient.ContainerRemoveOptions{Force: true})
	}()

	attach, err := r.client.ContainerAttach(ctx, containerID, dockerclient.ContainerAttachOptions{
		Stream: true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return nil, &DockerError{Op: "attach", Err: err, Message: fmt.Sprintf("failed to attach to container %s", containerID)}
	}
	hijack := attach.HijackedResponse
	defer hijack.Close()

	var out captureBuffer
	var wg sync.WaitGroup
	wg.Add(1)
	go capture(hijack.Reader, "stdout", &out, spec.OnOutput, &wg)

	start := time.Now()
	if _, err := r.client.ContainerStart(ctx, containerID, dockerclient.ContainerStartOptions{}); err != nil {
		return nil, &DockerError{Op: "start", Err: err, Message: fmt.Sprintf("failed to start container %s", containerID)}
	}

	// The wait loop outlives runCtx: after a stop request it still has to
	// observe the final state.
	waitCtx, waitCancel := context.WithCancel(context.Background())
	defer waitCancel()
	done := make(chan waitOutcome, 1)
	go r.waitForExit(waitCtx, containerID, done)

	cancelCh := spec.Cancel
	if cancelCh == nil {
		cancelCh = make(chan struct{})
	}

	var outcome waitOutcome
	var cancelled, timedOut bool
	select {
	case outcome = <-done:
	case <-cancelCh:
		cancelled = true
		outcome = r.stopAndWait(containerID, done)
	case <-runCtx.Done():
		if spec.Timeout > 0 && runCtx.Err() == context.DeadlineExceeded {
			timedOut = true
		} else {
			cancelled = true
		}
		outcome = r.stopAndWait(containerID, done)
	}

	hijack.Close()
	wg.Wait()

	if outcome.err != nil {
		return nil, &DockerError{Op: "wait", Err: outcome.err, Message: fmt.Sprintf("failed waiting for container %s", containerID)}
	}

	return &RunResult{
		ExitCode:  outcome.exitCode,
		Stdout:    out.String(),
		Duration:  time.Since(start),
		Cancelled: cancelled,
		TimedOut:  timedOut,
	}, nil
}

type waitOutcome struct {
	exitCode int
	err      error
}

// waitForExit polls until the container leaves the running state.
func (r *DockerRunner) waitForExit(ctx context.Context, containerID string, done chan<- waitOutcome) {
	for {
		result, err := r.client.ContainerInspect(ctx, containerID, dockerclient.ContainerInspectOptions{})
		if err != nil {
			done <- waitOutcome{err: err}
			return
		}
		state := result.Container.State
		if state != nil && !state.Running {
			done <- waitOutcome{exitCode: state.ExitCode}
			return
		}

		select {
		case <-ctx.Done():
			done <- waitOutcome{err: ctx.Err()}
			return
		case <-time.After(inspectInterval):
		}
	}
}

// stopAndWait asks the daemon to stop the container, which delivers SIGTERM
// and escalates to SIGKILL after the grace period, then collects the exit.
func (r *DockerRunner) stopAndWait(containerID string, done <-chan waitOutcome) waitOutcome {
	stopCtx, cancel := context.WithTimeout(context.Background(), r.cfg.GracePeriod+30*time.Second)
	defer cancel()

	graceSeconds := int(r.cfg.GracePeriod / time.Second)
	_, _ = r.client.ContainerStop(stopCtx, containerID, dockerclient.ContainerStopOptions{Timeout: &graceSeconds})

	return <-done
}

// ensureImage pulls the configured image once per runner lifetime.
func (r *DockerRunner) ensureImage(ctx context.Context) error {
	r.pullOnce.Do(func() {
		r.pullErr = r.pullImage(ctx)
	})
	return r.pullErr
}

func (r *DockerRunner) pullImage(ctx context.Context) error {
	if r.cfg.PullPolicy == "never" {
		return nil
	}

	resp, err := r.client.ImagePull(ctx, r.cfg.Image, dockerclient.ImagePullOptions{})
	if err != nil {
		if r.cfg.PullPolicy == "if-not-present" {
			return nil
		}
		return &DockerError{Op: "pull", Err: err, Message: fmt.Sprintf("failed to pull image %s", r.cfg.Image)}
	}
	defer resp.Close()

	if err := resp.Wait(ctx); err != nil {
		if r.cfg.PullPolicy == "if-not-present" {
			return nil
		}
		return &DockerError{Op: "pull", Err: err, Message: fmt.Sprintf("failed to pull image %s", r.cfg.Image)}
	}

	return nil
}
