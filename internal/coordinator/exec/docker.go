package exec

import (
	"context"
	"errors"
	"fmt"
	"os"
	osexec "os/exec"
	"strings"

	"github.com/google/uuid"

	"github.com/nemanja-m/casbatch/internal/coordinator/core"
	"github.com/nemanja-m/casbatch/internal/shared/config"
	"github.com/nemanja-m/casbatch/internal/shared/logging"
)

const (
	BackendDocker = "docker"

	// docker run exits with 125 when the daemon could not start the container.
	dockerDaemonExitCode = 125
)

func init() {
	mustRegister(BackendDocker, func(cfg config.ExecutorConfig, logger logging.Logger) (core.ContextProvider, error) {
		return NewDockerProvider(cfg, logger)
	})
}

// DockerProvider runs each attempt in a fresh, resource-limited container.
type DockerProvider struct {
	binary          string
	image           string
	cuda            bool
	preemptionCodes map[int]bool
	logger          logging.Logger
}

func NewDockerProvider(cfg config.ExecutorConfig, logger logging.Logger) (*DockerProvider, error) {
	image := cfg.Image()
	if image == "" {
		return nil, fmt.Errorf("no image configured for variant %q", cfg.ImageVariant)
	}
	binary := cfg.Docker.Binary
	if binary == "" {
		binary = "docker"
	}
	codes := make(map[int]bool, len(cfg.Docker.PreemptionExitCodes))
	for _, code := range cfg.Docker.PreemptionExitCodes {
		codes[code] = true
	}
	return &DockerProvider{
		binary:          binary,
		image:           image,
		cuda:            cfg.ImageVariant == "cuda",
		preemptionCodes: codes,
		logger:          logger,
	}, nil
}

func (p *DockerProvider) Name() string {
	return BackendDocker
}

func (p *DockerProvider) Acquire(ctx context.Context, desc *core.JobDescriptor, shape core.ResourceShape) (core.ExecutionContext, error) {
	return &dockerContext{
		provider: p,
		name:     "casbatch-" + desc.ID.String()[:8] + "-" + uuid.NewString()[:8],
		shape:    shape,
	}, nil
}

// RunArgs returns the docker CLI arguments that run desc in a container
// limited to shape.
func (p *DockerProvider) RunArgs(name string, shape core.ResourceShape, desc *core.JobDescriptor) []string {
	args := []string{
		"run",
		"--name", name,
		"--cpus", fmt.Sprintf("%d", shape.CPU),
		"--memory", fmt.Sprintf("%dg", shape.MemoryGB),
		"-e", "CASBATCH_JOB_ID=" + desc.ID.String(),
	}
	if p.cuda {
		args = append(args, "--gpus", "all")
	}
	args = append(args, p.image)
	return append(args, containerCommand(desc)...)
}

type dockerContext struct {
	provider *DockerProvider
	name     string
	shape    core.ResourceShape
}

func (c *dockerContext) ID() string {
	return c.name
}

func (c *dockerContext) Run(ctx context.Context, desc *core.JobDescriptor) (core.AttemptResult, error) {
	p := c.provider
	args := p.RunArgs(c.name, c.shape, desc)
	cmd := osexec.CommandContext(ctx, p.binary, args...)

	stderr := &tailBuffer{limit: stderrTailBytes}
	cmd.Stderr = stderr

	p.logger.Debug("Starting container", "context_id", c.name, "image", p.image)

	err := cmd.Run()
	if err == nil {
		return core.AttemptResult{Status: core.AttemptSucceeded}, nil
	}

	var exitErr *osexec.ExitError
	if !errors.As(err, &exitErr) {
		if errors.Is(err, osexec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return core.AttemptResult{}, fmt.Errorf("start %s: %w: %w", p.binary, core.ErrPermanent, err)
		}
		return core.AttemptResult{}, fmt.Errorf("start %s: %w", p.binary, err)
	}

	code := exitErr.ExitCode()
	switch {
	case code == dockerDaemonExitCode:
		return core.AttemptResult{}, fmt.Errorf("docker daemon: %s", stderr.String())
	case p.preemptionCodes[code]:
		// 137 is also what a container killed at its own memory limit exits with
		if c.oomKilled(ctx) {
			return core.AttemptResult{
				Status:   core.AttemptFailed,
				ExitCode: code,
				Message:  strings.TrimSpace(fmt.Sprintf("container OOM-killed at %dg memory limit\n%s", c.shape.MemoryGB, stderr.String())),
			}, nil
		}
		return core.AttemptResult{
			Status:   core.AttemptPreempted,
			ExitCode: code,
			Message:  fmt.Sprintf("container stopped with exit code %d", code),
		}, nil
	}
	return core.AttemptResult{
		Status:   core.AttemptFailed,
		ExitCode: code,
		Message:  stderr.String(),
	}, nil
}

// oomKilled asks the daemon whether the kernel OOM killer stopped the
// container. An inspect failure leaves the exit code in charge.
func (c *dockerContext) oomKilled(ctx context.Context) bool {
	out, err := osexec.CommandContext(ctx, c.provider.binary, "inspect", "-f", "{{.State.OOMKilled}}", c.name).Output()
	if err != nil {
		c.provider.logger.Warn("Failed to inspect container", "context_id", c.name, "error", err)
		return false
	}
	return strings.TrimSpace(string(out)) == "true"
}

// Release removes the stopped container. Containers are kept after exit so
// Run can inspect them.
func (c *dockerContext) Release(ctx context.Context) error {
	out, err := osexec.CommandContext(ctx, c.provider.binary, "rm", "-f", c.name).CombinedOutput()
	if err != nil && !strings.Contains(string(out), "No such container") {
		return fmt.Errorf("remove container %s: %w: %s", c.name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// containerCommand is the job command as passed to an image. An empty
// program leaves the image entrypoint in charge.
func containerCommand(desc *core.JobDescriptor) []string {
	var cmd []string
	if desc.Template != nil {
		if desc.Template.Program != "" {
			cmd = append(cmd, desc.Template.Program)
		}
		cmd = append(cmd, desc.Template.Args...)
	}
	return append(cmd, desc.Args()...)
}
