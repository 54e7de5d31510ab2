package exec

import (
	"context"
	"errors"
	"fmt"
	"os"
	osexec "os/exec"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/nemanja-m/casbatch/internal/coordinator/core"
	"github.com/nemanja-m/casbatch/internal/shared/config"
	"github.com/nemanja-m/casbatch/internal/shared/logging"
)

const (
	BackendProcess = "process"

	stderrTailBytes = 4096
)

func init() {
	mustRegister(BackendProcess, func(cfg config.ExecutorConfig, logger logging.Logger) (core.ContextProvider, error) {
		return NewProcessProvider(logger), nil
	})
}

// ProcessProvider runs each attempt as a local child process in its own
// scratch directory.
type ProcessProvider struct {
	logger logging.Logger
}

func NewProcessProvider(logger logging.Logger) *ProcessProvider {
	return &ProcessProvider{logger: logger}
}

func (p *ProcessProvider) Name() string {
	return BackendProcess
}

func (p *ProcessProvider) Acquire(ctx context.Context, desc *core.JobDescriptor, shape core.ResourceShape) (core.ExecutionContext, error) {
	if desc.Template == nil || desc.Template.Program == "" {
		return nil, fmt.Errorf("no program configured: %w", core.ErrPermanent)
	}
	dir, err := core.CreateScratchDir(desc.ID)
	if err != nil {
		return nil, err
	}
	return &processContext{
		id:     "process-" + uuid.NewString()[:8],
		dir:    dir,
		shape:  shape,
		logger: p.logger,
	}, nil
}

type processContext struct {
	id     string
	dir    string
	shape  core.ResourceShape
	logger logging.Logger
}

func (c *processContext) ID() string {
	return c.id
}

// Run starts the conversion program and waits for it. A child terminated by
// an external termination signal is reported as preempted; a crash signal
// (SEGV, ABRT, BUS, FPE, ILL, ...) is a failure of the program.
func (c *processContext) Run(ctx context.Context, desc *core.JobDescriptor) (core.AttemptResult, error) {
	argv := desc.Command()
	cmd := osexec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = c.dir
	cmd.Env = append(os.Environ(),
		"CASBATCH_JOB_ID="+desc.ID.String(),
		fmt.Sprintf("CASBATCH_CPU=%d", c.shape.CPU),
		fmt.Sprintf("CASBATCH_MEMORY_GB=%d", c.shape.MemoryGB),
	)

	stderr := &tailBuffer{limit: stderrTailBytes}
	cmd.Stderr = stderr

	c.logger.Debug("Starting process", "context_id", c.id, "program", argv[0], "dir", c.dir)

	err := cmd.Run()
	if err == nil {
		return core.AttemptResult{Status: core.AttemptSucceeded}, nil
	}

	var exitErr *osexec.ExitError
	if !errors.As(err, &exitErr) {
		if errors.Is(err, osexec.ErrNotFound) || errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			return core.AttemptResult{}, fmt.Errorf("start %s: %w: %w", argv[0], core.ErrPermanent, err)
		}
		return core.AttemptResult{}, fmt.Errorf("start %s: %w", argv[0], err)
	}

	result := core.AttemptResult{
		Status:   core.AttemptFailed,
		ExitCode: exitErr.ExitCode(),
		Message:  stderr.String(),
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		sig := status.Signal()
		if isTerminationSignal(sig) {
			result.Status = core.AttemptPreempted
			result.Message = fmt.Sprintf("terminated by signal %s", sig)
		} else {
			result.Message = strings.TrimSpace(fmt.Sprintf("crashed with signal %s\n%s", sig, result.Message))
		}
	}
	return result, nil
}

// isTerminationSignal reports whether sig is one a supervisor or the host
// sends to reclaim a process.
func isTerminationSignal(sig syscall.Signal) bool {
	switch sig {
	case syscall.SIGKILL, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGINT:
		return true
	}
	return false
}

func (c *processContext) Release(ctx context.Context) error {
	return os.RemoveAll(c.dir)
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return strings.TrimSpace(string(b.buf))
}
