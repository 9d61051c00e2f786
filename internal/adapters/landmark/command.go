package landmark

import (
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/okian/gazeset/pkg/logger"
)

// CommandDetector runs the detector sidecar as a child process.
type CommandDetector struct {
	*Client
	cmd   *exec.Cmd
	stdin io.WriteCloser
	log   logger.Logger
}

// Start launches argv and returns a detector bound to its stdio. The process
// is killed when ctx is cancelled.
func Start(ctx context.Context, argv []string, log logger.Logger) (*CommandDetector, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty detector command: %w", ErrDetector)
	}
	if log == nil {
		log = logger.Nop()
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = &stderrLog{ctx: ctx, log: log}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w: %w", argv[0], ErrDetector, err)
	}
	log.Info(ctx, "landmark detector started", logger.String("cmd", argv[0]), logger.Int("pid", cmd.Process.Pid))
	return &CommandDetector{
		Client: NewClient(stdin, stdout),
		cmd:    cmd,
		stdin:  stdin,
		log:    log,
	}, nil
}

// Close closes the sidecar's stdin and waits for it to exit.
func (d *CommandDetector) Close() error {
	_ = d.stdin.Close()
	if err := d.cmd.Wait(); err != nil {
		return fmt.Errorf("detector exit: %w", err)
	}
	return nil
}

// stderrLog forwards sidecar stderr to the debug log.
type stderrLog struct {
	ctx context.Context //nolint:containedctx // bound to the sidecar lifetime
	log logger.Logger
}

func (s *stderrLog) Write(p []byte) (int, error) {
	s.log.Debug(s.ctx, "detector stderr", logger.String("output", string(p)))
	return len(p), nil
}
