package workspace

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/toolq/toolq/internal/logging"
)

// Terminal submits shell commands without waiting for them. Success means
// the process started, not that the command succeeded; output goes straight
// to the user's terminal.
type Terminal struct {
	dir    string
	logger logging.Logger
}

// NewTerminal returns a terminal that runs commands with dir as the working
// directory.
func NewTerminal(dir string, logger logging.Logger) *Terminal {
	return &Terminal{dir: dir, logger: logging.OrNop(logger)}
}

// Run starts command under a shell and returns immediately. A goroutine
// reaps the process so long-running commands never block the queue.
func (t *Terminal) Run(command string) error {
	cmd := exec.Command("bash", "-c", command)
	if t.dir != "" {
		cmd.Dir = t.dir
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}
	t.logger.Info("submitted shell command pid=%d: %s", cmd.Process.Pid, command)

	go func() {
		if err := cmd.Wait(); err != nil {
			t.logger.Debug("shell command finished with error: %v", err)
			return
		}
		t.logger.Debug("shell command finished: %s", command)
	}()
	return nil
}
