package cmake

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/frederic-klein/mlhpkg/internal/logger"
)

// Runner executes an external program in a working directory.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) error
}

// ExecRunner runs programs on the host and streams their output to the logger.
type ExecRunner struct {
	// Env is appended to the inherited environment.
	Env []string
}

// Run starts the program and waits for it. A non-zero exit is returned as an error.
func (r ExecRunner) Run(ctx context.Context, dir, name string, args ...string) error {
	log := logger.Logger()
	cmdStr := name + " " + strings.Join(args, " ")

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe for command %s: %w", cmdStr, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe for command %s: %w", cmdStr, err)
	}

	log.Debugf("Exec: [%s] in %s", cmdStr, dir)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start command %s: %w", cmdStr, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		streamLines(stdout, log.Info)
	}()
	go func() {
		defer wg.Done()
		streamLines(stderr, log.Warn)
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("command %s: %w", cmdStr, err)
	}
	return nil
}

func streamLines(r io.Reader, emit func(args ...interface{})) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			emit(line)
		}
	}
	// Drain whatever the scanner refused so the child never blocks on a full pipe.
	io.Copy(io.Discard, r)
}
