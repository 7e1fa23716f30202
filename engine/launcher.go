package engine

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

// Launcher starts the engine process before a session is dialed and stops it on Close.
// Resolving which binary to run is left to the caller.
type Launcher struct {
	Path   string
	Args   []string
	Env    []string // Extra environment on top of the current process environment
	Stdout io.Writer
	Stderr io.Writer
	Log    log.Logger

	mu  sync.Mutex
	cmd *exec.Cmd
}

// Start launches the engine, telling it where to listen through EndpointEnvVar
func (l *Launcher) Start(endpoint string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.Path == "" {
		return errors.New("engine path cannot be empty")
	}
	if l.cmd != nil {
		return fmt.Errorf("engine %s already started", l.Path)
	}
	if l.Log == nil {
		l.Log = log.Root()
	}

	cmd := exec.Command(l.Path, l.Args...)
	cmd.Env = append(os.Environ(), l.Env...)
	cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", EndpointEnvVar, endpoint))
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start engine %s: %w", l.Path, err)
	}
	l.cmd = cmd
	l.Log.Info("Engine process started", "path", l.Path, "pid", cmd.Process.Pid)
	return nil
}

// Running reports whether a process was started and not yet stopped
func (l *Launcher) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cmd != nil
}

// Stop kills the engine process and waits for it to exit
func (l *Launcher) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cmd == nil {
		return nil
	}
	cmd := l.cmd
	l.cmd = nil

	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to stop engine: %w", err)
	}
	// The exit status of a killed process is not interesting
	_ = cmd.Wait()
	l.Log.Info("Engine process stopped", "path", l.Path)
	return nil
}

func stopLauncher(l *Launcher, lg log.Logger) {
	if l == nil {
		return
	}
	if err := l.Stop(); err != nil {
		lg.Warn("Failed to stop engine process", "err", err)
	}
}
