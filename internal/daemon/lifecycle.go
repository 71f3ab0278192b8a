package daemon

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"
)

// Lifecycle manages the daemon's lifecycle (start, stop, health checks)
type Lifecycle struct {
	addr    string
	pidFile string
}

// NewLifecycle creates a new lifecycle manager
func NewLifecycle(addr string) *Lifecycle {
	homeDir, _ := os.UserHomeDir()
	pidFile := filepath.Join(homeDir, ".openclaw-inspector", "daemon.pid")

	return &Lifecycle{
		addr:    addr,
		pidFile: pidFile,
	}
}

// PIDFile returns the path to the PID file
func (l *Lifecycle) PIDFile() string {
	return l.pidFile
}

// IsRunning checks if the daemon is running
func (l *Lifecycle) IsRunning() bool {
	pid, err := l.readPID()
	if err != nil {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix, FindProcess always succeeds; probe with signal 0
	if err := signalProcess(process, checkAlive()); err != nil {
		// Process doesn't exist, clean up stale PID file
		_ = os.Remove(l.pidFile)
		return false
	}

	// Also verify the health endpoint responds
	return l.healthCheck()
}

// GetPID returns the daemon's PID if running
func (l *Lifecycle) GetPID() (int, error) {
	if !l.IsRunning() {
		return 0, fmt.Errorf("daemon is not running")
	}
	return l.readPID()
}

// StartInBackground starts the daemon in the background. Extra args are
// passed through to the child so flag overrides survive the re-exec.
func (l *Lifecycle) StartInBackground(extraArgs ...string) error {
	if l.IsRunning() {
		return fmt.Errorf("daemon is already running")
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to find executable: %w", err)
	}

	args := append([]string{"serve", "--background-child"}, extraArgs...)
	cmd := exec.Command(executable, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	setSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Wait briefly for the daemon to start
	time.Sleep(500 * time.Millisecond)

	if !l.IsRunning() {
		return fmt.Errorf("daemon failed to start")
	}

	return nil
}

// Stop stops the running daemon
func (l *Lifecycle) Stop() error {
	pid, err := l.readPID()
	if err != nil {
		return fmt.Errorf("daemon is not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}

	if err := signalProcess(process, termSignal()); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	// Wait for process to exit (with timeout)
	for range 30 {
		time.Sleep(100 * time.Millisecond)
		if err := signalProcess(process, checkAlive()); err != nil {
			// Process has exited
			_ = os.Remove(l.pidFile)
			return nil
		}
	}

	// Force kill if still running
	_ = process.Kill()
	_ = os.Remove(l.pidFile)
	return nil
}

// WritePID writes the current process PID to the PID file
func (l *Lifecycle) WritePID() error {
	dir := filepath.Dir(l.pidFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	pid := os.Getpid()
	return os.WriteFile(l.pidFile, []byte(strconv.Itoa(pid)), 0644)
}

// RemovePID removes the PID file
func (l *Lifecycle) RemovePID() error {
	return os.Remove(l.pidFile)
}

func (l *Lifecycle) readPID() (int, error) {
	data, err := os.ReadFile(l.pidFile)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file content: %w", err)
	}

	return pid, nil
}

func (l *Lifecycle) healthCheck() bool {
	url := fmt.Sprintf("http://%s/api/health", l.addr)
	client := &http.Client{
		Timeout: 2 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode == http.StatusOK
}

// Addr returns the configured listen address
func (l *Lifecycle) Addr() string {
	return l.addr
}
