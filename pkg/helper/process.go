package helper

import (
	"fmt"
	"os"
	"syscall"
)

// SignalPIDFile sends sig to the process recorded in the pid file
func SignalPIDFile(p *PIDFile, sig syscall.Signal) error {
	pid, err := p.Read()
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}
	if pid <= 0 {
		return fmt.Errorf("invalid PID value: %d", pid)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("process not found: %w", err)
	}
	if err := process.Signal(sig); err != nil {
		return fmt.Errorf("failed to send signal: %w", err)
	}
	return nil
}
