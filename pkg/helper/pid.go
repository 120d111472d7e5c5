package helper

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultPIDPath is used when no pid file is configured
const DefaultPIDPath = "/var/run/gateway-bridge.pid"

// GetPIDPath returns the path to the PID file.
//
// Absolute paths are returned as-is. Relative paths resolve against the working
// directory when their parent exists; everything else falls back to DefaultPIDPath.
func GetPIDPath(filename string) string {
	if filename == "" {
		return DefaultPIDPath
	}
	if filepath.IsAbs(filename) {
		return filename
	}

	absPath, err := filepath.Abs(filename)
	if err != nil {
		return DefaultPIDPath
	}
	if _, err := os.Stat(filepath.Dir(absPath)); err != nil {
		return DefaultPIDPath
	}
	return absPath
}

// PIDFile owns the pid file of the running bridge
type PIDFile struct {
	path string
}

// NewPIDFile resolves filename with GetPIDPath
func NewPIDFile(filename string) *PIDFile {
	return &PIDFile{path: GetPIDPath(filename)}
}

// Path returns the resolved pid file path
func (p *PIDFile) Path() string {
	return p.path
}

// Write records the current process id
func (p *PIDFile) Write() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}
	return os.WriteFile(p.path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}

// Read returns the pid stored in the file
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file %s: %w", p.path, err)
	}
	return pid, nil
}

// Remove deletes the pid file; a missing file is not an error
func (p *PIDFile) Remove() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
