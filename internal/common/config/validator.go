package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/amoylab/gwbridge/internal/common/cnst"
)

// ValidationError aggregates every problem found in a configuration
type ValidationError struct {
	Problems []error
}

func (e *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("invalid configuration")
	sb.WriteString("\n\n")
	for _, p := range e.Problems {
		sb.WriteString("--> ")
		sb.WriteString(p.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

// Unwrap exposes the individual problems to errors.Is
func (e *ValidationError) Unwrap() []error {
	return e.Problems
}

// Validate checks that the bridge can start. Missing credentials are fatal: the
// process must not connect without authentication.
func Validate(cfg *BridgeConfig) error {
	var problems []error

	if strings.TrimSpace(cfg.Gateway.Token) == "" {
		problems = append(problems, cnst.ErrMissingToken)
	}
	if err := validateGatewayURL(cfg.Gateway.URL); err != nil {
		problems = append(problems, err)
	}
	if strings.TrimSpace(cfg.Forward.Secret) == "" {
		problems = append(problems, cnst.ErrMissingSecret)
	}
	if strings.TrimSpace(cfg.Forward.Endpoint) == "" {
		problems = append(problems, cnst.ErrMissingEndpoint)
	} else if err := validateEndpoint(cfg.Forward.Endpoint); err != nil {
		problems = append(problems, err)
	}
	if cfg.Forward.Mirror.Enabled && strings.TrimSpace(cfg.Forward.Mirror.Addr) == "" {
		problems = append(problems, errors.New("forward.mirror.addr is required when the mirror is enabled"))
	}
	if cfg.Supervisor.MemoryLimitMB < 0 {
		problems = append(problems, fmt.Errorf("supervisor.memory_limit_mb must not be negative, got %d", cfg.Supervisor.MemoryLimitMB))
	}
	if cfg.Supervisor.HealthPort < 0 || cfg.Supervisor.HealthPort > 65535 {
		problems = append(problems, fmt.Errorf("supervisor.health_port out of range: %d", cfg.Supervisor.HealthPort))
	}

	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: problems}
}

func validateGatewayURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", cnst.ErrInvalidGatewayURL, err)
	}
	if (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("%w: %q", cnst.ErrInvalidGatewayURL, raw)
	}
	return nil
}

func validateEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", cnst.ErrInvalidEndpoint, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", cnst.ErrInvalidEndpoint, raw)
	}
	return nil
}
