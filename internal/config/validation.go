package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"yqhp/planfleet/pkg/logger"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// HasField reports whether any error concerns field.
func (e ValidationErrors) HasField(field string) bool {
	for _, err := range e {
		if err.Field == field {
			return true
		}
	}
	return false
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}

	co := &c.Coordinator
	if !isValidAddress(co.Address) {
		add("coordinator.address", "invalid address format, expected host:port")
	}
	switch co.PlanSource {
	case PlanSourceFile:
		if co.PlanFile == "" {
			add("coordinator.plan_file", "plan file is required for the file source")
		}
	case PlanSourceRedis:
		if !isValidAddress(co.Redis.Addr) {
			add("coordinator.redis.addr", "invalid address format, expected host:port")
		}
		if co.Redis.Key == "" {
			add("coordinator.redis.key", "key is required for the redis source")
		}
	default:
		add("coordinator.plan_source", fmt.Sprintf("unknown plan source %q", co.PlanSource))
	}
	if co.StatusAddress != "" && !isValidAddress(co.StatusAddress) {
		add("coordinator.status_address", "invalid address format, expected host:port")
	}
	if co.ReadTimeout <= 0 {
		add("coordinator.read_timeout", "read timeout must be positive")
	}
	if co.WriteTimeout <= 0 {
		add("coordinator.write_timeout", "write timeout must be positive")
	}
	if co.StatsInterval < 0 {
		add("coordinator.stats_interval", "stats interval must be non-negative")
	}

	ag := &c.Agent
	if !isValidAddress(ag.CoordinatorAddress) {
		add("agent.coordinator_address", "invalid address format, expected host:port")
	}
	if ag.HeartbeatMin <= 0 {
		add("agent.heartbeat_min", "heartbeat interval must be positive")
	}
	if ag.HeartbeatMax < ag.HeartbeatMin {
		add("agent.heartbeat_max", "heartbeat_max must not be less than heartbeat_min")
	}
	if ag.DialTimeout <= 0 {
		add("agent.dial_timeout", "dial timeout must be positive")
	}
	if ag.IOTimeout <= 0 {
		add("agent.io_timeout", "io timeout must be positive")
	}

	lg := &c.Logging
	if _, err := logger.ParseLevel(lg.Level); err != nil {
		add("logging.level", err.Error())
	}
	switch lg.Format {
	case "json", "console":
	default:
		add("logging.format", fmt.Sprintf("unknown format %q", lg.Format))
	}
	switch lg.Output {
	case "stdout":
	case "file", "both":
		if lg.FilePath == "" {
			add("logging.file_path", "file path is required for file output")
		}
	default:
		add("logging.output", fmt.Sprintf("unknown output %q", lg.Output))
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// isValidAddress accepts host:port and :port with a numeric port.
func isValidAddress(addr string) bool {
	if addr == "" {
		return false
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n >= 0 && n <= 65535
}
