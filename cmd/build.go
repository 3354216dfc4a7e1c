package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/angeloszaimis/self-healing/config"
	"github.com/angeloszaimis/self-healing/internal/classifier"
	"github.com/angeloszaimis/self-healing/internal/engine"
	"github.com/angeloszaimis/self-healing/internal/httpserver"
	"github.com/angeloszaimis/self-healing/internal/recovery"
)

func buildEngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.DefaultConfig()
	var err error

	if cfg.Breaker.Threshold > 0 {
		out.BreakerThreshold = cfg.Breaker.Threshold
	}
	if out.BreakerTimeout, err = durationOr("breaker.timeout", cfg.Breaker.Timeout, out.BreakerTimeout); err != nil {
		return engine.Config{}, err
	}

	if cfg.History.Capacity > 0 {
		out.HistoryCapacity = cfg.History.Capacity
	}
	if out.HistoryRetention, err = durationOr("history.retention", cfg.History.Retention, out.HistoryRetention); err != nil {
		return engine.Config{}, err
	}
	if cfg.History.SweepSchedule != "" {
		out.SweepSchedule = cfg.History.SweepSchedule
	}

	if out.HealthInterval, err = durationOr("health.interval", cfg.Health.Interval, out.HealthInterval); err != nil {
		return engine.Config{}, err
	}
	if out.ProbeTimeout, err = durationOr("health.probe_timeout", cfg.Health.ProbeTimeout, out.ProbeTimeout); err != nil {
		return engine.Config{}, err
	}
	if out.SlowResponse, err = durationOr("health.slow_response", cfg.Health.SlowResponse, out.SlowResponse); err != nil {
		return engine.Config{}, err
	}

	if out.AttemptTimeout, err = durationOr("recovery.attempt_timeout", cfg.Recovery.AttemptTimeout, out.AttemptTimeout); err != nil {
		return engine.Config{}, err
	}
	if out.Policies, err = buildPolicies(cfg.Recovery.Policies); err != nil {
		return engine.Config{}, err
	}

	sh := &out.SelfHealing
	if sh.Interval, err = durationOr("self_healing.interval", cfg.SelfHealing.Interval, sh.Interval); err != nil {
		return engine.Config{}, err
	}
	if sh.CheckInterval, err = durationOr("self_healing.check_interval", cfg.SelfHealing.CheckInterval, sh.CheckInterval); err != nil {
		return engine.Config{}, err
	}
	if sh.ErrorWindow, err = durationOr("self_healing.error_window", cfg.SelfHealing.ErrorWindow, sh.ErrorWindow); err != nil {
		return engine.Config{}, err
	}
	if cfg.SelfHealing.ErrorThreshold > 0 {
		sh.ErrorThreshold = cfg.SelfHealing.ErrorThreshold
	}
	if cfg.SelfHealing.MemoryThresholdMB > 0 {
		sh.MemoryThreshold = uint64(cfg.SelfHealing.MemoryThresholdMB) << 20
	}
	sh.HealthThreshold = cfg.SelfHealing.HealthThreshold
	if cfg.SelfHealing.ProblemThreshold > 0 {
		sh.ProblemThreshold = cfg.SelfHealing.ProblemThreshold
	}

	out.StateFile = cfg.StateFile
	return out, nil
}

// buildPolicies layers the configured overrides on the default policies.
// Unset fields keep the default for that severity.
func buildPolicies(overrides map[string]config.PolicyConfig) (recovery.Policies, error) {
	policies := recovery.DefaultPolicies()

	for name, pc := range overrides {
		severity, err := classifier.ParseSeverity(strings.ToLower(name))
		if err != nil {
			return nil, fmt.Errorf("recovery.policies.%s: %w", name, err)
		}

		p := policies[severity]
		if pc.MaxAttempts > 0 {
			p.MaxAttempts = pc.MaxAttempts
		}
		if pc.Multiplier > 0 {
			p.Multiplier = pc.Multiplier
		}
		if p.BaseDelay, err = durationOr("recovery.policies."+name+".base_delay", pc.BaseDelay, p.BaseDelay); err != nil {
			return nil, err
		}
		if p.MaxDelay, err = durationOr("recovery.policies."+name+".max_delay", pc.MaxDelay, p.MaxDelay); err != nil {
			return nil, err
		}
		policies[severity] = p
	}

	return policies, nil
}

func buildServerConfig(cfg *config.Config) (httpserver.Config, error) {
	out := httpserver.DefaultConfig()
	var err error

	if out.ReadTimeout, err = durationOr("server.read_timeout", cfg.Server.ReadTimeout, out.ReadTimeout); err != nil {
		return httpserver.Config{}, err
	}
	if out.WriteTimeout, err = durationOr("server.write_timeout", cfg.Server.WriteTimeout, out.WriteTimeout); err != nil {
		return httpserver.Config{}, err
	}
	if out.ShutdownTimeout, err = durationOr("server.shutdown_timeout", cfg.Server.ShutdownTimeout, out.ShutdownTimeout); err != nil {
		return httpserver.Config{}, err
	}
	return out, nil
}

func durationOr(key, raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
