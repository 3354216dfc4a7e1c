package classifier

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Hint keys understood by Classify.
const (
	HintCode     = "code"
	HintSeverity = "severity"
)

type rule struct {
	severity Severity
	patterns []string
}

// Order matters: the first rule with a matching pattern wins.
var rules = []rule{
	{
		severity: SeverityCritical,
		patterns: []string{
			"out of memory", "outofmemory", "enomem", "heap exhausted",
			"fatal", "panic", "unrecoverable", "corrupt", "integrity violation",
		},
	},
	{
		severity: SeverityHigh,
		patterns: []string{
			"econnrefused", "econnreset", "etimedout", "ehostunreach", "enotfound",
			"connection", "timeout", "timed out", "network", "dial", "socket",
			"broken pipe", "unexpected eof",
		},
	},
	{
		severity: SeverityMedium,
		patterns: []string{
			"rate limit", "ratelimit", "too many requests", "429", "quota",
			"unauthorized", "forbidden", "401", "403", "auth", "api error", "api request",
		},
	},
}

// Classify returns the severity for a message. An explicit, valid
// hints["severity"] takes precedence; hints["code"] is matched along with the
// message.
func Classify(message string, hints map[string]any) Severity {
	if raw, ok := hints[HintSeverity]; ok {
		if severity, err := ParseSeverity(fmt.Sprint(raw)); err == nil {
			return severity
		}
	}

	subject := strings.ToLower(message)
	if code, ok := hints[HintCode]; ok {
		subject += " " + strings.ToLower(fmt.Sprint(code))
	}

	for _, r := range rules {
		for _, pattern := range r.patterns {
			if strings.Contains(subject, pattern) {
				return r.severity
			}
		}
	}

	return SeverityLow
}

// ClassifyError classifies err, treating deadline and network timeouts as
// High even when their message carries no recognisable keyword.
func ClassifyError(err error, hints map[string]any) Severity {
	if err == nil {
		return Classify("", hints)
	}
	if _, ok := hints[HintSeverity]; ok {
		return Classify(err.Error(), hints)
	}

	severity := Classify(err.Error(), hints)
	if severity != SeverityLow {
		return severity
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return SeverityHigh
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return SeverityHigh
	}

	return severity
}
