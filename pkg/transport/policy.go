package transport

import (
	"time"

	"taskbridge/pkg/config"
)

// Policies groups the three call classes used by upstream clients.
type Policies struct {
	Read               Policy
	Mutation           Policy
	IdempotentMutation Policy
}

// DefaultPolicies returns the package presets.
func DefaultPolicies() Policies {
	return Policies{
		Read:               ReadPolicy,
		Mutation:           MutationPolicy,
		IdempotentMutation: IdempotentMutationPolicy,
	}
}

// PoliciesFromConfig derives the call classes from the configured base policy.
// Mutations never retry regardless of configuration.
func PoliciesFromConfig(cfg config.TransportConfig) Policies {
	policies := DefaultPolicies()

	if cfg.TimeoutMs > 0 {
		timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
		policies.Read.Timeout = timeout
		policies.Mutation.Timeout = timeout
		policies.IdempotentMutation.Timeout = timeout
	}
	if cfg.BaseDelayMs > 0 {
		delay := time.Duration(cfg.BaseDelayMs) * time.Millisecond
		policies.Read.BaseDelay = delay
		policies.Mutation.BaseDelay = delay
		policies.IdempotentMutation.BaseDelay = delay
	}
	if cfg.MaxRetries >= 0 {
		policies.Read.MaxRetries = cfg.MaxRetries
		policies.IdempotentMutation.MaxRetries = cfg.MaxRetries
	}

	return policies
}
