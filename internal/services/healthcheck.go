package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	healthCheckAttempts = 2
	healthCheckDelay    = 2 * time.Second
)

// Pinger is implemented by every provider client that can validate its
// credentials with a cheap request.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProviderHealth is the outcome of checking one provider.
type ProviderHealth struct {
	Provider string `json:"provider"`
	OK       bool   `json:"ok"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// HealthChecker pings providers with a small fixed retry.
type HealthChecker struct {
	Attempts int
	Delay    time.Duration
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{Attempts: healthCheckAttempts, Delay: healthCheckDelay}
}

// CheckProviders pings every provider concurrently. Results are sorted by
// provider name.
func (h *HealthChecker) CheckProviders(ctx context.Context, providers map[string]Pinger) []ProviderHealth {
	results := make([]ProviderHealth, len(providers))
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			results[i] = h.check(gctx, name, providers[name])
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (h *HealthChecker) check(ctx context.Context, name string, p Pinger) ProviderHealth {
	attempts := h.Attempts
	if attempts < 1 {
		attempts = 1
	}

	result := ProviderHealth{Provider: name}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result.Attempts = attempt
		lastErr = p.Ping(ctx)
		if lastErr == nil {
			result.OK = true
			return result
		}

		log.Printf("[HealthCheck] %s attempt %d/%d failed: %v", name, attempt, attempts, lastErr)

		// An invalid key will not fix itself on retry
		var apiErr *APIError
		if errors.As(lastErr, &apiErr) && apiErr.Unauthorized() {
			break
		}
		if attempt < attempts {
			select {
			case <-ctx.Done():
				result.Error = fmt.Sprintf("cancelled: %v", ctx.Err())
				return result
			case <-time.After(h.Delay):
			}
		}
	}

	result.Error = lastErr.Error()
	return result
}
