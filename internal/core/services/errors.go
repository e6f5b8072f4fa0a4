package services

import (
	"errors"
	"fmt"
)

// Error kinds. Every error the orchestrator returns wraps exactly one of
// these, so callers classify with errors.Is.
var (
	ErrValidation = errors.New("validation")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
	ErrUpstream   = errors.New("upstream")
)

// Catalog errors
var (
	ErrUnsupportedApp    = fmt.Errorf("%w: unsupported application", ErrValidation)
	ErrUnsupportedBundle = fmt.Errorf("%w: unsupported application bundle", ErrValidation)
	ErrUnsupportedAction = fmt.Errorf("%w: unsupported task action", ErrValidation)
)

// Task errors
var (
	ErrTaskNotFound          = fmt.Errorf("%w: task not found", ErrNotFound)
	ErrTaskNotRetryable      = fmt.Errorf("%w: only failed tasks can be retried", ErrValidation)
	ErrTaskInvalidTransition = errors.New("task: invalid status transition")
)

// Lifecycle errors
var (
	ErrAppAlreadyInstalled = fmt.Errorf("%w: application already installed", ErrConflict)
	ErrAppNotInstalled     = fmt.Errorf("%w: application not installed", ErrNotFound)
	ErrInsufficientSpace   = fmt.Errorf("%w: insufficient free space", ErrUpstream)
)

// Readiness errors
var (
	ErrReadinessTimeout = fmt.Errorf("%w: readiness check failed", ErrUpstream)
	ErrDockerProxyDown  = fmt.Errorf("%w: docker-proxy unavailable", ErrUpstream)
)

// upstream wraps a runtime failure so it classifies as ErrUpstream while
// keeping the original message.
func upstream(step string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUpstream) || errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrUpstream, step, err)
}
