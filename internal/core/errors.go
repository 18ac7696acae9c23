package core

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownDataset is returned for dataset types with no registered definition.
	ErrUnknownDataset = errors.New("unknown dataset type")

	// ErrPeriodClaimed means another transaction recorded the period first.
	ErrPeriodClaimed = errors.New("period already claimed")

	// ErrFileTooLarge is returned by sources when a file exceeds the size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrJobNotFound is returned for unknown or expired job ids.
	ErrJobNotFound = errors.New("job not found")

	// ErrShuttingDown is returned by Submit once Shutdown has started.
	ErrShuttingDown = errors.New("service is shutting down")
)

// IneligibleError wraps a negative Decision for callers that need an error.
type IneligibleError struct {
	Type     DatasetType
	Period   Period
	Decision Decision
}

func (e *IneligibleError) Error() string {
	return fmt.Sprintf("%s %s is not eligible (%s): %s", e.Type, e.Period, e.Decision.Rule, e.Decision.Reason)
}
