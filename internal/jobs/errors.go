package jobs

import (
	"errors"
	"fmt"
)

// ErrConfigNotFound is returned when a job type has no registry entry
var ErrConfigNotFound = errors.New("job type config not found")

// ConfigNotFoundError names the job type that could not be resolved
type ConfigNotFoundError struct {
	Type Type
}

func (e *ConfigNotFoundError) Error() string {
	return fmt.Sprintf("%s: %q", ErrConfigNotFound.Error(), e.Type)
}

func (e *ConfigNotFoundError) Unwrap() error {
	return ErrConfigNotFound
}
