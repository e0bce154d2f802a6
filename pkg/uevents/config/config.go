// Package config loads registry settings from YAML or JSON files.
package config

import (
	"errors"
	"fmt"
)

// Defaults for Settings fields left zero.
const (
	// DefaultMaxEvents is the default cap on simultaneously live events.
	DefaultMaxEvents = 32768

	// DefaultFaultWorkers is the default fault worker pool size.
	DefaultFaultWorkers = 4

	// DefaultFaultQueueDepth is the default pending fault job capacity.
	DefaultFaultQueueDepth = 256
)

// Sentinel errors for settings validation.
var (
	// ErrInvalidMaxEvents indicates a non-positive event cap.
	ErrInvalidMaxEvents = errors.New("max_events must be positive")

	// ErrInvalidWorkers indicates a non-positive worker count.
	ErrInvalidWorkers = errors.New("fault_workers must be positive")

	// ErrInvalidQueueDepth indicates a non-positive queue depth.
	ErrInvalidQueueDepth = errors.New("fault_queue_depth must be positive")
)

// Settings configures a registry instance.
type Settings struct {
	// MaxEvents caps the number of simultaneously live events.
	MaxEvents int `yaml:"max_events" json:"max_events"`

	// FaultWorkers is the number of background fault workers.
	FaultWorkers int `yaml:"fault_workers" json:"fault_workers"`

	// FaultQueueDepth is the capacity of the pending fault job queue.
	FaultQueueDepth int `yaml:"fault_queue_depth" json:"fault_queue_depth"`

	// StorePath, when set, is the SQLite path for a persistent trace
	// backend wired by the embedding application.
	StorePath string `yaml:"store_path" json:"store_path"`
}

// Default returns the default settings.
func Default() Settings {
	return Settings{
		MaxEvents:       DefaultMaxEvents,
		FaultWorkers:    DefaultFaultWorkers,
		FaultQueueDepth: DefaultFaultQueueDepth,
	}
}

// withDefaults fills zero fields from Default.
func (s Settings) withDefaults() Settings {
	d := Default()
	if s.MaxEvents == 0 {
		s.MaxEvents = d.MaxEvents
	}
	if s.FaultWorkers == 0 {
		s.FaultWorkers = d.FaultWorkers
	}
	if s.FaultQueueDepth == 0 {
		s.FaultQueueDepth = d.FaultQueueDepth
	}
	return s
}

// Validate checks the settings for consistency.
func (s Settings) Validate() error {
	if s.MaxEvents <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxEvents, s.MaxEvents)
	}
	if s.FaultWorkers <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWorkers, s.FaultWorkers)
	}
	if s.FaultQueueDepth <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQueueDepth, s.FaultQueueDepth)
	}
	return nil
}
