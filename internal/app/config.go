package app

import (
	"errors"
	"fmt"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	PipelinePath string // .hcl file or directory

	LogFormat string
	LogLevel  string
	Workers   int
	// VectorWidth overrides the host vector width when positive.
	VectorWidth int
	// Params override the manifest's parameter defaults.
	Params map[string]int64

	Print bool // loop nest
	Dump  bool // pipeline and contracts
	Run   bool
	Check bool // compare run outputs with the naive evaluator
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.PipelinePath == "" {
		return nil, errors.New("PipelinePath is a required configuration field and cannot be empty")
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("workers must not be negative, got %d", cfg.Workers)
	}
	if cfg.VectorWidth < 0 {
		return nil, fmt.Errorf("vector width must not be negative, got %d", cfg.VectorWidth)
	}
	if cfg.Check {
		cfg.Run = true
	}
	return &cfg, nil
}
