package config

import "context"

// Loader is the interface for a format-specific manifest loader.
type Loader interface {
	// Load reads the manifest files found at paths and merges them into
	// a single model.
	Load(ctx context.Context, paths ...string) (*Model, error)
}
