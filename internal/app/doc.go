// Package app contains the core application logic. It loads a manifest,
// compiles the pipeline it describes and optionally prints, dumps or runs
// the result, decoupled from any specific entrypoint like a CLI.
package app
