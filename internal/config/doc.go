// Package config defines the format-agnostic manifest model of a pipeline
// and its schedule, the Loader interface that front ends implement, and
// the translation of a Model into a pipeline.Pipeline and a
// schedule.Snapshot.
//
// Expressions in the model are already expr.Expr values; front ends such
// as the HCL loader in internal/hcl translate their own syntax before the
// model is built.
package config
