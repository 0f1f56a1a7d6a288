// Package hcl provides the HCL implementation of config.Loader. It parses
// pipeline manifests, decodes their blocks with gohcl, translates the HCL
// expression syntax of stage bodies into expr.Expr, and reads schedule
// directives in the order they are written.
package hcl
