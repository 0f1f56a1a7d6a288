// Package dag is a small directed acyclic graph over string IDs. The
// pipeline package uses it for stage dependencies and the lowering engine
// uses it to check that placement choices do not form a loop.
package dag
