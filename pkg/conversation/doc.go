// Package conversation holds the per-session state that the routing engine
// checkpoints between turns, and the reducer that advances it.
package conversation
