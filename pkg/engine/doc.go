// Package engine runs conversation turns.
//
// A turn loads the session checkpoint, asks the orchestrator for a node,
// lets that node's agent call tools until it produces a final answer, and
// saves the new state in a single checkpoint write. Turns of one session are
// serialized through a commandqueue lane; turns of different sessions run in
// parallel.
package engine
