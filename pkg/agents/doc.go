// Package agents implements the specialized conversation nodes. Each node
// renders its system prompt, calls the model with its own tool subset, and
// fills session-scoped tool arguments the model must not choose.
package agents
