// Package orchestrator decides which agent node answers a user message.
//
// A decision is made in three steps: the routing precedence over the node
// history, an LLM intent classification, and deterministic guards that
// correct the intent against the customer's last order.
package orchestrator
