// Package llm is the language-model boundary of menubot.
//
// A Provider speaks one vendor protocol. The Gateway wraps a Provider with
// environment-dependent sampling, bounded retries and a sticky fallback model.
//
// Invariants:
// - Gateway errors after exhausted retries wrap ErrModelUnavailable.
// - Response.Model always names the model that produced the message.
// - Stream is retried only while no delta has reached the caller.
package llm
