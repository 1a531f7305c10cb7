// Package tools is the registry of side-effecting actions an agent may call.
//
// Invariants:
// - Execute never panics and never returns a Go error: unknown tools, tools
//   outside the caller's allowed subset, malformed or missing arguments,
//   handler errors and timeouts all become an unsuccessful Result.
// - Injected parameters are required for validation but never shown to the model.
//
// Usage:
//
//	reg := tools.New(tools.Config{})
//	_ = reg.Register(tools.Definition{...})
//	res := reg.Execute(ctx, call, []string{"get_menu"})
//	msg := llm.ToolResultMessage(call, res.Content(), !res.Success)
package tools
