package agents

import (
	"github.com/harun/menubot/pkg/llm"
	"github.com/harun/menubot/pkg/tools"
)

// backfillValue returns the fact that fills an empty backfill parameter.
func backfillValue(param string, facts Facts) string {
	switch param {
	case "name":
		return facts.CustomerName
	case "address":
		return facts.LastAddress
	default:
		return ""
	}
}

// InjectArguments returns calls with session-scoped arguments filled in.
// Injected parameters always receive the subject id, whatever the model
// sent; backfill parameters are set only when the model left them empty.
// Calls to unknown tools and calls with malformed arguments are returned
// unchanged so the tool loop can report them.
func InjectArguments(calls []llm.ToolCall, reg *tools.Registry, facts Facts) []llm.ToolCall {
	if len(calls) == 0 {
		return calls
	}

	out := make([]llm.ToolCall, len(calls))
	for i, call := range calls {
		out[i] = call

		def, ok := reg.Get(call.Name)
		if !ok || call.Malformed() {
			continue
		}

		args := make(map[string]any, len(call.Arguments)+1)
		for k, v := range call.Arguments {
			args[k] = v
		}
		for _, p := range def.Parameters {
			switch {
			case p.Injected:
				args[p.Name] = facts.SubjectID
			case p.Backfill:
				if s, _ := args[p.Name].(string); s == "" {
					if v := backfillValue(p.Name, facts); v != "" {
						args[p.Name] = v
					}
				}
			}
		}
		out[i].Arguments = args
	}
	return out
}
