package engine

import "github.com/harun/menubot/pkg/conversation"

type stepKind int

const (
	stepOrchestrate stepKind = iota
	stepAgent
	stepDispatch
	stepDone
)

func (k stepKind) String() string {
	switch k {
	case stepOrchestrate:
		return "orchestrate"
	case stepAgent:
		return "agent"
	case stepDispatch:
		return "dispatch"
	default:
		return "done"
	}
}

// step is a position in the turn graph. node is set for agent and dispatch
// steps.
type step struct {
	kind stepKind
	node conversation.NodeID
}

// outcome is what the previous step produced.
type outcome struct {
	decision  conversation.NodeID
	toolCalls bool
}

func transition(cur step, out outcome) step {
	switch cur.kind {
	case stepOrchestrate:
		return step{kind: stepAgent, node: out.decision}
	case stepAgent:
		if out.toolCalls {
			return step{kind: stepDispatch, node: cur.node}
		}
		return step{kind: stepDone, node: cur.node}
	case stepDispatch:
		return step{kind: stepAgent, node: cur.node}
	default:
		return step{kind: stepDone, node: cur.node}
	}
}
