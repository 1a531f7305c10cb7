package engine

import (
	"context"

	"github.com/harun/menubot/pkg/conversation"
)

// EventType tags a stream event.
type EventType string

const (
	EventToken EventType = "token"
	EventNode  EventType = "node"
	EventError EventType = "error"
	EventDone  EventType = "done"
)

// Event is one item of a streamed turn.
type Event struct {
	Type    EventType
	Content string
	Node    conversation.NodeID
	// Result is set on EventDone.
	Result *TurnResult
	// Err is set on EventError.
	Err error
}

// StreamTurn runs a turn and streams its tokens. The channel ends with
// exactly one EventError or EventDone and is then closed. When ctx ends,
// undelivered events are dropped and the turn still completes.
func (e *Engine) StreamTurn(ctx context.Context, req TurnRequest) (<-chan Event, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	events := make(chan Event, streamBuffer)
	send := func(ev Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(events)

		res, ran, err := e.enqueue(ctx, req, send)
		if err != nil {
			send(Event{Type: EventError, Err: err})
			return
		}
		if !ran {
			// A deduplicated delivery replays the cached answer.
			send(Event{Type: EventNode, Node: res.Node})
			for _, m := range res.Messages {
				send(Event{Type: EventToken, Content: m.Content})
			}
		}
		send(Event{Type: EventDone, Node: res.Node, Result: res})
	}()

	return events, nil
}
