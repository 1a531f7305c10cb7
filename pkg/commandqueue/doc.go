// Package commandqueue provides lane-based task execution with FIFO ordering per lane.
//
// menubot funnels every turn of a conversation through the lane returned by
// SessionLane, which gives each session a single consumer.
//
// Invariants:
// - Tasks in the same lane execute in FIFO order.
// - Tasks in different lanes may execute concurrently.
// - Idle lanes are dropped; a lane never receives work after it was dropped.
// - A task with a RequestID already completed in its lane is not run again.
//
// Usage:
//
//	queue := commandqueue.New(commandqueue.Config{})
//	defer queue.Close()
//	result, err := queue.EnqueueWithContext(ctx, commandqueue.SessionLane(id), func(ctx context.Context) (interface{}, error) {
//		return "ok", nil
//	}, nil)
package commandqueue
