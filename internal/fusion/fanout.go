package fusion

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/dusk-indust/querydesk/internal/agent"
)

// Status is the state of one side during fan-out.
type Status string

const (
	StatusPending  Status = "pending"
	StatusWorking  Status = "working"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Event reports progress of one side.
type Event struct {
	Side    agent.Role
	Status  Status
	Message string
}

// Task is one agent call in a fan-out.
type Task struct {
	Agent agent.Agent
	Query string
	Scope string
}

// SideResult holds the outcome of one Task.
type SideResult struct {
	Side   agent.Role
	Result *agent.Result
	Err    error
}

// FanOut runs tasks concurrently and waits for all of them. A failing task
// does not cancel the others; each result carries its own error. onEvent is
// called from the task goroutines and may be nil.
func FanOut(ctx context.Context, tasks []Task, onEvent func(Event)) []SideResult {
	emit := func(ev Event) {
		if onEvent != nil {
			onEvent(ev)
		}
	}

	results := make([]SideResult, len(tasks))
	var g errgroup.Group
	for i, task := range tasks {
		side := task.Agent.Role()
		emit(Event{Side: side, Status: StatusPending})

		g.Go(func() error {
			emit(Event{Side: side, Status: StatusWorking, Message: task.Query})
			res, err := task.Agent.Handle(ctx, task.Query, task.Scope)
			results[i] = SideResult{Side: side, Result: res, Err: err}
			if err != nil {
				emit(Event{Side: side, Status: StatusFailed, Message: err.Error()})
				return nil
			}
			emit(Event{Side: side, Status: StatusComplete})
			return nil
		})
	}
	_ = g.Wait()
	return results
}

type eventsKey struct{}

// ContextWithEvents returns a context whose fused queries also report
// fan-out progress to fn.
func ContextWithEvents(ctx context.Context, fn func(Event)) context.Context {
	return context.WithValue(ctx, eventsKey{}, fn)
}

// handlers returns a callback that reports to base and to the handler
// carried by ctx, either of which may be nil.
func handlers(ctx context.Context, base func(Event)) func(Event) {
	extra, _ := ctx.Value(eventsKey{}).(func(Event))
	switch {
	case extra == nil:
		return base
	case base == nil:
		return extra
	default:
		return func(ev Event) {
			base(ev)
			extra(ev)
		}
	}
}
