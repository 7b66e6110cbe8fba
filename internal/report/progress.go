package report

import (
	"context"
	"time"
)

// ProgressSnapshot is a point-in-time view of task statuses, suitable for
// display or caching. It copies statuses out so consumers never touch
// engine-owned state.
type ProgressSnapshot struct {
	PlanID    string                `json:"plan_id"`
	Topic     string                `json:"topic"`
	Statuses  map[string]TaskStatus `json:"statuses"`
	Total     int                   `json:"total"`
	Completed int                   `json:"completed"`
	Failed    int                   `json:"failed"`
	Timestamp time.Time             `json:"timestamp"`
}

// Done reports whether every task has settled.
func (s ProgressSnapshot) Done() bool {
	return s.Completed+s.Failed == s.Total
}

// ProgressFunc receives snapshots on the polling interval.
type ProgressFunc func(ProgressSnapshot)

// Snapshot captures current task statuses. Safe to call while a plan
// executes.
func (e *Engine) Snapshot(plan *ExecutionPlan) ProgressSnapshot {
	snap := ProgressSnapshot{
		PlanID:    plan.ID,
		Topic:     plan.Topic,
		Statuses:  make(map[string]TaskStatus, len(plan.Tasks)),
		Total:     len(plan.Tasks),
		Timestamp: time.Now(),
	}
	e.mu.RLock()
	for id, task := range plan.Tasks {
		snap.Statuses[id] = task.Status
		switch task.Status {
		case TaskStatusCompleted:
			snap.Completed++
		case TaskStatusFailed:
			snap.Failed++
		}
	}
	e.mu.RUnlock()
	return snap
}

// startProgress launches the polling goroutine when a callback is
// registered. The returned stop function emits one final snapshot so
// consumers always observe the settled state.
func (e *Engine) startProgress(ctx context.Context, plan *ExecutionPlan) (stop func()) {
	if e.progressFn == nil {
		return func() {}
	}
	interval := e.progressInterval
	if interval <= 0 {
		interval = time.Second
	}
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.progressFn(e.Snapshot(plan))
			}
		}
	}()
	return func() {
		close(done)
		<-finished
		e.progressFn(e.Snapshot(plan))
	}
}
