package orchestrator

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/kandev/agentcore/internal/task"
)

// Subtask is one (role, description) pair fanned out by DelegateToSpecialists.
type Subtask struct {
	Role        string
	Description string
}

// DelegateToSpecialists fans subtasks out to one child task per entry, all
// children of parent, and registers a PendingAggregation so the parent
// completes once every child reports (Completed with concatenated output
// if all succeed, Failed with an aggregated reason otherwise). Returns
// parent.ID once every child has been created and routed.
func (o *Orchestrator) DelegateToSpecialists(ctx context.Context, parent *task.Task, subtasks []Subtask) (task.ID, error) {
	children := make([]task.ID, 0, len(subtasks))
	childTasks := make([]*task.Task, 0, len(subtasks))

	for _, st := range subtasks {
		child, err := task.New(st.Description, st.Role, parent.Priority)
		if err != nil {
			return task.ID{}, err
		}
		child.ParentTask = &parent.ID
		if err := o.tasks.Insert(child); err != nil {
			return task.ID{}, err
		}
		children = append(children, child.ID)
		childTasks = append(childTasks, child)
	}

	o.aggMu.Lock()
	o.aggregations[parent.ID] = newPendingAggregation(parent.ID, children)
	o.aggMu.Unlock()

	// Routing each child only selects an agent and marks the task assigned
	// (RouteTaskAuto returns before delivery completes), but still takes the
	// routing-table lock per call; fan the selections out concurrently and
	// wait for all of them rather than serializing one by one.
	g, gctx := errgroup.WithContext(ctx)
	for _, child := range childTasks {
		child := child
		g.Go(func() error {
			if err := o.RouteTaskAuto(gctx, child); err != nil {
				// The child failed to dispatch outright (e.g. NoAgentAvailable);
				// synthesize a failed result so the aggregation still resolves
				// instead of hanging forever waiting for a child that never ran.
				_, _ = o.ProcessResult(ctx, task.Result{
					TaskID: child.ID,
					Reason: err.Error(),
				})
			}
			return nil
		})
	}
	_ = g.Wait()

	return parent.ID, nil
}
