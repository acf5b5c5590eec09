package orchestrator

import (
	"sort"

	"github.com/kandev/agentcore/internal/task"
)

// PendingAggregation tracks a fan-out delegation: a parent task whose
// completion depends on every child task reporting a terminal result.
type PendingAggregation struct {
	Parent        task.ID
	Children      map[task.ID]struct{}
	Results       map[task.ID]task.Result
	ExpectedCount int
}

func newPendingAggregation(parent task.ID, children []task.ID) *PendingAggregation {
	set := make(map[task.ID]struct{}, len(children))
	for _, c := range children {
		set[c] = struct{}{}
	}
	return &PendingAggregation{
		Parent:        parent,
		Children:      set,
		Results:       make(map[task.ID]task.Result, len(children)),
		ExpectedCount: len(children),
	}
}

// addResult records a child's result and reports whether every child has
// now reported (the aggregation is complete).
func (p *PendingAggregation) addResult(r task.Result) bool {
	if _, ok := p.Children[r.TaskID]; !ok {
		return false
	}
	p.Results[r.TaskID] = r
	return len(p.Results) >= p.ExpectedCount
}

// aggregate builds the parent's Result: Failed with a concatenated reason if
// any child failed, otherwise Completed with a concatenated output.
func (p *PendingAggregation) aggregate() task.Result {
	success := true
	var output, reason string
	var tokensUsed uint64
	var durationMs int64

	for _, child := range orderedChildren(p) {
		r := p.Results[child]
		tokensUsed += r.TokensUsed
		if r.DurationMs > durationMs {
			durationMs = r.DurationMs
		}
		if !r.Success {
			success = false
			if reason != "" {
				reason += "; "
			}
			reason += r.Reason
			continue
		}
		if output != "" {
			output += "\n"
		}
		output += r.Output
	}

	return task.Result{
		TaskID:     p.Parent,
		Success:    success,
		Output:     output,
		Reason:     reason,
		TokensUsed: tokensUsed,
		DurationMs: durationMs,
	}
}

// orderedChildren returns children in a stable order (by task ID string) so
// aggregated output/reason concatenation is deterministic across runs.
func orderedChildren(p *PendingAggregation) []task.ID {
	out := make([]task.ID, 0, len(p.Children))
	for c := range p.Children {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
