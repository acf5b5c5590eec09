package orchestrator

import (
	"context"
	"sync/atomic"

	"github.com/kandev/agentcore/internal/aps"
)

// Broadcast forwards to the APS broadcast channel; if APS is not wired up
// (or reaches zero recipients) it falls back to the pub-sub adapter so
// single-process deployments without any APS workers still deliver
// lifecycle notifications to local subscribers. Returns the recipient
// count reported by whichever path was used.
func (o *Orchestrator) Broadcast(ctx context.Context, kind aps.BroadcastKind, content map[string]any) int {
	if o.aps != nil {
		if n := o.aps.Broadcast(kind, content); n > 0 {
			return n
		}
	}

	if o.pubsub != nil {
		payload := map[string]any{"message_type": string(kind), "content": content}
		if err := o.pubsub.Publish(ctx, "orchestrator.broadcast", payload); err == nil {
			return 1
		}
	}
	return 0
}

// Announce is a convenience wrapper around Broadcast for operator/system
// announcements.
func (o *Orchestrator) Announce(ctx context.Context, message string) int {
	return o.Broadcast(ctx, aps.BroadcastAnnouncement, map[string]any{"message": message})
}

// HealthCheck broadcasts a health-check notification and returns the number
// of currently registered agents (a cheap liveness signal independent of
// whatever recipient count the broadcast transport reports).
func (o *Orchestrator) HealthCheck(ctx context.Context) int {
	o.Broadcast(ctx, aps.BroadcastHealthCheck, nil)
	atomic.AddUint64(&o.healthCheckCount, 1)

	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.agents)
}
