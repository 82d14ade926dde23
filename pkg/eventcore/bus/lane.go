package bus

import (
	"strings"

	"github.com/randalmurphal/eventcore/pkg/eventcore/event"
	"github.com/randalmurphal/eventcore/pkg/eventcore/queue"
)

// realtimePrefixes route straight to the realtime lane by taxonomy family.
var realtimePrefixes = []string{"ai.", "grid."}

// LaneClassifier resolves the destination lane for an event.
type LaneClassifier struct {
	// DefaultDomain is this process's domain; events targeting any other
	// domain route to the cross-domain lane.
	DefaultDomain string
}

// Classify applies the ordered lane rules:
//
//  1. an explicit meta pipeline hint wins
//  2. realtime name prefixes (ai.*, grid.*)
//  3. a non-default target domain routes cross-domain
//  4. high or critical priority routes realtime
//  5. general, the default
func (c *LaneClassifier) Classify(evt *event.Event) queue.Lane {
	if hint, ok := evt.PipelineHint(); ok {
		if lane := queue.Lane(hint); lane.Valid() {
			return lane
		}
	}

	for _, prefix := range realtimePrefixes {
		if strings.HasPrefix(evt.Name, prefix) {
			return queue.LaneRealtime
		}
	}

	if domain, ok := evt.TargetDomain(); ok && domain != c.DefaultDomain {
		return queue.LaneCrossDomain
	}

	if evt.Priority == event.PriorityHigh || evt.Priority == event.PriorityCritical {
		return queue.LaneRealtime
	}

	return queue.LaneGeneral
}
