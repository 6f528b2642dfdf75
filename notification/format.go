package notification

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tradewarden/tradewarden/core"
)

// severityBadges prefix outbound messages so a phone glance carries the
// urgency.
var severityBadges = map[core.Severity]string{
	core.SeverityInfo:     "ℹ️",
	core.SeverityWarning:  "⚠️",
	core.SeverityCritical: "🛑",
}

// kindTitles map event kinds to human headlines. Unlisted kinds fall
// back to the raw kind tag.
var kindTitles = map[core.EventKind]string{
	core.EventOrderSubmitted:  "ORDER SUBMITTED",
	core.EventOrderRejected:   "ORDER REJECTED",
	core.EventExitTransition:  "EXIT STATE",
	core.EventExitQuarantined: "EXIT RULE QUARANTINED",
	core.EventLossCutExit:     "LOSS CUT",
	core.EventOCOTriggered:    "OCO TRIGGERED",
	core.EventOCOFailed:       "OCO FAILED",
	core.EventOCODoubleFill:   "OCO DOUBLE FILL",
	core.EventPlanExecuted:    "PLAN EXECUTED",
	core.EventInvariantBreach: "INVARIANT BREACH",
	core.EventEngineHalted:    "ENGINE HALTED",
	core.EventEngineResumed:   "ENGINE RESUMED",
}

// FormatEvent renders one event for chat delivery
func FormatEvent(e core.Event) string {
	title, ok := kindTitles[e.Kind]
	if !ok {
		title = strings.ToUpper(strings.ReplaceAll(string(e.Kind), "_", " "))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s", severityBadges[e.Severity], title)
	if e.Symbol != "" {
		sb.WriteString(" - " + e.Symbol)
	}
	if e.Ticket != 0 {
		fmt.Fprintf(&sb, " #%d", e.Ticket)
	}

	if len(e.Payload) > 0 {
		keys := make([]string, 0, len(e.Payload))
		for k := range e.Payload {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "%s: `%v`\n", k, e.Payload[k])
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
