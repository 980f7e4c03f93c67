package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/aatumaykin/tfreaper/internal/bus"
)

// render produces the human-facing title and body for a notification.
// Environment values and command output are deliberately left out of
// alert sinks; only the log sink sees output chunks.
func render(n bus.Notification) (title, body string) {
	name := n.ProjectName
	if name == "" {
		name = n.ProjectID
	}

	switch n.Type {
	case bus.TypeWarning:
		title = fmt.Sprintf("%s destroys in %s", name, minutesPhrase(n.MinutesLeft))
		body = withDeadline(n.Path, n.DestroyAt)
	case bus.TypeDestroying:
		title = fmt.Sprintf("destroying %s", name)
		if n.Attempt > 1 {
			title += fmt.Sprintf(" (attempt %d)", n.Attempt)
		}
		body = n.Path
	case bus.TypeCompleted:
		title = fmt.Sprintf("destroyed %s", name)
		body = n.Path
	case bus.TypeRetryScheduled:
		title = fmt.Sprintf("destroy of %s failed, will retry", name)
		body = withDeadline(n.Error, n.DestroyAt)
	case bus.TypeFailed:
		title = fmt.Sprintf("destroy of %s failed permanently", name)
		body = n.Error
	case bus.TypeCancelled:
		title = fmt.Sprintf("destruction of %s cancelled", name)
		body = n.Path
	case bus.TypeExtended:
		title = fmt.Sprintf("deadline for %s extended", name)
		body = withDeadline(n.Path, n.DestroyAt)
	case bus.TypeDiscovered:
		title = fmt.Sprintf("discovered %s", name)
		body = withDeadline(n.Path, n.DestroyAt)
	case bus.TypeUpdated:
		title = fmt.Sprintf("updated %s", name)
		body = withDeadline(n.Path, n.DestroyAt)
	case bus.TypeRemoved:
		title = fmt.Sprintf("removed %s", name)
		body = n.Path
	case bus.TypeRegistered, bus.TypeScheduled:
		title = fmt.Sprintf("scheduled %s", name)
		body = withDeadline(n.Path, n.DestroyAt)
	case bus.TypeExecutionStarted:
		title = fmt.Sprintf("destroy started for %s", name)
		body = n.ExecutionID
	case bus.TypeExecutionOutput:
		title = fmt.Sprintf("output from %s", name)
		body = strings.TrimRight(n.Output, "\n")
	case bus.TypeError:
		title = fmt.Sprintf("error for %s", name)
		body = n.Error
	default:
		title = string(n.Type)
		if name != "" {
			title = fmt.Sprintf("%s: %s", n.Type, name)
		}
	}

	return title, body
}

func minutesPhrase(minutes int) string {
	if minutes == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", minutes)
}

func withDeadline(prefix string, destroyAt time.Time) string {
	if destroyAt.IsZero() {
		return prefix
	}
	clock := destroyAt.Local().Format("15:04")
	if prefix == "" {
		return "destroy at " + clock
	}
	return fmt.Sprintf("%s (destroy at %s)", prefix, clock)
}
