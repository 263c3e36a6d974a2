package picker

import "context"

// Provider is the interface for data sources that supply items to the picker.
type Provider interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}

// Request describes what items the picker wants from a Provider.
type Request struct {
	RequestID uint64            // Monotonically increasing, for stale response detection
	Query     string            // Substring filter
	TabID     string            // Active tab identifier
	Options   map[string]string // Tab context (session, dir, last command)
	Limit     int
	Offset    int
}

// Response carries items back from a Provider.
type Response struct {
	RequestID uint64 // Must match Request.RequestID to be accepted
	Items     []Item
	AtEnd     bool // No more pages available
}

// Item is one selectable command.
type Item struct {
	Value   string // Command inserted on selection
	Display string // Rendered list line; Value when empty
}

func (it Item) label() string {
	if it.Display != "" {
		return it.Display
	}
	return it.Value
}

// Tab is one view of the picker.
type Tab struct {
	ID    string
	Label string
	Args  map[string]string
}

// Tab identifiers understood by EngineProvider.
const (
	TabPredict  = "predict"
	TabNext     = "next"
	TabWorkflow = "workflow"
)

// Option keys read by EngineProvider.
const (
	OptSession = "session"
	OptDir     = "dir"
	OptLast    = "last"
)

// DefaultTabs returns the predict, next and workflow tabs for a shell
// session whose last command was last.
func DefaultTabs(session, dir, last string) []Tab {
	args := map[string]string{OptSession: session, OptDir: dir, OptLast: last}
	return []Tab{
		{ID: TabPredict, Label: "Predicted", Args: args},
		{ID: TabNext, Label: "Next", Args: args},
		{ID: TabWorkflow, Label: "Workflow", Args: args},
	}
}
