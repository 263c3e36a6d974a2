package picker

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rinawarp/cmdintel/internal/ipc"
)

// EngineProvider implements Provider over the engine API. Results do not
// depend on the filter query, so each tab is fetched once per context and
// filtered locally.
type EngineProvider struct {
	backend ipc.Backend

	mu    sync.Mutex
	cache map[string][]Item // keyed by tab and options
}

// Compile-time check that EngineProvider implements Provider.
var _ Provider = (*EngineProvider)(nil)

// NewEngineProvider creates a provider backed by backend.
func NewEngineProvider(backend ipc.Backend) *EngineProvider {
	return &EngineProvider{backend: backend, cache: make(map[string][]Item)}
}

// Fetch returns the page of tab items matching the query.
func (p *EngineProvider) Fetch(ctx context.Context, req Request) (Response, error) {
	items, err := p.tabItems(ctx, req)
	if err != nil {
		return Response{}, err
	}
	items = filterItems(items, req.Query)
	page, atEnd := paginate(items, req.Offset, req.Limit)
	return Response{RequestID: req.RequestID, Items: page, AtEnd: atEnd}, nil
}

func (p *EngineProvider) tabItems(ctx context.Context, req Request) ([]Item, error) {
	key := cacheKey(req)
	p.mu.Lock()
	cached, ok := p.cache[key]
	p.mu.Unlock()
	if ok {
		return cached, nil
	}

	items, err := p.load(ctx, req.TabID, req.Options)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.cache[key] = items
	p.mu.Unlock()
	return items, nil
}

func (p *EngineProvider) load(ctx context.Context, tab string, opts map[string]string) ([]Item, error) {
	session, dir, last := opts[OptSession], opts[OptDir], opts[OptLast]

	switch tab {
	case TabPredict:
		var recent []string
		if last != "" {
			recent = []string{last}
		}
		preds, err := p.backend.PredictNextCommands(ctx, session, recent)
		if err != nil {
			return nil, fmt.Errorf("predict: %w", err)
		}
		items := make([]Item, 0, len(preds))
		for _, pr := range preds {
			items = appendItem(items, pr.Command, fmt.Sprintf("score %.2f", pr.Score))
		}
		return items, nil

	case TabNext:
		if last == "" {
			return nil, nil
		}
		sugg, err := p.backend.SuggestNextCommands(ctx, last, dir, 0)
		if err != nil {
			return nil, fmt.Errorf("next commands: %w", err)
		}
		items := make([]Item, 0, len(sugg))
		for _, s := range sugg {
			items = appendItem(items, s.Command, fmt.Sprintf("conf %.2f", s.Confidence))
		}
		return items, nil

	case TabWorkflow:
		if last == "" {
			return nil, nil
		}
		wf, err := p.backend.SuggestWorkflow(ctx, last, dir)
		if err != nil {
			return nil, fmt.Errorf("workflow: %w", err)
		}
		if wf == nil {
			return nil, nil
		}
		items := make([]Item, 0, len(wf.Steps))
		for i, s := range wf.Steps {
			items = appendItem(items, s.Command, fmt.Sprintf("step %d/%d", i+1, len(wf.Steps)))
		}
		return items, nil
	}
	return nil, fmt.Errorf("unknown tab %q", tab)
}

// appendItem sanitizes cmd and adds it with a detail suffix. Commands that
// are empty after sanitizing are dropped.
func appendItem(items []Item, cmd, detail string) []Item {
	cmd = oneLine(ValidateUTF8(StripANSI(cmd)))
	if cmd == "" {
		return items
	}
	display := PrettyEscapeLiterals(cmd)
	if detail != "" {
		display += "  · " + detail
	}
	return append(items, Item{Value: cmd, Display: display})
}

func cacheKey(req Request) string {
	return strings.Join([]string{req.TabID, req.Options[OptSession], req.Options[OptDir], req.Options[OptLast]}, "\n")
}

func filterItems(items []Item, query string) []Item {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return items
	}
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if strings.Contains(strings.ToLower(it.Value), query) {
			out = append(out, it)
		}
	}
	return out
}

func paginate(items []Item, offset, limit int) ([]Item, bool) {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []Item{}, true
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		return items[:limit], false
	}
	return items, true
}
