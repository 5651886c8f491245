package logging

import (
	"context"
	"log/slog"
	"sync"
)

// ComponentFilterHandler filters log records by the "component" attribute.
// Each component can have its own minimum level; records from components
// without an override use the default level. Level changes take effect
// immediately, which lets an operator turn on debug logging for a single
// subsystem (e.g. the scheduler) on a live process.
type ComponentFilterHandler struct {
	base slog.Handler

	mu       *sync.RWMutex
	levels   map[string]slog.Level
	defLevel slog.Level

	// preAttrs are attributes attached via WithAttrs, checked for "component"
	// before scanning record attributes.
	preAttrs []slog.Attr
}

// NewComponentFilterHandler wraps base with per-component level filtering.
// The base handler must be configured to pass all levels; filtering happens here.
func NewComponentFilterHandler(base slog.Handler, defaultLevel slog.Level) *ComponentFilterHandler {
	return &ComponentFilterHandler{
		base:     base,
		mu:       &sync.RWMutex{},
		levels:   make(map[string]slog.Level),
		defLevel: defaultLevel,
	}
}

// SetLevel sets the minimum level for a component.
func (h *ComponentFilterHandler) SetLevel(component string, level slog.Level) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.levels[component] = level
}

// ClearLevel removes a component override, restoring the default level.
func (h *ComponentFilterHandler) ClearLevel(component string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.levels, component)
}

// Level returns the effective minimum level for a component.
func (h *ComponentFilterHandler) Level(component string) slog.Level {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if l, ok := h.levels[component]; ok {
		return l
	}
	return h.defLevel
}

// DefaultLevel returns the level used for components without an override.
func (h *ComponentFilterHandler) DefaultLevel() slog.Level {
	return h.defLevel
}

// Enabled reports whether any component could accept a record at this level.
// The per-component decision happens in Handle once the record is available.
func (h *ComponentFilterHandler) Enabled(_ context.Context, level slog.Level) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	min := h.defLevel
	for _, l := range h.levels {
		if l < min {
			min = l
		}
	}
	return level >= min
}

// Handle applies the component-level filter and forwards to the base handler.
func (h *ComponentFilterHandler) Handle(ctx context.Context, r slog.Record) error {
	component := ""
	for _, a := range h.preAttrs {
		if a.Key == "component" {
			component = a.Value.String()
		}
	}
	if component == "" {
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "component" {
				component = a.Value.String()
				return false
			}
			return true
		})
	}

	if r.Level < h.Level(component) {
		return nil
	}
	if h.base == nil {
		return nil
	}
	return h.base.Handle(ctx, r)
}

// WithAttrs returns a clone sharing the same level table. Attributes are
// recorded locally (for component lookup) and forwarded to the base handler.
func (h *ComponentFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	pre := make([]slog.Attr, len(h.preAttrs)+len(attrs))
	copy(pre, h.preAttrs)
	copy(pre[len(h.preAttrs):], attrs)

	base := h.base
	if base != nil {
		base = base.WithAttrs(attrs)
	}
	return &ComponentFilterHandler{
		base:     base,
		mu:       h.mu,
		levels:   h.levels,
		defLevel: h.defLevel,
		preAttrs: pre,
	}
}

// WithGroup returns a clone that still filters by component.
func (h *ComponentFilterHandler) WithGroup(name string) slog.Handler {
	base := h.base
	if base != nil {
		base = base.WithGroup(name)
	}
	return &ComponentFilterHandler{
		base:     base,
		mu:       h.mu,
		levels:   h.levels,
		defLevel: h.defLevel,
		preAttrs: h.preAttrs,
	}
}
