package channel

import (
	"fmt"
	"log/slog"
)

// Registry loads channel configuration and owns one Channel per configured
// name.
type Registry struct {
	channels map[string]*Channel
}

// NewRegistry constructs a channel for every cfg and starts its watcher.
// If any channel fails to initialize, the registry closes the channels it
// already started and returns the error (a bind-time failure is fatal).
func NewRegistry(configs []Config, logger *slog.Logger) (*Registry, error) {
	r := &Registry{channels: make(map[string]*Channel, len(configs))}
	for _, cfg := range configs {
		ch, err := New(cfg, logger)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("init channel %s: %w", cfg.Name, err)
		}
		r.channels[cfg.Name] = ch
	}
	return r, nil
}

// Get returns the named channel, or false if unknown.
func (r *Registry) Get(name string) (*Channel, bool) {
	ch, ok := r.channels[name]
	return ch, ok
}

// Names returns every configured channel name.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.channels))
	for n := range r.channels {
		out = append(out, n)
	}
	return out
}

// Close stops every channel's watcher.
func (r *Registry) Close() {
	for _, ch := range r.channels {
		_ = ch.Close()
	}
}
