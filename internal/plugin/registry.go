package plugin

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jfigueroa88/muselink/internal/eventbus"
	"github.com/jfigueroa88/muselink/internal/logger"
)

// Lifecycle event names emitted on the bus. The payload is the plugin id.
const (
	EventRegistered   = "plugin:registered"
	EventReplaced     = "plugin:replaced"
	EventUnregistered = "plugin:unregistered"
)

var (
	// ErrNoCapabilities rejects plugins whose instance satisfies no
	// capability interface.
	ErrNoCapabilities = errors.New("plugin implements no capabilities")
	// ErrEmptyID rejects plugins without an id.
	ErrEmptyID = errors.New("plugin id is empty")
)

// Registry is the single source of truth for which providers exist, their
// capabilities, and their live configuration. The plugin map is owned
// exclusively by the registry.
type Registry struct {
	bus eventbus.Publisher
	log *logger.Logger

	mu      sync.RWMutex
	plugins map[string]Plugin
	order   []string
}

func NewRegistry(bus eventbus.Publisher, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Default()
	}
	return &Registry{
		bus:     bus,
		log:     log.WithComponent("registry"),
		plugins: make(map[string]Plugin),
	}
}

// Register validates and stores a plugin instance. Re-registering an
// existing id replaces the prior instance; that is a logged replacement,
// not a failure.
func (r *Registry) Register(p Plugin) error {
	id := p.ID()
	if id == "" {
		return ErrEmptyID
	}
	caps := CapabilitiesOf(p)
	if len(caps) == 0 {
		return fmt.Errorf("%w: %s", ErrNoCapabilities, id)
	}

	r.mu.Lock()
	_, replaced := r.plugins[id]
	r.plugins[id] = p
	if !replaced {
		r.order = append(r.order, id)
	}
	r.mu.Unlock()

	if replaced {
		r.log.WithPlugin(id).Info("Plugin replaced", "capabilities", caps)
		r.bus.Emit(EventReplaced, id)
	} else {
		r.log.WithPlugin(id).Info("Plugin registered", "capabilities", caps)
		r.bus.Emit(EventRegistered, id)
	}
	return nil
}

// Unregister removes a plugin. Removing an unknown id is a no-op.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	_, ok := r.plugins[id]
	if ok {
		delete(r.plugins, id)
		for i, existing := range r.order {
			if existing == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if ok {
		r.log.WithPlugin(id).Info("Plugin unregistered")
		r.bus.Emit(EventUnregistered, id)
	}
	return ok
}

// Get looks up a plugin by id. An unknown id is a normal outcome, not an
// error.
func (r *Registry) Get(id string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[id]
	return p, ok
}

// ByCapability returns every registered plugin implementing the
// capability, in registration order. Used to fan a lookup out across all
// capable providers until one succeeds.
func (r *Registry) ByCapability(c Capability) []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Plugin
	for _, id := range r.order {
		p := r.plugins[id]
		if HasCapability(p, c) {
			out = append(out, p)
		}
	}
	return out
}

// Streamer returns the streaming interface of the plugin owning the
// source, if the plugin exists and can stream.
func (r *Registry) Streamer(source string) (Streamer, bool) {
	p, ok := r.Get(source)
	if !ok {
		return nil, false
	}
	s, ok := p.(Streamer)
	return s, ok
}

// ConfigSchema returns the declarative schema for a plugin id.
func (r *Registry) ConfigSchema(id string) ([]ConfigField, bool) {
	p, ok := r.Get(id)
	if !ok {
		return nil, false
	}
	return p.ConfigSchema(), true
}

// ApplyConfig validates values against the plugin's schema and hands them
// to the instance if it is configurable.
func (r *Registry) ApplyConfig(id string, values map[string]any) error {
	p, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("unknown plugin %q", id)
	}
	if err := ValidateValues(p.ConfigSchema(), values); err != nil {
		return err
	}
	cfg, ok := p.(Configurable)
	if !ok {
		return fmt.Errorf("plugin %q does not accept configuration", id)
	}
	return cfg.ApplyConfig(values)
}

// Descriptors lists the registration records in registration order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, Describe(r.plugins[id]))
	}
	return out
}
