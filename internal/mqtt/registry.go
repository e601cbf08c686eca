package mqtt

import (
	"fmt"
	"sort"
	"sync"

	"github.com/AaronLay10/VisorEngine/internal/config"
)

// Controller is an input bridge (gamepad, keyboard, mouse) that executes
// signals published to its command topic.
type Controller struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	Firmware     string   `json:"firmware,omitempty"`
	CommandTopic string   `json:"command_topic"`
	Signals      []string `json:"signals"`
}

func (c *Controller) clone() *Controller {
	cpy := *c
	cpy.Signals = append([]string{}, c.Signals...)
	return &cpy
}

// ControllerRegistry maps controller IDs to their command topic and the
// signals they accept. Reads return copies.
type ControllerRegistry struct {
	mu          sync.RWMutex
	controllers map[string]*Controller
}

// NewControllerRegistry creates an empty registry.
func NewControllerRegistry() *ControllerRegistry {
	return &ControllerRegistry{
		controllers: make(map[string]*Controller),
	}
}

// RegistryFromConfig preloads the controllers declared in visor.yaml.
func RegistryFromConfig(ctrls map[string]config.ControllerConfig) *ControllerRegistry {
	r := NewControllerRegistry()
	for id, c := range ctrls {
		r.Register(&Controller{
			ID:           id,
			Type:         c.Type,
			CommandTopic: c.CommandTopic,
			Signals:      append([]string{}, c.Signals...),
		})
	}
	return r
}

// Register adds or replaces a controller.
func (r *ControllerRegistry) Register(c *Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.controllers[c.ID] = c.clone()
}

// Unregister removes a controller.
func (r *ControllerRegistry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.controllers, id)
}

// Get returns a copy of the controller, or nil.
func (r *ControllerRegistry) Get(id string) *Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.controllers[id]; ok {
		return c.clone()
	}
	return nil
}

// Exists reports whether id is registered.
func (r *ControllerRegistry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.controllers[id]
	return ok
}

// CommandTopic returns the command topic for id, or "".
func (r *ControllerRegistry) CommandTopic(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.controllers[id]; ok {
		return c.CommandTopic
	}
	return ""
}

// ValidateCommand checks that id is registered, has a command topic and
// accepts signal.
func (r *ControllerRegistry) ValidateCommand(id, signal string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.controllers[id]
	if !ok {
		return fmt.Errorf("controller not registered: %s", id)
	}
	if c.CommandTopic == "" {
		return fmt.Errorf("controller %s has no command topic", id)
	}
	for _, s := range c.Signals {
		if s == signal {
			return nil
		}
	}
	return fmt.Errorf("controller %s does not support signal: %s", id, signal)
}

// All returns copies of every controller sorted by ID.
func (r *ControllerRegistry) All() []*Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Controller, 0, len(r.controllers))
	for _, c := range r.controllers {
		out = append(out, c.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len is the number of registered controllers.
func (r *ControllerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.controllers)
}
