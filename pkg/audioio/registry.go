package audioio

import (
	"fmt"
	"sync"
)

// Direction distinguishes input and output devices in a Registry.
type Direction string

const (
	Input  Direction = "input"
	Output Direction = "output"
)

// Registry tracks exclusive device ownership. A device may be held by at
// most one owner at a time; a second Claim fails with ErrDeviceBusy until
// the first owner releases it.
type Registry struct {
	mu   sync.Mutex
	held map[string]string
}

// DefaultRegistry is the process-wide registry. Physical devices are a
// process-wide resource, so captures and playbacks share it unless given
// their own.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{held: make(map[string]string)}
}

// DeviceKey identifies a device by backend, direction and name.
func DeviceKey(dir Direction, cfg Config) string {
	return fmt.Sprintf("%s/%s/%s", cfg.Backend, dir, cfg.DeviceName())
}

// Claim marks key as held by owner. The returned release func is idempotent.
func (r *Registry) Claim(key, owner string) (release func(), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.held[key]; ok {
		return nil, fmt.Errorf("%w: %s held by %s", ErrDeviceBusy, key, cur)
	}
	r.held[key] = owner

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.held[key] == owner {
				delete(r.held, key)
			}
		})
	}, nil
}

// Holder returns the owner of key, if any.
func (r *Registry) Holder(key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.held[key]
	return owner, ok
}
