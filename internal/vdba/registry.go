package vdba

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps driver names to drivers and creates connections for configs.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Registry struct {
	mu       sync.RWMutex
	drivers  map[string]Driver
	logger   Logger
	observer Observer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]Driver)}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry drivers add themselves to from
// their init functions.
func Default() *Registry {
	return defaultRegistry
}

// Register adds a driver to the default registry. It panics if the driver is
// nil or its name is already taken, mirroring database/sql.Register.
func Register(d Driver) {
	if err := defaultRegistry.Register(d); err != nil {
		panic(err)
	}
}

// Register adds a driver under d.Name().
func (r *Registry) Register(d Driver) error {
	if d == nil {
		return fmt.Errorf("%w: driver is nil", ErrUsage)
	}
	name := d.Name()
	if name == "" {
		return fmt.Errorf("%w: driver name is empty", ErrUsage)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.drivers[name]; dup {
		return fmt.Errorf("%w: driver %q registered twice", ErrUsage, name)
	}
	r.drivers[name] = d
	return nil
}

// Driver looks up a driver by name.
func (r *Registry) Driver(name string) (Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, name)
	}
	return d, nil
}

// Drivers returns the registered driver names in sorted order.
func (r *Registry) Drivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetLogger sets the logger given to connections created afterwards.
func (r *Registry) SetLogger(l Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = l
}

// SetObserver sets the observer given to connections created afterwards.
func (r *Registry) SetObserver(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = o
}

// NewConnection creates an unopened connection for cfg using the driver
// named by cfg.Driver(). The connection owns a clone of cfg.
func (r *Registry) NewConnection(cfg ConnectionConfig) (*Connection, error) {
	d, err := r.Driver(cfg.Driver())
	if err != nil {
		return nil, err
	}
	conn, err := NewConnection(d, cfg)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	logger, observer := r.logger, r.observer
	r.mu.RUnlock()
	if logger != nil {
		conn.SetLogger(logger)
	}
	if observer != nil {
		conn.SetObserver(observer)
	}
	return conn, nil
}
