package request

import (
	"sync"
)

// instances is the process-wide named-client registry.
var (
	instancesMu sync.Mutex
	instances   = make(map[string]*Client)
)

// Create returns the named client, building it from cfg on first use. A
// second call with the same name returns the existing instance and
// ignores cfg.
func Create(name string, cfg Config) (*Client, error) {
	instancesMu.Lock()
	defer instancesMu.Unlock()

	if existing, ok := instances[name]; ok {
		return existing, nil
	}

	client, err := New(cfg)
	if err != nil {
		return nil, err
	}
	instances[name] = client
	return client, nil
}

// Lookup returns the named client if it exists.
func Lookup(name string) (*Client, bool) {
	instancesMu.Lock()
	defer instancesMu.Unlock()
	client, ok := instances[name]
	return client, ok
}

// Remove closes and forgets the named client.
func Remove(name string) {
	instancesMu.Lock()
	client, ok := instances[name]
	delete(instances, name)
	instancesMu.Unlock()

	if ok {
		client.Close()
	}
}
