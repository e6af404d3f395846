package protocols

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"market-streamer/src/interfaces"
)

// ErrUnknownProtocol is returned when no codec is registered under a name
var ErrUnknownProtocol = errors.New("unknown protocol")

// The global registry map. Key is the protocol name (e.g., "json"), value is the constructor function.
var (
	registry = make(map[string]interfaces.IProtocolConstructor)
	mu       sync.RWMutex
)

// Register is called by each protocol's init() function to add itself to the map.
func Register(name string, constructor interfaces.IProtocolConstructor) error {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[name]; exists {
		return fmt.Errorf("protocol constructor already registered for name: %s", name)
	}
	registry[name] = constructor
	return nil
}

// New builds the codec registered under name.
func New(name string, options interfaces.ProtocolOptions) (interfaces.IProtocol, error) {
	mu.RLock()
	constructor, exists := registry[name]
	mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: %s (registered: %s)", ErrUnknownProtocol, name, strings.Join(Names(), ", "))
	}
	return constructor(options)
}

// Names lists the registered protocols in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
