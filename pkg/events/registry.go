package events

import (
	"encoding/json"
	"fmt"
	"sync"
)

// EventCodec decodes a JSON payload into a concrete Event instance.
type EventCodec func([]byte) (Event, error)

var (
	registryOnce sync.Once
	reg          *eventRegistry
)

type eventRegistry struct {
	mu       sync.RWMutex
	decoders map[string]EventCodec
}

func ensureRegistry() {
	registryOnce.Do(func() {
		reg = &eventRegistry{
			decoders: make(map[string]EventCodec),
		}
	})
}

// RegisterEventCodec registers a decoder for a custom event tag. It returns
// an error if a decoder is already registered for the tag.
func RegisterEventCodec(tag string, dec EventCodec) error {
	ensureRegistry()
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, exists := reg.decoders[tag]; exists {
		return fmt.Errorf("decoder already registered for tag %q", tag)
	}
	reg.decoders[tag] = dec
	return nil
}

// RegisterEventFactory registers a codec based on standard json.Unmarshal.
// The factory must return a concrete struct implementing Event.
func RegisterEventFactory(tag string, factory func() Event) error {
	return RegisterEventCodec(tag, func(b []byte) (Event, error) {
		ev := factory()
		if err := json.Unmarshal(b, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	})
}

func lookupDecoder(tag string) EventCodec {
	ensureRegistry()
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.decoders[tag]
}
