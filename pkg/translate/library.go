package translate

import (
	"fmt"
	"sort"
	"sync"

	"github.com/weft-protocol/weft-go/pkg/wire"
)

// Key addresses one translator: a message type under a protocol version.
type Key struct {
	Version uint8
	Type    wire.MessageType
}

// String returns the key as "vN/TYPE".
func (k Key) String() string {
	return fmt.Sprintf("v%d/%s", k.Version, k.Type)
}

// Translator decodes one kind of raw payload into an application object.
type Translator interface {
	// Translate decodes the payload. The returned object's type is a
	// contract between the registrant and the consumer.
	Translate(payload []byte) (any, error)
}

// TranslatorFunc adapts a function to the Translator interface.
type TranslatorFunc func(payload []byte) (any, error)

// Translate calls the function.
func (f TranslatorFunc) Translate(payload []byte) (any, error) {
	return f(payload)
}

// Library is a concurrent registry of translators.
type Library struct {
	mu      sync.RWMutex
	entries map[Key]Translator
}

// NewLibrary creates an empty library.
func NewLibrary() *Library {
	return &Library{entries: make(map[Key]Translator)}
}

// Register adds a translator for the key, replacing any previous one.
// A nil translator removes the entry.
func (l *Library) Register(key Key, tr Translator) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if tr == nil {
		delete(l.entries, key)
		return
	}
	l.entries[key] = tr
}

// MustRegister adds a translator and panics if the key is already taken.
// Meant for registration at program start.
func (l *Library) MustRegister(key Key, tr Translator) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.entries[key]; exists {
		panic(fmt.Sprintf("translate: duplicate registration for %s", key))
	}
	l.entries[key] = tr
}

// Lookup returns the translator for the key.
func (l *Library) Lookup(key Key) (Translator, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	tr, ok := l.entries[key]
	return tr, ok
}

// Translate looks up and runs the translator for the key.
func (l *Library) Translate(key Key, payload []byte) (any, error) {
	tr, ok := l.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("no translator registered for %s", key)
	}
	return tr.Translate(payload)
}

// Keys returns every registered key, ordered by version then type.
func (l *Library) Keys() []Key {
	l.mu.RLock()
	defer l.mu.RUnlock()

	keys := make([]Key, 0, len(l.entries))
	for k := range l.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Version != keys[j].Version {
			return keys[i].Version < keys[j].Version
		}
		return keys[i].Type < keys[j].Type
	})
	return keys
}
