package translate

import (
	"sync"
)

// Converter decodes one vendor's extension payloads.
type Converter interface {
	// Convert decodes a vendor extension payload.
	Convert(data []byte) (any, error)
}

// ConverterFunc adapts a function to the Converter interface.
type ConverterFunc func(data []byte) (any, error)

// Convert calls the function.
func (f ConverterFunc) Convert(data []byte) (any, error) {
	return f(data)
}

// ExtensionProvider resolves vendor extension converters. The lifecycle
// manager carries one provider and hands it to every session.
type ExtensionProvider interface {
	// Converter returns the converter for a vendor ID.
	Converter(vendorID uint32) (Converter, bool)
}

// StaticExtensionProvider is a map-backed ExtensionProvider.
type StaticExtensionProvider struct {
	mu         sync.RWMutex
	converters map[uint32]Converter
}

// NewStaticExtensionProvider creates an empty provider.
func NewStaticExtensionProvider() *StaticExtensionProvider {
	return &StaticExtensionProvider{converters: make(map[uint32]Converter)}
}

// Register adds a converter for the vendor ID, replacing any previous one.
// A nil converter removes the entry.
func (p *StaticExtensionProvider) Register(vendorID uint32, c Converter) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c == nil {
		delete(p.converters, vendorID)
		return
	}
	p.converters[vendorID] = c
}

// Converter returns the converter for a vendor ID.
func (p *StaticExtensionProvider) Converter(vendorID uint32) (Converter, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	c, ok := p.converters[vendorID]
	return c, ok
}

// Compile-time interface satisfaction check.
var _ ExtensionProvider = (*StaticExtensionProvider)(nil)
