package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/gateway"
	"github.com/MrWong99/voxbridge/pkg/provider/stt"
	"github.com/MrWong99/voxbridge/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned when a config names a provider no
// factory was registered for.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factories build one provider from its config entry. Devices also get the
// pipeline frame format so they can size their own buffers.
type (
	DeviceFactory  func(entry ProviderEntry, format audio.Format) (audio.Device, error)
	STTFactory     func(entry ProviderEntry) (stt.Provider, error)
	TTSFactory     func(entry ProviderEntry) (tts.Provider, error)
	GatewayFactory func(entry ProviderEntry) (gateway.Backend, error)
)

// slot holds the factories of one provider kind.
type slot[F any] struct {
	kind   string
	byName map[string]F
}

func newSlot[F any](kind string) slot[F] {
	return slot[F]{kind: kind, byName: make(map[string]F)}
}

// Registry resolves provider names in the config to factories. Binaries
// register the providers they link in; a later registration under the same
// name replaces the earlier one. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	devices  slot[DeviceFactory]
	stt      slot[STTFactory]
	tts      slot[TTSFactory]
	gateways slot[GatewayFactory]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		devices:  newSlot[DeviceFactory]("device"),
		stt:      newSlot[STTFactory]("stt"),
		tts:      newSlot[TTSFactory]("tts"),
		gateways: newSlot[GatewayFactory]("gateway"),
	}
}

func register[F any](r *Registry, s *slot[F], name string, f F) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.byName[name] = f
}

func lookup[F any](r *Registry, s *slot[F], name string) (F, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := s.byName[name]
	if !ok {
		return f, fmt.Errorf("%w: %s %q (known: %v)", ErrProviderNotRegistered, s.kind, name, slices.Sorted(maps.Keys(s.byName)))
	}
	return f, nil
}

// build wraps a factory failure with the provider it came from.
func build[P any](kind, name string, p P, err error) (P, error) {
	if err != nil {
		var zero P
		return zero, fmt.Errorf("config: %s %q: %w", kind, name, err)
	}
	return p, nil
}

// RegisterDevice registers an audio device factory.
func (r *Registry) RegisterDevice(name string, f DeviceFactory) { register(r, &r.devices, name, f) }

// RegisterSTT registers a speech-to-text factory.
func (r *Registry) RegisterSTT(name string, f STTFactory) { register(r, &r.stt, name, f) }

// RegisterTTS registers a text-to-speech factory.
func (r *Registry) RegisterTTS(name string, f TTSFactory) { register(r, &r.tts, name, f) }

// RegisterGateway registers a conversation gateway factory.
func (r *Registry) RegisterGateway(name string, f GatewayFactory) { register(r, &r.gateways, name, f) }

// CreateDevice builds the device named by entry for the given frame format.
func (r *Registry) CreateDevice(entry ProviderEntry, format audio.Format) (audio.Device, error) {
	f, err := lookup(r, &r.devices, entry.Name)
	if err != nil {
		return nil, err
	}
	d, err := f(entry, format)
	return build("device", entry.Name, d, err)
}

// CreateSTT builds the speech-to-text provider named by entry.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	f, err := lookup(r, &r.stt, entry.Name)
	if err != nil {
		return nil, err
	}
	p, err := f(entry)
	return build("stt", entry.Name, p, err)
}

// CreateTTS builds the text-to-speech provider named by entry.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	f, err := lookup(r, &r.tts, entry.Name)
	if err != nil {
		return nil, err
	}
	p, err := f(entry)
	return build("tts", entry.Name, p, err)
}

// CreateGateway builds the gateway backend named by entry.
func (r *Registry) CreateGateway(entry ProviderEntry) (gateway.Backend, error) {
	f, err := lookup(r, &r.gateways, entry.Name)
	if err != nil {
		return nil, err
	}
	b, err := f(entry)
	return build("gateway", entry.Name, b, err)
}

// Names lists the registered provider names per kind, sorted.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string][]string{
		r.devices.kind:  slices.Sorted(maps.Keys(r.devices.byName)),
		r.stt.kind:      slices.Sorted(maps.Keys(r.stt.byName)),
		r.tts.kind:      slices.Sorted(maps.Keys(r.tts.byName)),
		r.gateways.kind: slices.Sorted(maps.Keys(r.gateways.byName)),
	}
}
