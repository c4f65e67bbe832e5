package pipeline

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/Honorable-Knights-of-the-Roundtable/voicering/pkg/ringbuf"
)

// Contexts of the pipeline
const (
	ContextCapture  = "capture"
	ContextEncode   = "encode"
	ContextNetwork  = "network"
	ContextDecode   = "decode"
	ContextPlayback = "playback"
	ContextControl  = "control"
)

// Ring buffers of the pipeline
const (
	BufferCaptureSamples  = "capture.samples"
	BufferCaptureFramed   = "capture.framed"
	BufferPlaybackFramed  = "playback.framed"
	BufferPlaybackSamples = "playback.samples"
	BufferCaptureParams   = "capture.params"
	BufferPlaybackParams  = "playback.params"
)

var (
	ErrUnknownBuffer   = errors.New("unknown buffer")
	ErrNotDesignated   = errors.New("context is not designated for this end of the buffer")
	ErrAlreadyClaimed  = errors.New("buffer end already claimed")
	errInvalidTopology = errors.New("invalid topology")
)

type Role int

const (
	RoleProducer Role = iota
	RoleConsumer
)

func (r Role) String() string {
	if r == RoleProducer {
		return "producer"
	}
	return "consumer"
}

// One ring buffer and the contexts at either end of it
type BufferSpec struct {
	Name     string
	Kind     ringbuf.Kind
	Capacity int
	Producer string
	Consumer string
}

// The buffers of a pipeline with the given configuration
func Buffers(config Config) []BufferSpec {
	return []BufferSpec{
		{BufferCaptureSamples, ringbuf.KindFloat32, config.SampleCapacity(), ContextCapture, ContextEncode},
		{BufferCaptureFramed, ringbuf.KindUint8, config.FramedCapacity, ContextEncode, ContextNetwork},
		{BufferPlaybackFramed, ringbuf.KindUint8, config.FramedCapacity, ContextNetwork, ContextDecode},
		{BufferPlaybackSamples, ringbuf.KindFloat32, config.SampleCapacity(), ContextDecode, ContextPlayback},
		{BufferCaptureParams, ringbuf.KindUint8, config.ParameterCapacity, ContextControl, ContextCapture},
		{BufferPlaybackParams, ringbuf.KindUint8, config.ParameterCapacity, ContextControl, ContextPlayback},
	}
}

type buffer struct {
	spec    BufferSpec
	storage ringbuf.Storage
	claimed [2]bool
}

// Topology owns the storage of every ring buffer in a pipeline, and hands each end of each
// buffer to exactly one context.
type Topology struct {
	mu      sync.Mutex
	order   []string
	buffers map[string]*buffer
}

func NewTopology(config Config) (*Topology, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return newTopology(Buffers(config))
}

func newTopology(specs []BufferSpec) (*Topology, error) {
	t := &Topology{buffers: make(map[string]*buffer)}

	for _, spec := range specs {
		if _, exists := t.buffers[spec.Name]; exists {
			return nil, fmt.Errorf("%w: duplicate buffer %s", errInvalidTopology, spec.Name)
		}
		if spec.Producer == "" || spec.Consumer == "" || spec.Producer == spec.Consumer {
			return nil, fmt.Errorf("%w: buffer %s needs distinct producer and consumer, has %q and %q",
				errInvalidTopology, spec.Name, spec.Producer, spec.Consumer)
		}

		storage, err := ringbuf.NewStorage(spec.Kind, spec.Capacity)
		if err != nil {
			return nil, fmt.Errorf("allocating %s: %w", spec.Name, err)
		}
		t.buffers[spec.Name] = &buffer{spec: spec, storage: storage}
		t.order = append(t.order, spec.Name)
	}
	return t, nil
}

// Claim one end of a buffer for context.
//
// Only the designated producer may claim the producing end, and only the designated
// consumer the consuming end; each end can be claimed once.
func (t *Topology) Claim(name string, context string, role Role) (ringbuf.Storage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.buffers[name]
	if !ok {
		return ringbuf.Storage{}, fmt.Errorf("%w: %s", ErrUnknownBuffer, name)
	}

	designated := b.spec.Producer
	if role == RoleConsumer {
		designated = b.spec.Consumer
	}
	if context != designated {
		return ringbuf.Storage{}, fmt.Errorf("%w: %s cannot be %s of %s (designated %s)",
			ErrNotDesignated, context, role, name, designated)
	}
	if b.claimed[role] {
		return ringbuf.Storage{}, fmt.Errorf("%w: %s of %s", ErrAlreadyClaimed, role, name)
	}

	b.claimed[role] = true
	return b.storage, nil
}

// Claim every buffer end designated to context, keyed by buffer name.
func (t *Topology) ClaimAll(context string) (map[string]ringbuf.Storage, error) {
	claims := make(map[string]ringbuf.Storage)
	for _, spec := range t.Specs() {
		for _, role := range []Role{RoleProducer, RoleConsumer} {
			designated := spec.Producer
			if role == RoleConsumer {
				designated = spec.Consumer
			}
			if designated != context {
				continue
			}
			storage, err := t.Claim(spec.Name, context, role)
			if err != nil {
				return nil, err
			}
			claims[spec.Name] = storage
		}
	}
	return claims, nil
}

// Specs of every buffer, in creation order
func (t *Topology) Specs() []BufferSpec {
	t.mu.Lock()
	defer t.mu.Unlock()

	specs := make([]BufferSpec, 0, len(t.order))
	for _, name := range t.order {
		specs = append(specs, t.buffers[name].spec)
	}
	return specs
}

// Names of buffers with an end nobody has claimed
func (t *Topology) Unclaimed() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var unclaimed []string
	for _, name := range t.order {
		b := t.buffers[name]
		if !b.claimed[RoleProducer] || !b.claimed[RoleConsumer] {
			unclaimed = append(unclaimed, name)
		}
	}
	return slices.Clip(unclaimed)
}
