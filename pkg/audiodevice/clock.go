package audiodevice

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrAlreadyStarted = errors.New("device already started")
	ErrInvalidQuantum = errors.New("quantum and device properties must be strictly positive")
)

// QuantumClock invokes a function once per quantum of audio time,
// the way an audio driver invokes its callback.
//
// The clock is a ticker: if an invocation overruns, the missed ticks are dropped
// rather than replayed back to back.
type QuantumClock struct {
	period   time.Duration
	quantum  int
	channels [][]float32

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	done      chan struct{}
	stopped   chan struct{}
}

// Create a clock for quantum frames of audio with the given properties.
// The clock owns one planar buffer of properties.NumChannels x quantum samples,
// handed to every tick.
func NewQuantumClock(properties DeviceProperties, quantum int) (*QuantumClock, error) {
	if quantum <= 0 || properties.SampleRate <= 0 || properties.NumChannels <= 0 {
		return nil, ErrInvalidQuantum
	}

	channels := make([][]float32, properties.NumChannels)
	for i := range channels {
		channels[i] = make([]float32, quantum)
	}
	return &QuantumClock{
		period:   time.Duration(quantum) * time.Second / time.Duration(properties.SampleRate),
		quantum:  quantum,
		channels: channels,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}, nil
}

// The real-time budget of one tick: quantum / sampleRate seconds.
func (c *QuantumClock) Period() time.Duration {
	return c.period
}

func (c *QuantumClock) Quantum() int {
	return c.quantum
}

// Start ticking in a new goroutine. tick receives the clock's planar buffer.
func (c *QuantumClock) Start(tick func(channels [][]float32)) error {
	err := ErrAlreadyStarted
	c.startOnce.Do(func() {
		err = nil
		c.started = true
		go c.run(tick)
	})
	return err
}

func (c *QuantumClock) run(tick func(channels [][]float32)) {
	defer close(c.stopped)

	ticker := time.NewTicker(c.period)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			tick(c.channels)
		}
	}
}

// Stop the clock and wait for any tick in progress to return.
func (c *QuantumClock) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
	})
	// Claim the start so that a clock which never ran is not started afterwards
	c.startOnce.Do(func() {})
	if c.started {
		<-c.stopped
	}
}
