// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keepalive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/resonance/correlation"
	"github.com/bureau-foundation/resonance/lib/clock"
)

// ErrTimeout is reported through Options.OnExpired after Retries
// consecutive probes went unanswered.
var ErrTimeout = errors.New("keep-alive timed out")

// MinInterval is the floor applied to Config.Interval.
const MinInterval = 500 * time.Millisecond

const (
	DefaultInterval = 2 * time.Second
	DefaultTimeout  = 2 * time.Second
	DefaultRetries  = 5
)

// Config controls the probe loop. The zero value is disabled.
type Config struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Delay postpones the first probe after the monitor starts.
	Delay time.Duration `yaml:"delay" json:"delay"`

	// Interval separates probes. Values below MinInterval are raised.
	Interval time.Duration `yaml:"interval" json:"interval"`

	// Timeout bounds each probe.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// Retries is the number of consecutive misses that count as a
	// dead peer.
	Retries int `yaml:"retries" json:"retries"`

	// FailTransporterOnTimeout stops the monitor after expiry and
	// tells the owner to fail the connection. When false the miss
	// counter restarts and probing continues.
	FailTransporterOnTimeout bool `yaml:"fail_transporter_on_timeout" json:"fail_transporter_on_timeout"`

	// DisableAutoResponse stops the owner from answering the peer's
	// probes.
	DisableAutoResponse bool `yaml:"disable_auto_response" json:"disable_auto_response"`
}

// WithDefaults returns c with zero fields replaced by defaults and the
// interval floor applied.
func (c Config) WithDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Interval < MinInterval {
		c.Interval = MinInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Retries <= 0 {
		c.Retries = DefaultRetries
	}
	return c
}

// Validate rejects negative values. Zero values are filled by
// WithDefaults.
func (c Config) Validate() error {
	var errs []error
	if c.Delay < 0 {
		errs = append(errs, fmt.Errorf("keepalive delay must not be negative, got %v", c.Delay))
	}
	if c.Interval < 0 {
		errs = append(errs, fmt.Errorf("keepalive interval must not be negative, got %v", c.Interval))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("keepalive timeout must not be negative, got %v", c.Timeout))
	}
	if c.Retries < 0 {
		errs = append(errs, fmt.Errorf("keepalive retries must not be negative, got %d", c.Retries))
	}
	return errors.Join(errs...)
}

// Prober sends one probe and waits for its answer. A probe that was
// not answered within timeout returns an error matching
// correlation.ErrTimeout; any other error is logged and not counted.
type Prober interface {
	Probe(ctx context.Context, timeout time.Duration) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, timeout time.Duration) error

func (f ProberFunc) Probe(ctx context.Context, timeout time.Duration) error {
	return f(ctx, timeout)
}

// Options carries the monitor's collaborators.
type Options struct {
	Logger *slog.Logger
	Clock  clock.Clock

	// LastActivity returns when the owner last received a frame. Nil
	// disables rescue by activity.
	LastActivity func() time.Time

	// OnExpired is called on the monitor goroutine after Retries
	// consecutive misses. The error wraps ErrTimeout.
	OnExpired func(err error)
}

// Monitor runs the probe loop for one connection.
type Monitor struct {
	config       Config
	prober       Prober
	logger       *slog.Logger
	clock        clock.Clock
	lastActivity func() time.Time
	onExpired    func(error)

	misses atomic.Int32

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New returns a monitor. Config defaults are applied here.
func New(config Config, prober Prober, options Options) *Monitor {
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	return &Monitor{
		config:       config.WithDefaults(),
		prober:       prober,
		logger:       options.Logger,
		clock:        clock.OrReal(options.Clock),
		lastActivity: options.LastActivity,
		onExpired:    options.OnExpired,
		done:         make(chan struct{}),
	}
}

// Start launches the probe loop. It returns immediately; the loop ends
// when ctx is cancelled, Stop is called, or the peer is declared dead
// with FailTransporterOnTimeout set. A disabled config starts nothing.
// Start is a no-op after the first call.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	if !m.config.Enabled {
		close(m.done)
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	go m.run(ctx)
}

// Stop cancels the loop without waiting for it to exit, so it may be
// called from OnExpired. Use Done to wait.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
}

// Done is closed when the loop has exited.
func (m *Monitor) Done() <-chan struct{} { return m.done }

// Misses returns the current count of consecutive unanswered probes.
func (m *Monitor) Misses() int { return int(m.misses.Load()) }

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	if m.config.Delay > 0 && !m.wait(ctx, m.config.Delay) {
		return
	}
	for {
		if !m.probe(ctx) {
			return
		}
		if !m.wait(ctx, m.config.Interval) {
			return
		}
	}
}

// probe sends one probe and applies the miss policy. It returns false
// when the loop should end.
func (m *Monitor) probe(ctx context.Context) bool {
	sentAt := m.clock.Now()
	err := m.prober.Probe(ctx, m.config.Timeout)
	switch {
	case err == nil:
		m.misses.Store(0)
		return true
	case ctx.Err() != nil:
		return false
	case !errors.Is(err, correlation.ErrTimeout):
		m.logger.Warn("keep-alive probe failed", "error", err)
		return true
	}

	if m.lastActivity != nil && m.lastActivity().After(sentAt) {
		m.logger.Debug("keep-alive probe timed out but the peer was active")
		return true
	}

	misses := int(m.misses.Add(1))
	m.logger.Debug("keep-alive probe missed", "misses", misses, "retries", m.config.Retries)
	if misses < m.config.Retries {
		return true
	}

	expired := fmt.Errorf("%w: %d consecutive probes unanswered", ErrTimeout, misses)
	m.logger.Warn("keep-alive expired", "misses", misses, "fail_transporter", m.config.FailTransporterOnTimeout)
	if m.onExpired != nil {
		m.onExpired(expired)
	}
	if m.config.FailTransporterOnTimeout {
		return false
	}
	m.misses.Store(0)
	return true
}

func (m *Monitor) wait(ctx context.Context, d time.Duration) bool {
	select {
	case <-m.clock.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
