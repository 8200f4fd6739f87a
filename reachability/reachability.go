// Package reachability watches whether a node endpoint accepts connections
// and notifies listeners when that changes.
package reachability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

const (
	DefaultInterval = 10 * time.Second
	DefaultTimeout  = 3 * time.Second
)

var (
	ErrAlreadyStarted = errors.New("reachability: notifier already started")
	ErrInvalidTarget  = errors.New("reachability: invalid target")
)

// Listener is notified after every change of reachability. Listeners are
// compared by identity, so implementations must be comparable. Callbacks run
// on the probing goroutine and must not remove the last listener.
type Listener interface {
	ReachabilityChanged(m *Manager)
}

// ProbeFunc reports whether target accepts connections.
type ProbeFunc func(ctx context.Context, target string) error

type Option func(*Manager)

func WithLogger(logger hclog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithInterval(interval time.Duration) Option {
	return func(m *Manager) {
		m.interval = interval
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		m.timeout = timeout
	}
}

func WithProbe(probe ProbeFunc) Option {
	return func(m *Manager) {
		m.probe = probe
	}
}

// Manager probes one target periodically while it has listeners or was
// started explicitly.
type Manager struct {
	logger   hclog.Logger
	target   string
	interval time.Duration
	timeout  time.Duration
	probe    ProbeFunc

	lock      sync.Mutex
	listeners []Listener
	reachable bool
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewManager creates a manager for a host:port target.
func NewManager(target string, opts ...Option) (*Manager, error) {
	if _, _, err := net.SplitHostPort(target); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidTarget, target, err)
	}

	m := &Manager{
		logger:   hclog.NewNullLogger(),
		target:   target,
		interval: DefaultInterval,
		timeout:  DefaultTimeout,
		probe:    dialProbe,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.logger = m.logger.Named("reachability")

	return m, nil
}

// NewManagerForEndpoint derives the target from a ws, wss, http or https URL.
func NewManagerForEndpoint(endpoint string, opts ...Option) (*Manager, error) {
	target, err := TargetFromEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	return NewManager(target, opts...)
}

// TargetFromEndpoint returns host:port of endpoint, filling in the default
// port of its scheme.
func TargetFromEndpoint(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrInvalidTarget, endpoint, err)
	}

	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: %s has no host", ErrInvalidTarget, endpoint)
	}

	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "wss", "https":
			port = "443"
		case "ws", "http":
			port = "80"
		default:
			return "", fmt.Errorf("%w: unknown scheme %q", ErrInvalidTarget, u.Scheme)
		}
	}

	return net.JoinHostPort(u.Hostname(), port), nil
}

func dialProbe(ctx context.Context, target string) error {
	var d net.Dialer

	conn, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		return err
	}

	return conn.Close()
}

func (m *Manager) Target() string {
	return m.target
}

// IsReachable returns the result of the last probe. It is false before the
// first probe.
func (m *Manager) IsReachable() bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.reachable
}

// Running reports whether background probing is active.
func (m *Manager) Running() bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.running
}

// Start probes once synchronously, then keeps probing in the background
// until Stop.
func (m *Manager) Start(ctx context.Context) error {
	m.lock.Lock()
	if m.running {
		m.lock.Unlock()
		return ErrAlreadyStarted
	}

	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	stopCh, doneCh := m.stopCh, m.doneCh
	m.lock.Unlock()

	m.check(ctx)

	go m.run(stopCh, doneCh)

	m.logger.Debug("notifier started", "target", m.target, "interval", m.interval)

	return nil
}

// Stop ends background probing. It is a no-op when not running.
func (m *Manager) Stop() {
	m.lock.Lock()
	if !m.running {
		m.lock.Unlock()
		return
	}

	m.running = false
	close(m.stopCh)
	doneCh := m.doneCh
	m.lock.Unlock()

	<-doneCh

	m.logger.Debug("notifier stopped", "target", m.target)
}

// AddListener registers l. The notifier starts with the first listener.
// Adding a listener twice has no effect.
func (m *Manager) AddListener(ctx context.Context, l Listener) error {
	m.lock.Lock()
	for _, existing := range m.listeners {
		if existing == l {
			m.lock.Unlock()
			return nil
		}
	}

	first := len(m.listeners) == 0
	m.listeners = append(m.listeners, l)
	running := m.running
	m.lock.Unlock()

	if first && !running {
		if err := m.Start(ctx); err != nil && !errors.Is(err, ErrAlreadyStarted) {
			return err
		}
	}

	return nil
}

// RemoveListener unregisters l. The notifier stops with the last listener.
func (m *Manager) RemoveListener(l Listener) {
	m.lock.Lock()

	kept := m.listeners[:0]
	for _, existing := range m.listeners {
		if existing != l {
			kept = append(kept, existing)
		}
	}

	m.listeners = kept
	empty := len(kept) == 0
	m.lock.Unlock()

	if empty {
		m.Stop()
	}
}

func (m *Manager) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *Manager) check(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.probe(probeCtx, m.target)
	reachable := err == nil

	m.lock.Lock()
	changed := reachable != m.reachable
	m.reachable = reachable
	listeners := append([]Listener{}, m.listeners...)
	m.lock.Unlock()

	if !changed {
		return
	}

	if reachable {
		m.logger.Info("target reachable", "target", m.target)
	} else {
		m.logger.Warn("target unreachable", "target", m.target, "err", err)
	}

	for _, l := range listeners {
		l.ReachabilityChanged(m)
	}
}
