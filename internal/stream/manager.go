package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cargolane/notify-core/internal/notifcache"
	"github.com/cargolane/notify-core/internal/notifclient"
	"github.com/cargolane/notify-core/internal/notification"
	"github.com/rs/zerolog/log"
)

// ErrMaxReconnectAttempts is the terminal error set once the bounded retry
// budget is spent. No further automatic reconnects happen after it.
var ErrMaxReconnectAttempts = errors.New("max reconnection attempts exceeded")

const (
	defaultMaxReconnectAttempts = 5
	defaultReconnectDelay       = 3 * time.Second
	defaultHandshakeTimeout     = 10 * time.Second
)

// Alerter is the bridge to an OS-level notification display. Alerts are
// fire-and-forget and never feed back into store state.
type Alerter interface {
	Alert(n notification.Notification)
}

// Manager owns the single long-lived push subscription for one client
// instance. All connection state lives on the Manager, with explicit
// Connect/Disconnect tied to subsystem start and logout.
type Manager struct {
	baseURL string
	tokens  notifclient.TokenSource
	store   *notifcache.Store
	alerter Alerter
	client  *http.Client

	enabled              bool
	maxReconnectAttempts int
	reconnectDelay       time.Duration
	handshakeTimeout     time.Duration

	mu                sync.Mutex
	active            bool
	connecting        bool
	generation        uint64
	transport         io.ReadCloser
	cancel            context.CancelFunc
	reconnectTimer    *time.Timer
	reconnectAttempts int
}

type ManagerOption func(*Manager)

// WithAlerter attaches an OS notification bridge for pushed notifications.
func WithAlerter(a Alerter) ManagerOption {
	return func(m *Manager) {
		m.alerter = a
	}
}

// WithDisabled builds a manager whose Connect is a no-op, for deployments
// where the push subsystem is turned off.
func WithDisabled() ManagerOption {
	return func(m *Manager) {
		m.enabled = false
	}
}

// WithReconnectDelay overrides the fixed delay between reconnect attempts.
func WithReconnectDelay(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.reconnectDelay = d
	}
}

// WithMaxReconnectAttempts overrides the retry ceiling.
func WithMaxReconnectAttempts(n int) ManagerOption {
	return func(m *Manager) {
		m.maxReconnectAttempts = n
	}
}

// WithHandshakeTimeout bounds how long the subscribe request may wait for
// response headers. Expiry is treated as a transport error and feeds the
// same bounded-retry path.
func WithHandshakeTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.handshakeTimeout = d
	}
}

func NewManager(baseURL string, tokens notifclient.TokenSource, store *notifcache.Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		baseURL:              baseURL,
		tokens:               tokens,
		store:                store,
		enabled:              true,
		maxReconnectAttempts: defaultMaxReconnectAttempts,
		reconnectDelay:       defaultReconnectDelay,
		handshakeTimeout:     defaultHandshakeTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.client = &http.Client{
		Transport: &http.Transport{
			ResponseHeaderTimeout: m.handshakeTimeout,
		},
	}
	return m
}

// Connect opens the push subscription. It is idempotent: a no-op when the
// subsystem is disabled, when a connection attempt is already in flight, or
// when a live transport already exists. Those three guards together enforce
// the single-connection invariant.
func (m *Manager) Connect() {
	m.mu.Lock()
	if !m.enabled || m.connecting || m.transport != nil {
		m.mu.Unlock()
		return
	}
	m.active = true
	m.mu.Unlock()

	m.dial()
}

// dial registers a new connection attempt under the lock before any network
// work happens, so Disconnect can cancel a handshake that is still in flight
// and a superseded attempt can be told apart from the current one.
func (m *Manager) dial() {
	m.mu.Lock()
	if !m.active || m.connecting || m.transport != nil {
		m.mu.Unlock()
		return
	}
	m.connecting = true
	m.generation++
	gen := m.generation
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()

	token, err := m.tokens.Token()
	if err != nil || token == "" {
		cancel()
		m.mu.Lock()
		if m.generation == gen {
			m.connecting = false
			m.cancel = nil
		}
		m.mu.Unlock()
		log.Warn().Msg("notification stream: no authentication token, not connecting")
		m.store.SetError(notifclient.ErrNoAuthToken)
		return
	}

	go m.open(ctx, token, gen)
}

// Disconnect tears down any live transport, cancels a pending reconnect and
// clears the in-flight flag. Safe to call repeatedly, including from logout
// or teardown paths.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.active = false
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.teardownLocked()
	m.reconnectAttempts = 0
	m.mu.Unlock()

	m.store.SetConnected(false)
}

// open performs the subscribe handshake and, on success, hands the body to
// the read loop. Runs on its own goroutine. The attempt is only allowed to
// install its transport while it is still the current generation.
func (m *Manager) open(ctx context.Context, token string, gen uint64) {
	subscribeURL := fmt.Sprintf("%s/notifications/stream?token=%s", m.baseURL, url.QueryEscape(token))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, subscribeURL, nil)
	if err != nil {
		m.handleTransportError(gen, fmt.Errorf("failed to build subscribe request: %w", err))
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := m.client.Do(req)
	if err != nil {
		m.handleTransportError(gen, fmt.Errorf("stream handshake failed: %w", err))
		return
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		m.handleTransportError(gen, fmt.Errorf("stream handshake returned status %d", resp.StatusCode))
		return
	}

	m.mu.Lock()
	if !m.active || m.generation != gen {
		// Disconnected or superseded while dialing.
		m.mu.Unlock()
		resp.Body.Close()
		return
	}
	m.transport = resp.Body
	m.connecting = false
	m.reconnectAttempts = 0
	m.mu.Unlock()

	m.store.SetConnected(true)
	m.store.ClearError()
	log.Info().Msg("notification stream connected")

	m.readLoop(resp.Body, gen)
}

func (m *Manager) readLoop(body io.ReadCloser, gen uint64) {
	reader := bufio.NewReader(body)
	for {
		ev, err := ReadEvent(reader)
		if err != nil {
			m.handleTransportError(gen, fmt.Errorf("stream read failed: %w", err))
			return
		}
		m.handleEvent(ev)
	}
}

func (m *Manager) handleEvent(ev Event) {
	switch ev.Name {
	case notification.EventConnected:
		log.Debug().Msg("notification stream handshake acknowledged")
	case notification.EventHeartbeat:
		// Keep-alive only.
	case notification.EventDisconnected:
		// Server-initiated graceful close. Flips the flag but does not
		// drive the reconnect path; only transport errors do.
		m.store.SetConnected(false)
		log.Info().Msg("notification stream closed by server")
	case notification.EventNotification:
		var n notification.Notification
		if err := json.Unmarshal(ev.Data, &n); err != nil {
			// Malformed payloads are dropped per message and never affect
			// connection health.
			log.Error().Err(err).Msg("dropping malformed notification event")
			return
		}
		m.store.Add(n)
		if m.alerter != nil {
			go m.alerter.Alert(n)
		}
	default:
		log.Debug().Str("event", ev.Name).Msg("ignoring unknown stream event")
	}
}

// handleTransportError tears down the dead transport first (one dead
// connection must produce at most one error), then either schedules exactly
// one reconnect or goes terminal. A stale attempt whose generation has been
// superseded must never touch the state of its successor.
func (m *Manager) handleTransportError(gen uint64, err error) {
	m.mu.Lock()
	if !m.active || m.generation != gen {
		m.mu.Unlock()
		return
	}
	m.teardownLocked()

	exhausted := m.reconnectAttempts >= m.maxReconnectAttempts
	if !exhausted {
		m.reconnectAttempts++
		m.reconnectTimer = time.AfterFunc(m.reconnectDelay, m.retry)
	}
	attempt := m.reconnectAttempts
	m.mu.Unlock()

	m.store.SetConnected(false)
	if exhausted {
		log.Error().Err(err).Msg("notification stream: max reconnection attempts exceeded")
		m.store.SetError(ErrMaxReconnectAttempts)
		return
	}
	log.Warn().
		Err(err).
		Int("attempt", attempt).
		Int("max_attempts", m.maxReconnectAttempts).
		Msg("notification stream dropped, reconnecting")
}

func (m *Manager) retry() {
	m.mu.Lock()
	m.reconnectTimer = nil
	m.mu.Unlock()

	m.dial()
}

// teardownLocked closes the live transport and clears the in-flight flag.
// Callers hold m.mu.
func (m *Manager) teardownLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.transport != nil {
		m.transport.Close()
		m.transport = nil
	}
	m.connecting = false
}
