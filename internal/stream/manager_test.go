package stream

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cargolane/notify-core/internal/notifcache"
	"github.com/cargolane/notify-core/internal/notifclient"
	"github.com/cargolane/notify-core/internal/notification"
)

// sseUpstream is a scriptable fake push endpoint. Each accepted connection
// runs the script function; dials counts handshakes including refused ones.
type sseUpstream struct {
	dials  int32
	script func(w http.ResponseWriter, r *http.Request)
}

func (u *sseUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&u.dials, 1)
	u.script(w, r)
}

func (u *sseUpstream) dialCount() int32 {
	return atomic.LoadInt32(&u.dials)
}

func sseHeaders(w http.ResponseWriter) http.Flusher {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher := w.(http.Flusher)
	flusher.Flush()
	return flusher
}

func writeEvent(w http.ResponseWriter, f http.Flusher, name, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	f.Flush()
}

// holdOpen emits the handshake event and blocks until the client goes away.
func holdOpen(w http.ResponseWriter, r *http.Request) {
	f := sseHeaders(w)
	writeEvent(w, f, notification.EventConnected, "{}")
	<-r.Context().Done()
}

func newTestManager(t *testing.T, upstreamURL string, opts ...ManagerOption) (*Manager, *notifcache.Store) {
	t.Helper()
	store := notifcache.NewStore()
	base := []ManagerOption{
		WithReconnectDelay(10 * time.Millisecond),
		WithHandshakeTimeout(2 * time.Second),
	}
	m := NewManager(upstreamURL, notifclient.StaticToken("tok"), store, append(base, opts...)...)
	t.Cleanup(m.Disconnect)
	return m, store
}

func waitConnected(t *testing.T, store *notifcache.Store) {
	t.Helper()
	require.Eventually(t, store.Connected, 2*time.Second, 10*time.Millisecond, "stream never connected")
}

func TestConnectTwiceYieldsOneTransport(t *testing.T) {
	upstream := &sseUpstream{script: holdOpen}
	ts := httptest.NewServer(upstream)
	t.Cleanup(ts.Close)

	m, store := newTestManager(t, ts.URL)

	m.Connect()
	waitConnected(t, store)

	m.Connect()
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int32(1), upstream.dialCount())
}

func TestConnectWhileAttemptInFlightIsNoOp(t *testing.T) {
	upstream := &sseUpstream{script: func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		holdOpen(w, r)
	}}
	ts := httptest.NewServer(upstream)
	t.Cleanup(ts.Close)

	m, store := newTestManager(t, ts.URL)

	m.Connect()
	m.Connect()
	m.Connect()
	waitConnected(t, store)

	assert.Equal(t, int32(1), upstream.dialCount())
}

func TestDisconnectDuringHandshakeYieldsOneTransport(t *testing.T) {
	var live int32
	upstream := &sseUpstream{script: func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		atomic.AddInt32(&live, 1)
		defer atomic.AddInt32(&live, -1)
		holdOpen(w, r)
	}}
	ts := httptest.NewServer(upstream)
	t.Cleanup(ts.Close)

	m, store := newTestManager(t, ts.URL)

	m.Connect()
	time.Sleep(50 * time.Millisecond) // first handshake still waiting on headers
	m.Disconnect()
	m.Connect()

	waitConnected(t, store)

	// The aborted first handshake unwinds server-side; only the second
	// attempt may hold a transport.
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&live) == 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&live), "stale handshake must not install a second transport")
	assert.Equal(t, int32(2), upstream.dialCount())
	assert.True(t, store.Connected())
}

func TestHandshakeTimeoutCountsAsTransportError(t *testing.T) {
	upstream := &sseUpstream{script: func(w http.ResponseWriter, r *http.Request) {
		// Stall without ever writing response headers.
		<-r.Context().Done()
	}}
	ts := httptest.NewServer(upstream)
	t.Cleanup(ts.Close)

	m, store := newTestManager(t, ts.URL, WithHandshakeTimeout(30*time.Millisecond))

	m.Connect()

	// Each stalled handshake burns one attempt from the retry budget.
	require.Eventually(t, func() bool {
		return upstream.dialCount() == 6
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return store.Err() == ErrMaxReconnectAttempts
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(6), upstream.dialCount())
	assert.False(t, store.Connected())
}

func TestRetriesAreBounded(t *testing.T) {
	upstream := &sseUpstream{script: func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no stream for you", http.StatusInternalServerError)
	}}
	ts := httptest.NewServer(upstream)
	t.Cleanup(ts.Close)

	m, store := newTestManager(t, ts.URL)

	m.Connect()

	// Initial dial plus the full retry budget of 5, then terminal.
	require.Eventually(t, func() bool {
		return upstream.dialCount() == 6
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return store.Err() == ErrMaxReconnectAttempts
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(6), upstream.dialCount(), "no reconnect may be scheduled past the ceiling")
	assert.False(t, store.Connected())
}

func TestSuccessfulOpenResetsRetryBudget(t *testing.T) {
	var failFirst int32 = 1
	upstream := &sseUpstream{}
	upstream.script = func(w http.ResponseWriter, r *http.Request) {
		if atomic.CompareAndSwapInt32(&failFirst, 1, 0) {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		holdOpen(w, r)
	}
	ts := httptest.NewServer(upstream)
	t.Cleanup(ts.Close)

	m, store := newTestManager(t, ts.URL)

	m.Connect()
	waitConnected(t, store)

	assert.Equal(t, int32(2), upstream.dialCount())
	assert.NoError(t, store.Err())
}

func TestMalformedPayloadIsDroppedPerMessage(t *testing.T) {
	upstream := &sseUpstream{script: func(w http.ResponseWriter, r *http.Request) {
		f := sseHeaders(w)
		writeEvent(w, f, notification.EventConnected, "{}")
		writeEvent(w, f, notification.EventNotification, `{"id": not-json`)
		writeEvent(w, f, notification.EventNotification, `{"id":"N1","title":"Trip delayed","is_read":false}`)
		<-r.Context().Done()
	}}
	ts := httptest.NewServer(upstream)
	t.Cleanup(ts.Close)

	m, store := newTestManager(t, ts.URL)

	m.Connect()
	require.Eventually(t, func() bool {
		return len(store.Snapshot().Notifications) == 1
	}, 2*time.Second, 10*time.Millisecond)

	snap := store.Snapshot()
	assert.Equal(t, "N1", snap.Notifications[0].ID)
	assert.Equal(t, int64(1), snap.UnreadCount)
	// Connection health is unaffected by the bad message.
	assert.True(t, snap.Connected)
	assert.Equal(t, int32(1), upstream.dialCount())
}

func TestPushedNotificationReachesAlerter(t *testing.T) {
	upstream := &sseUpstream{script: func(w http.ResponseWriter, r *http.Request) {
		f := sseHeaders(w)
		writeEvent(w, f, notification.EventNotification, `{"id":"N1","title":"Vehicle breakdown","priority":"urgent"}`)
		<-r.Context().Done()
	}}
	ts := httptest.NewServer(upstream)
	t.Cleanup(ts.Close)

	alerted := make(chan notification.Notification, 1)
	m, _ := newTestManager(t, ts.URL, WithAlerter(alerterFunc(func(n notification.Notification) {
		alerted <- n
	})))

	m.Connect()

	select {
	case n := <-alerted:
		assert.Equal(t, "N1", n.ID)
		assert.Equal(t, notification.PriorityUrgent, n.Priority)
	case <-time.After(2 * time.Second):
		t.Fatal("alerter was never invoked")
	}
}

func TestServerDisconnectedEventDoesNotReconnect(t *testing.T) {
	upstream := &sseUpstream{script: func(w http.ResponseWriter, r *http.Request) {
		f := sseHeaders(w)
		writeEvent(w, f, notification.EventConnected, "{}")
		time.Sleep(150 * time.Millisecond)
		writeEvent(w, f, notification.EventDisconnected, "{}")
		<-r.Context().Done()
	}}
	ts := httptest.NewServer(upstream)
	t.Cleanup(ts.Close)

	m, store := newTestManager(t, ts.URL)

	m.Connect()
	waitConnected(t, store)

	require.Eventually(t, func() bool {
		return !store.Connected()
	}, 2*time.Second, 10*time.Millisecond)

	// Graceful close is not a transport error: no reconnect fires.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), upstream.dialCount())
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	upstream := &sseUpstream{script: func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}}
	ts := httptest.NewServer(upstream)
	t.Cleanup(ts.Close)

	m, store := newTestManager(t, ts.URL, WithReconnectDelay(time.Hour))

	m.Connect()
	require.Eventually(t, func() bool {
		return upstream.dialCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	m.Disconnect()
	m.Disconnect() // idempotent, including from teardown paths

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), upstream.dialCount())
	assert.False(t, store.Connected())
}

func TestMissingTokenFailsWithoutDialing(t *testing.T) {
	upstream := &sseUpstream{script: holdOpen}
	ts := httptest.NewServer(upstream)
	t.Cleanup(ts.Close)

	store := notifcache.NewStore()
	m := NewManager(ts.URL, notifclient.StaticToken(""), store)
	t.Cleanup(m.Disconnect)

	m.Connect()
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int32(0), upstream.dialCount())
	assert.ErrorIs(t, store.Err(), notifclient.ErrNoAuthToken)
}

func TestDisabledManagerNeverConnects(t *testing.T) {
	upstream := &sseUpstream{script: holdOpen}
	ts := httptest.NewServer(upstream)
	t.Cleanup(ts.Close)

	m, store := newTestManager(t, ts.URL, WithDisabled())

	m.Connect()
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int32(0), upstream.dialCount())
	assert.False(t, store.Connected())
}

type alerterFunc func(notification.Notification)

func (f alerterFunc) Alert(n notification.Notification) {
	f(n)
}
