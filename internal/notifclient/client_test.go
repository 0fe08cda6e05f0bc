package notifclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cargolane/notify-core/internal/notification"
)

func TestListSendsBearerAndFilters(t *testing.T) {
	var gotAuth string
	var gotQuery map[string]string

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = map[string]string{
			"is_read":  r.URL.Query().Get("is_read"),
			"type":     r.URL.Query().Get("type"),
			"priority": r.URL.Query().Get("priority"),
			"limit":    r.URL.Query().Get("limit"),
			"offset":   r.URL.Query().Get("offset"),
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(notification.ListResponse{
			Notifications: []notification.Notification{{ID: "N1"}},
			Total:         11,
			UnreadCount:   4,
		})
	}))
	defer upstream.Close()

	client := NewClient(upstream.URL, StaticToken("tok-123"))
	defer client.Close()

	isRead := false
	result, err := client.List(context.Background(), notification.ListParams{
		IsRead:   &isRead,
		Type:     "trip_delayed",
		Priority: notification.PriorityHigh,
		Limit:    20,
		Offset:   40,
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Equal(t, "false", gotQuery["is_read"])
	assert.Equal(t, "trip_delayed", gotQuery["type"])
	assert.Equal(t, "high", gotQuery["priority"])
	assert.Equal(t, "20", gotQuery["limit"])
	assert.Equal(t, "40", gotQuery["offset"])

	require.Len(t, result.Notifications, 1)
	assert.Equal(t, int64(11), result.Total)
	assert.Equal(t, int64(4), result.UnreadCount)
}

func TestMissingTokenFailsBeforeNetwork(t *testing.T) {
	var hits int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer upstream.Close()

	client := NewClient(upstream.URL, StaticToken(""))
	defer client.Close()

	_, err := client.List(context.Background(), notification.ListParams{})
	assert.ErrorIs(t, err, ErrNoAuthToken)

	err = client.MarkAllRead(context.Background())
	assert.ErrorIs(t, err, ErrNoAuthToken)

	err = client.Delete(context.Background(), "N1")
	assert.ErrorIs(t, err, ErrNoAuthToken)

	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestMarkReadReturnsServerConfirmedEntity(t *testing.T) {
	readAt := time.Now().UTC().Truncate(time.Second)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/notifications/N1/read", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(notification.Notification{
			ID:     "N1",
			IsRead: true,
			ReadAt: &readAt,
		})
	}))
	defer upstream.Close()

	client := NewClient(upstream.URL, StaticToken("tok"))
	defer client.Close()

	confirmed, err := client.MarkRead(context.Background(), "N1")
	require.NoError(t, err)
	assert.True(t, confirmed.IsRead)
	require.NotNil(t, confirmed.ReadAt)
	assert.True(t, readAt.Equal(*confirmed.ReadAt))
}

func TestDeleteTreats404AsSuccess(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	}))
	defer upstream.Close()

	client := NewClient(upstream.URL, StaticToken("tok"))
	defer client.Close()

	assert.NoError(t, client.Delete(context.Background(), "already-gone"))
}

func TestDeleteSurfacesOtherFailures(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	defer upstream.Close()

	client := NewClient(upstream.URL, StaticToken("tok"))
	defer client.Close()

	err := client.Delete(context.Background(), "N1")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}

func TestStatsDecodesSummary(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/notifications/stats/summary", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(notification.Stats{
			Total:      42,
			Unread:     7,
			ByType:     map[string]int64{"trip_delayed": 3},
			ByPriority: map[string]int64{"urgent": 1},
		})
	}))
	defer upstream.Close()

	client := NewClient(upstream.URL, StaticToken("tok"))
	defer client.Close()

	stats, err := client.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), stats.Total)
	assert.Equal(t, int64(7), stats.Unread)
	assert.Equal(t, int64(3), stats.ByType["trip_delayed"])
}

func TestUpdatePreferencesRoundTrip(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/notifications/preferences", r.URL.Path)

		var prefs notification.Preferences
		require.NoError(t, json.NewDecoder(r.Body).Decode(&prefs))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(prefs)
	}))
	defer upstream.Close()

	client := NewClient(upstream.URL, StaticToken("tok"))
	defer client.Close()

	updated, err := client.UpdatePreferences(context.Background(), notification.Preferences{
		PushEnabled: true,
		MutedTypes:  []string{"invoice_created"},
	})
	require.NoError(t, err)
	assert.True(t, updated.PushEnabled)
	assert.Equal(t, []string{"invoice_created"}, updated.MutedTypes)
}
