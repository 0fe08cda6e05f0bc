package reconcile

import (
	"context"
	"time"

	"github.com/cargolane/notify-core/internal/notifcache"
	"github.com/cargolane/notify-core/internal/notifclient"
	"github.com/cargolane/notify-core/internal/notification"
	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
)

const (
	defaultRefreshInterval = time.Minute
	defaultFetchLimit      = 50
	refreshTimeout         = 30 * time.Second
)

// Reconciler owns the ordering between REST calls and store mutations: every
// operation runs the network call first and applies the store mutation only
// on success. On failure the cached state stays untouched and the error is
// recorded for display.
//
// It can also run a periodic full refresh as the fallback path while the
// push stream is down. In-flight calls are never cancelled on teardown;
// stale responses are safe to apply because store mutations are either
// overwrite-by-id or idempotent.
type Reconciler struct {
	client     *notifclient.Client
	store      *notifcache.Store
	scheduler  gocron.Scheduler
	interval   time.Duration
	fetchLimit int
}

type Option func(*Reconciler)

// WithInterval sets the period of the scheduled refresh.
func WithInterval(d time.Duration) Option {
	return func(r *Reconciler) {
		r.interval = d
	}
}

// WithFetchLimit bounds the cached window fetched on refresh.
func WithFetchLimit(n int) Option {
	return func(r *Reconciler) {
		r.fetchLimit = n
	}
}

func New(client *notifclient.Client, store *notifcache.Store, opts ...Option) *Reconciler {
	r := &Reconciler{
		client:     client,
		store:      store,
		interval:   defaultRefreshInterval,
		fetchLimit: defaultFetchLimit,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Refresh replaces the cached list and stats with the authoritative server
// state. This is the reconciliation point that corrects anything the racing
// push and pull paths left behind.
func (r *Reconciler) Refresh(ctx context.Context) error {
	r.store.SetLoading(true)
	defer r.store.SetLoading(false)

	list, err := r.client.List(ctx, notification.ListParams{Limit: r.fetchLimit})
	if err != nil {
		r.store.SetError(err)
		return err
	}

	stats, err := r.client.Stats(ctx)
	if err != nil {
		r.store.SetError(err)
		return err
	}

	r.store.ReplaceList(list.Notifications, list.UnreadCount)
	r.store.SetStats(*stats)
	r.store.ClearError()
	return nil
}

// MarkRead marks one notification read on the server, then applies the
// server-confirmed entity to the cache.
func (r *Reconciler) MarkRead(ctx context.Context, id string) error {
	confirmed, err := r.client.MarkRead(ctx, id)
	if err != nil {
		r.store.SetError(err)
		return err
	}

	r.store.MarkRead(*confirmed)
	return nil
}

// MarkAllRead is non-optimistic: the cache is only touched after the server
// confirmed the operation.
func (r *Reconciler) MarkAllRead(ctx context.Context) error {
	if err := r.client.MarkAllRead(ctx); err != nil {
		r.store.SetError(err)
		return err
	}

	r.store.MarkAllRead()
	return nil
}

// Delete removes one notification. A repeat delete against an id the server
// already dropped succeeds (the client maps 404 to success) and leaves the
// cache in the same end state.
func (r *Reconciler) Delete(ctx context.Context, id string) error {
	if err := r.client.Delete(ctx, id); err != nil {
		r.store.SetError(err)
		return err
	}

	r.store.Delete(id)
	return nil
}

// Start schedules the periodic refresh.
func (r *Reconciler) Start() error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return err
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(r.interval),
		gocron.NewTask(
			func() {
				ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
				defer cancel()

				if err := r.Refresh(ctx); err != nil {
					log.Warn().Err(err).Msg("scheduled notification refresh failed")
				}
			},
		),
	)
	if err != nil {
		return err
	}

	scheduler.Start()
	r.scheduler = scheduler
	return nil
}

// Stop shuts the refresh scheduler down. Safe to call without Start.
func (r *Reconciler) Stop() error {
	if r.scheduler == nil {
		return nil
	}
	return r.scheduler.Shutdown()
}
