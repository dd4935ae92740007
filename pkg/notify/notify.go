package notify

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/swms/pkg/client"
	"github.com/cuemby/swms/pkg/events"
	"github.com/cuemby/swms/pkg/log"
	"github.com/cuemby/swms/pkg/metrics"
	"github.com/cuemby/swms/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// syncTimeout bounds the unread recount triggered by a push
const syncTimeout = 10 * time.Second

// API is the part of the backend client the inbox uses
type API interface {
	Notifications(ctx context.Context, pageSize, pageNumber int) ([]types.Notification, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkNotificationRead(ctx context.Context, id int64) error
	MarkAllNotificationsRead(ctx context.Context) error
}

// Source delivers pushed notifications, normally a *realtime.Channel
type Source interface {
	On(eventType events.EventType, handler events.Handler) events.Subscription
	Off(sub events.Subscription) bool
}

// NoticeFunc is called for every pushed notification
type NoticeFunc func(n types.Notification)

// Inbox holds the locally retained notifications, most recent first, and the
// unread counter. The counter follows the server: Refresh and
// SyncUnreadCount overwrite it, local changes only approximate it in between.
type Inbox struct {
	api      API
	pageSize int
	maxItems int
	now      func() time.Time
	logger   zerolog.Logger

	mu      sync.RWMutex
	items   []types.Notification
	unread  int
	loading bool
	// epoch advances on Clear; fetches started before it are discarded
	epoch uint64
	// marks advances on every successful MarkRead and MarkAllRead; a recount
	// that started before a mark is stale
	marks uint64
	// recounting is set while a push-triggered recount runs; pushes during it
	// set recountPending so exactly one more recount follows
	recounting     bool
	recountPending bool

	attachMu sync.Mutex
	source   Source
	sub      events.Subscription

	noticeMu sync.RWMutex
	notices  []NoticeFunc
}

// Option configures an Inbox
type Option func(*Inbox)

// WithPageSize sets the page size fetched by Refresh
func WithPageSize(n int) Option {
	return func(in *Inbox) {
		in.pageSize = n
	}
}

// WithMaxItems caps the retained list. Zero keeps everything.
func WithMaxItems(n int) Option {
	return func(in *Inbox) {
		in.maxItems = n
	}
}

// WithClock overrides the clock used for read timestamps
func WithClock(now func() time.Time) Option {
	return func(in *Inbox) {
		in.now = now
	}
}

// NewInbox creates an empty inbox
func NewInbox(api API, opts ...Option) *Inbox {
	in := &Inbox{
		api:      api,
		pageSize: client.DefaultPageSize,
		now:      time.Now,
		logger:   log.WithComponent("notify"),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// ApplyPushed inserts n at the front. An unread n increments the counter
// exactly once, whether or not the cap then trims the list.
func (in *Inbox) ApplyPushed(n types.Notification) {
	in.mu.Lock()
	defer in.mu.Unlock()

	items := make([]types.Notification, 0, len(in.items)+1)
	items = append(items, n)
	items = append(items, in.items...)
	in.items = in.trim(items)

	if !n.IsRead {
		in.unread++
	}
	metrics.NotificationsUnread.Set(float64(in.unread))
}

// MarkRead marks one notification read on the backend, then locally. A
// notification that is already read, or not held locally, is left alone.
func (in *Inbox) MarkRead(ctx context.Context, id int64) types.Outcome[struct{}] {
	if err := in.api.MarkNotificationRead(ctx, id); err != nil {
		logger := log.WithNotificationID(id)
		logger.Warn().Err(err).Msg("Failed to mark notification read")
		return types.Failed[struct{}](client.Message(err))
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	in.marks++
	for i := range in.items {
		n := &in.items[i]
		if n.ID != id || n.IsRead {
			continue
		}
		readAt := in.now()
		n.IsRead = true
		n.ReadAt = &readAt
		if in.unread > 0 {
			in.unread--
		}
		break
	}
	metrics.NotificationsUnread.Set(float64(in.unread))
	return types.Succeeded(struct{}{}, "")
}

// MarkAllRead marks every notification read on the backend, then flips all
// held items and resets the counter to zero
func (in *Inbox) MarkAllRead(ctx context.Context) types.Outcome[struct{}] {
	if err := in.api.MarkAllNotificationsRead(ctx); err != nil {
		in.logger.Warn().Err(err).Msg("Failed to mark all notifications read")
		return types.Failed[struct{}](client.Message(err))
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	in.marks++
	readAt := in.now()
	for i := range in.items {
		in.items[i].IsRead = true
		in.items[i].ReadAt = &readAt
	}
	in.unread = 0
	metrics.NotificationsUnread.Set(0)
	return types.Succeeded(struct{}{}, "")
}

// Refresh fetches the first page and the unread count together and replaces
// local state with them. On failure local state is kept.
func (in *Inbox) Refresh(ctx context.Context) types.Outcome[struct{}] {
	in.setLoading(true)
	defer in.setLoading(false)
	epoch := in.currentEpoch()

	var (
		items  []types.Notification
		unread int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = in.api.Notifications(gctx, in.pageSize, client.DefaultPageNumber)
		return err
	})
	g.Go(func() error {
		var err error
		unread, err = in.api.UnreadCount(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		in.logger.Warn().Err(err).Msg("Failed to refresh notifications")
		return types.Failed[struct{}](client.Message(err))
	}

	in.mu.Lock()
	if in.epoch != epoch {
		in.mu.Unlock()
		return types.Failed[struct{}]("Notifications were cleared")
	}
	in.items = in.trim(append([]types.Notification(nil), items...))
	in.unread = unread
	in.mu.Unlock()
	metrics.NotificationsUnread.Set(float64(unread))

	in.logger.Debug().Int("items", len(items)).Int("unread", unread).Msg("Notifications refreshed")
	return types.Succeeded(struct{}{}, "")
}

// SyncUnreadCount replaces the counter with the server's count. A count
// fetched across a local mark-read is dropped and the local counter kept.
func (in *Inbox) SyncUnreadCount(ctx context.Context) types.Outcome[int] {
	in.mu.RLock()
	epoch, marks := in.epoch, in.marks
	in.mu.RUnlock()

	unread, err := in.api.UnreadCount(ctx)
	if err != nil {
		in.logger.Warn().Err(err).Msg("Failed to fetch unread count")
		return types.Failed[int](client.Message(err))
	}

	in.mu.Lock()
	if in.epoch != epoch {
		in.mu.Unlock()
		return types.Failed[int]("Notifications were cleared")
	}
	if in.marks != marks {
		unread = in.unread
		in.mu.Unlock()
		return types.Succeeded(unread, "")
	}
	in.unread = unread
	in.mu.Unlock()
	metrics.NotificationsUnread.Set(float64(unread))
	return types.Succeeded(unread, "")
}

// Attach subscribes the inbox to pushed notifications from src, replacing
// any previous source. Each push is applied, announced to notice handlers and
// followed by an authoritative recount in the background.
func (in *Inbox) Attach(src Source) {
	in.attachMu.Lock()
	defer in.attachMu.Unlock()

	if in.source != nil {
		in.source.Off(in.sub)
	}
	in.source = src
	in.sub = src.On(events.EventNotification, in.handlePush)
}

// Detach stops listening to the current source
func (in *Inbox) Detach() {
	in.attachMu.Lock()
	defer in.attachMu.Unlock()

	if in.source != nil {
		in.source.Off(in.sub)
		in.source = nil
	}
}

func (in *Inbox) handlePush(event *events.Event) {
	n, ok := event.Payload.(types.Notification)
	if !ok {
		in.logger.Warn().Msg("Ignoring notification event without a notification payload")
		return
	}

	in.ApplyPushed(n)

	in.noticeMu.RLock()
	notices := in.notices
	in.noticeMu.RUnlock()
	for _, fn := range notices {
		fn(n)
	}

	// A redelivered push must not leave the counter overcounted
	in.scheduleRecount()
}

// scheduleRecount runs SyncUnreadCount off the dispatch path. Pushes that
// arrive while a recount is in flight are coalesced into one follow-up.
func (in *Inbox) scheduleRecount() {
	in.mu.Lock()
	if in.recounting {
		in.recountPending = true
		in.mu.Unlock()
		return
	}
	in.recounting = true
	in.mu.Unlock()

	go func() {
		for {
			ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
			in.SyncUnreadCount(ctx)
			cancel()

			in.mu.Lock()
			if !in.recountPending {
				in.recounting = false
				in.mu.Unlock()
				return
			}
			in.recountPending = false
			in.mu.Unlock()
		}
	}()
}

// OnNotice registers fn to be called for every pushed notification
func (in *Inbox) OnNotice(fn NoticeFunc) {
	in.noticeMu.Lock()
	defer in.noticeMu.Unlock()

	notices := make([]NoticeFunc, 0, len(in.notices)+1)
	notices = append(notices, in.notices...)
	in.notices = append(notices, fn)
}

// Clear drops all local state; used on logout
func (in *Inbox) Clear() {
	in.mu.Lock()
	in.epoch++
	in.items = nil
	in.unread = 0
	in.recountPending = false
	in.mu.Unlock()
	metrics.NotificationsUnread.Set(0)
}

// Items returns a copy of the retained notifications, most recent first
func (in *Inbox) Items() []types.Notification {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return append([]types.Notification(nil), in.items...)
}

// UnreadCount returns the unread counter
func (in *Inbox) UnreadCount() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.unread
}

// IsLoading reports whether a Refresh is in progress
func (in *Inbox) IsLoading() bool {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.loading
}

func (in *Inbox) currentEpoch() uint64 {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.epoch
}

func (in *Inbox) setLoading(loading bool) {
	in.mu.Lock()
	in.loading = loading
	in.mu.Unlock()
}

func (in *Inbox) trim(items []types.Notification) []types.Notification {
	if in.maxItems > 0 && len(items) > in.maxItems {
		return items[:in.maxItems]
	}
	return items
}
