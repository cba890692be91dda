// Package relay forwards committee document changes from Postgres
// LISTEN/NOTIFY to NATS JetStream.
package relay

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/mcdev12/caucus/go/internal/events"
	"github.com/mcdev12/caucus/go/internal/store"
	"github.com/rs/zerolog/log"
)

type ListenerConfig struct {
	DatabaseURL      string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel    string        // Channel document keys arrive on
	FallbackInterval time.Duration // How often to sweep for missed changes
	MaxRetries       int
	RetryDelay       time.Duration
	PingInterval     time.Duration
	BatchSize        int           // Max documents per sweep page
	SweepOverlap     time.Duration // How far behind the cursor a sweep re-reads
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		NotifyChannel:    store.DefaultPostgresConfig().NotifyChannel,
		FallbackInterval: 30 * time.Second,
		MaxRetries:       5,
		RetryDelay:       200 * time.Millisecond,
		PingInterval:     90 * time.Second,
		BatchSize:        100,
		SweepOverlap:     10 * time.Second,
	}
}

// Publisher sends change envelopes downstream.
type Publisher interface {
	Publish(ctx context.Context, env events.Envelope) error
}

// DocumentSource reads stored documents. *store.Documents implements it.
type DocumentSource interface {
	LoadDocument(ctx context.Context, key string) (store.Document, error)
	ChangedSince(ctx context.Context, after store.Cursor, limit int) ([]store.Document, error)
}

// Notifier delivers NOTIFY payloads. A nil notification means the
// connection was re-established. *pq.Listener implements it.
type Notifier interface {
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

type Listener struct {
	source    DocumentSource
	notifier  Notifier
	publisher Publisher
	clock     clockwork.Clock
	cfg       ListenerConfig

	// Only touched from the Start goroutine.
	cursor store.Cursor
	relayed map[string]int64 // document key -> last version published

	running       atomic.Bool
	published     atomic.Uint64
	lastPublished atomic.Int64 // unix millis
}

// Stats reports how many envelopes were published and when the last one was.
func (l *Listener) Stats() (uint64, time.Time) {
	var last time.Time
	if ms := l.lastPublished.Load(); ms > 0 {
		last = time.UnixMilli(ms)
	}
	return l.published.Load(), last
}

// Running reports whether Start is looping.
func (l *Listener) Running() bool {
	return l.running.Load()
}

// NewListener listens on cfg.NotifyChannel with a dedicated pq.Listener.
func NewListener(source DocumentSource, publisher Publisher, clock clockwork.Clock, cfg ListenerConfig) (*Listener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("relay listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().Str("channel", cfg.NotifyChannel).Msg("listening for document changes")
	return NewListenerWithNotifier(source, l, publisher, clock, cfg), nil
}

// NewListenerWithNotifier builds a listener around an existing notifier.
// The first sweep relays every stored document, which primes a fresh stream.
func NewListenerWithNotifier(source DocumentSource, n Notifier, publisher Publisher, clock clockwork.Clock, cfg ListenerConfig) *Listener {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultListenerConfig().BatchSize
	}
	return &Listener{
		source:    source,
		notifier:  n,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		relayed:   make(map[string]int64),
	}
}

func (l *Listener) Start(ctx context.Context) error {
	log.Info().
		Str("channel", l.cfg.NotifyChannel).
		Dur("ping_interval", l.cfg.PingInterval).
		Dur("fallback_interval", l.cfg.FallbackInterval).
		Msg("relay started")

	l.running.Store(true)
	defer l.running.Store(false)

	pingTicker := l.clock.NewTicker(l.cfg.PingInterval)
	fallbackTicker := l.clock.NewTicker(l.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	if err := l.sweep(ctx); err != nil {
		log.Error().Err(err).Msg("initial sweep failed")
	}

	notes := l.notifier.NotificationChannel()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("relay shutting down")
			return l.notifier.Close()
		case note := <-notes:
			if note == nil {
				// Reconnected: anything written meanwhile is picked up by a sweep.
				if err := l.sweep(ctx); err != nil {
					log.Error().Err(err).Msg("failed to sweep after reconnect")
				}
				continue
			}
			if err := l.handleNotification(ctx, note.Extra); err != nil {
				log.Error().Err(err).Str("document", note.Extra).Msg("failed to relay change")
			}
		case <-fallbackTicker.Chan():
			if err := l.sweep(ctx); err != nil {
				log.Error().Err(err).Msg("failed to sweep for missed changes")
			}
		case <-pingTicker.Chan():
			if err := l.notifier.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

// handleNotification publishes the current version of the document whose key
// arrived as the NOTIFY payload.
func (l *Listener) handleNotification(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("empty document key in notification")
	}
	doc, err := l.source.LoadDocument(ctx, key)
	if err != nil {
		return err
	}
	return l.relay(ctx, doc)
}

// sweep publishes documents written since the previous sweep. updated_at is
// stamped before commit, so a slow transaction can land behind the cursor;
// each sweep therefore starts SweepOverlap earlier and skips versions that
// were already relayed.
func (l *Listener) sweep(ctx context.Context) error {
	after := l.cursor
	if !after.UpdatedAt.IsZero() {
		after = store.Cursor{UpdatedAt: after.UpdatedAt.Add(-l.cfg.SweepOverlap)}
	}
	for {
		docs, err := l.source.ChangedSince(ctx, after, l.cfg.BatchSize)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			if err := l.relay(ctx, doc); err != nil {
				// Retry the rest on the next sweep.
				return err
			}
			after = store.CursorAt(doc)
			if l.cursor.After(doc) {
				l.cursor = after
			}
		}
		if len(docs) < l.cfg.BatchSize {
			return nil
		}
	}
}

// relay publishes doc unless this version, or a newer one, already went out.
func (l *Listener) relay(ctx context.Context, doc store.Document) error {
	if doc.Version <= l.relayed[doc.Key] {
		return nil
	}
	if err := l.publishWithRetry(ctx, l.envelope(doc)); err != nil {
		return err
	}
	l.relayed[doc.Key] = doc.Version
	return nil
}

func (l *Listener) envelope(doc store.Document) events.Envelope {
	return events.DocumentChanged(doc.Key, doc.Version, doc.Value, l.clock.Now())
}

// publishWithRetry attempts to publish with a linearly growing delay.
func (l *Listener) publishWithRetry(ctx context.Context, env events.Envelope) error {
	var lastErr error

	for attempt := 0; attempt <= l.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := l.cfg.RetryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-l.clock.After(delay):
			}
		}

		if err := l.publisher.Publish(ctx, env); err != nil {
			lastErr = err
			log.Error().
				Err(err).
				Int("attempt", attempt+1).
				Str("event_id", env.EventID).
				Msg("failed to publish, retrying")
			continue
		}

		l.published.Add(1)
		l.lastPublished.Store(l.clock.Now().UnixMilli())
		if attempt > 0 {
			log.Info().
				Int("attempt", attempt+1).
				Str("event_id", env.EventID).
				Msg("publish succeeded after retry")
		}
		return nil
	}

	return fmt.Errorf("publish failed after %d attempts: %w", l.cfg.MaxRetries+1, lastErr)
}
