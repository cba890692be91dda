package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/mcdev12/caucus/go/internal/sqlutil"
	"github.com/rs/zerolog/log"
	"github.com/sqlc-dev/pqtype"
)

// Schema creates the documents table used by Postgres.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
    key        TEXT PRIMARY KEY,
    value      JSONB,
    version    BIGINT NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
);
CREATE INDEX IF NOT EXISTS documents_updated_at_key ON documents (updated_at, key);`

// ErrPathTooShallow is returned for paths above document level.
var ErrPathTooShallow = errors.New("path is above document level")

// infoKey is the watcher key for the local .info tree.
const infoKey = ".info"

// PostgresConfig holds settings for the Postgres store.
type PostgresConfig struct {
	DSN               string        // used by the LISTEN connection
	NotifyChannel     string        // channel document keys are announced on
	DocumentDepth     int           // number of leading path segments forming a row key
	PingInterval      time.Duration // listener keepalive
	ClockSyncInterval time.Duration // how often the server offset is re-estimated
}

// DefaultPostgresConfig returns default Postgres store settings.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		NotifyChannel:     "committee_documents",
		DocumentDepth:     2,
		PingInterval:      90 * time.Second,
		ClockSyncInterval: 30 * time.Second,
	}
}

// Postgres is a Store keeping one JSONB row per document. Every write locks
// the row, so multi-path updates and transactions within a document are
// atomic. Changes are announced with NOTIFY and fanned out to subscribers.
type Postgres struct {
	db       *sql.DB
	listener *pq.Listener
	clock    clockwork.Clock
	keys     *KeyGenerator
	cfg      PostgresConfig

	mu       sync.Mutex
	info     any
	watchers map[string]map[*watcher]struct{}
}

// NewPostgres creates a Postgres store and starts listening for changes.
// Start must be running for subscriptions to receive updates.
func NewPostgres(db *sql.DB, clock clockwork.Clock, cfg PostgresConfig) (*Postgres, error) {
	if cfg.DocumentDepth < 1 {
		return nil, fmt.Errorf("document depth must be at least 1, got %d", cfg.DocumentDepth)
	}

	l := pq.NewListener(
		cfg.DSN,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("store listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	return &Postgres{
		db:       db,
		listener: l,
		clock:    clock,
		keys:     NewKeyGenerator(clock),
		cfg:      cfg,
		watchers: make(map[string]map[*watcher]struct{}),
	}, nil
}

// EnsureSchema creates the documents table if it is missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}
	return nil
}

// Start dispatches change notifications to subscribers until ctx is done.
func (p *Postgres) Start(ctx context.Context) error {
	log.Info().
		Str("channel", p.cfg.NotifyChannel).
		Dur("ping_interval", p.cfg.PingInterval).
		Msg("store listener started")

	ping := p.clock.NewTicker(p.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("store listener shutting down")
			return p.listener.Close()
		case note := <-p.listener.Notify:
			if note == nil {
				// Reconnected: changes may have been missed, so reload everything.
				p.reloadAll(ctx)
				continue
			}
			p.reload(ctx, note.Extra)
		case <-ping.Chan():
			if err := p.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping store listener")
			}
		}
	}
}

// RunClockSync periodically estimates the server clock offset and publishes
// it at ServerTimeOffsetPath.
func (p *Postgres) RunClockSync(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.cfg.ClockSyncInterval)
	defer ticker.Stop()

	for {
		if err := p.syncClock(ctx); err != nil {
			log.Error().Err(err).Msg("failed to estimate server clock offset")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
		}
	}
}

func (p *Postgres) syncClock(ctx context.Context) error {
	sent := p.clock.Now()
	var serverMillis int64
	err := p.db.QueryRowContext(ctx,
		`SELECT (extract(epoch FROM clock_timestamp()) * 1000)::bigint`).Scan(&serverMillis)
	if err != nil {
		return err
	}
	received := p.clock.Now()
	offset := EstimateOffset(sent, time.UnixMilli(serverMillis), received)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.info = setIn(p.info, SplitPath(ServerTimeOffsetPath)[1:], float64(offset.Milliseconds()))
	p.offerAllLocked(infoKey, p.info)

	log.Debug().Dur("offset", offset).Dur("rtt", received.Sub(sent)).Msg("server clock offset updated")
	return nil
}

func (p *Postgres) Get(ctx context.Context, path string) (Snapshot, error) {
	segs := SplitPath(path)
	if isReadOnly(segs) {
		p.mu.Lock()
		defer p.mu.Unlock()
		return Snapshot{Path: path, Value: encode(getIn(p.info, segs[1:]))}, nil
	}
	key, rel, err := p.split(segs)
	if err != nil {
		return Snapshot{}, err
	}
	doc, err := p.load(ctx, key)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Path: path, Value: encode(getIn(doc, rel))}, nil
}

func (p *Postgres) Subscribe(ctx context.Context, path string) (<-chan Snapshot, error) {
	segs := SplitPath(path)
	w := &watcher{path: path, ch: make(chan Snapshot, 1)}

	var key string
	var doc any
	if isReadOnly(segs) {
		key, w.segs = infoKey, segs[1:]
		p.mu.Lock()
		doc = p.info
		p.mu.Unlock()
	} else {
		var err error
		key, w.segs, err = p.split(segs)
		if err != nil {
			return nil, err
		}
		if doc, err = p.load(ctx, key); err != nil {
			return nil, err
		}
	}

	p.mu.Lock()
	if p.watchers[key] == nil {
		p.watchers[key] = make(map[*watcher]struct{})
	}
	p.watchers[key][w] = struct{}{}
	offerDocument(w, doc)
	p.mu.Unlock()

	go func() {
		<-ctx.Done()
		p.mu.Lock()
		delete(p.watchers[key], w)
		if len(p.watchers[key]) == 0 {
			delete(p.watchers, key)
		}
		close(w.ch)
		p.mu.Unlock()
	}()

	return w.ch, nil
}

func (p *Postgres) Set(ctx context.Context, path string, value any) error {
	v, err := normalize(value)
	if err != nil {
		return err
	}
	return p.mutate(ctx, path, func(doc any, rel []string) (any, error) {
		return setIn(doc, rel, v), nil
	})
}

func (p *Postgres) Update(ctx context.Context, path string, fields map[string]any) error {
	return p.mutate(ctx, path, func(doc any, rel []string) (any, error) {
		return updateTree(doc, rel, fields)
	})
}

func (p *Postgres) Transaction(ctx context.Context, path string, fn TransactionFunc) (Snapshot, error) {
	var committed Snapshot
	err := p.mutate(ctx, path, func(doc any, rel []string) (any, error) {
		current := Snapshot{Path: path, Value: encode(getIn(doc, rel))}
		next, err := fn(current)
		if err != nil {
			committed = current
			return nil, err
		}
		v, err := normalize(next)
		if err != nil {
			return nil, err
		}
		doc = setIn(doc, rel, v)
		committed = Snapshot{Path: path, Value: encode(getIn(doc, rel))}
		return doc, nil
	})
	if errors.Is(err, ErrAbortTransaction) {
		return committed, err
	}
	if err != nil {
		return Snapshot{}, err
	}
	return committed, nil
}

func (p *Postgres) Push(ctx context.Context, path string, value any) (string, error) {
	key := p.NewKey()
	if err := p.Set(ctx, Join(path, key), value); err != nil {
		return "", err
	}
	return key, nil
}

func (p *Postgres) Remove(ctx context.Context, path string) error {
	return p.Set(ctx, path, nil)
}

func (p *Postgres) NewKey() string {
	return p.keys.Next()
}

// mutate locks the document row holding path, applies fn and announces the
// change. The row lock serialises writers, so fn always sees the latest value.
func (p *Postgres) mutate(ctx context.Context, path string, fn func(doc any, rel []string) (any, error)) error {
	segs, err := writablePath(path)
	if err != nil {
		return err
	}
	key, rel, err := p.split(segs)
	if err != nil {
		return err
	}

	return sqlutil.Run(ctx, p.db, newDocumentQueries, func(q *documentQueries) error {
		doc, err := q.lock(ctx, key)
		if err != nil {
			return err
		}
		next, err := fn(doc, rel)
		if err != nil {
			return err
		}
		if err := q.write(ctx, key, next); err != nil {
			return err
		}
		return q.notify(ctx, p.cfg.NotifyChannel, key)
	})
}

func (p *Postgres) split(segs []string) (string, []string, error) {
	if len(segs) < p.cfg.DocumentDepth {
		return "", nil, fmt.Errorf("%w: %s", ErrPathTooShallow, strings.Join(segs, "/"))
	}
	return strings.Join(segs[:p.cfg.DocumentDepth], "/"), segs[p.cfg.DocumentDepth:], nil
}

func (p *Postgres) load(ctx context.Context, key string) (any, error) {
	var raw pqtype.NullRawMessage
	err := p.db.QueryRowContext(ctx, `SELECT value FROM documents WHERE key = $1`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", key, err)
	}
	return decodeDocument(raw)
}

func (p *Postgres) reload(ctx context.Context, key string) {
	p.mu.Lock()
	_, watched := p.watchers[key]
	p.mu.Unlock()
	if !watched {
		return
	}

	doc, err := p.load(ctx, key)
	if err != nil {
		log.Error().Err(err).Str("document", key).Msg("failed to reload document")
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.offerAllLocked(key, doc)
}

func (p *Postgres) reloadAll(ctx context.Context) {
	p.mu.Lock()
	keys := make([]string, 0, len(p.watchers))
	for k := range p.watchers {
		if k != infoKey {
			keys = append(keys, k)
		}
	}
	p.mu.Unlock()

	log.Info().Int("documents", len(keys)).Msg("store listener reconnected, reloading watched documents")
	for _, k := range keys {
		p.reload(ctx, k)
	}
}

func (p *Postgres) offerAllLocked(key string, doc any) {
	for w := range p.watchers[key] {
		offerDocument(w, doc)
	}
}

func offerDocument(w *watcher, doc any) {
	snap := Snapshot{Path: w.path, Value: encode(getIn(doc, w.segs))}
	if w.last != nil && bytes.Equal(w.last, snap.Value) {
		return
	}
	w.last = snap.Value
	offerLatest(w.ch, snap)
}

func decodeDocument(raw pqtype.NullRawMessage) (any, error) {
	if !raw.Valid {
		return nil, nil
	}
	return normalize(json.RawMessage(raw.RawMessage))
}

// documentQueries binds the document statements to one transaction.
type documentQueries struct {
	tx *sql.Tx
}

func newDocumentQueries(tx *sql.Tx) *documentQueries {
	return &documentQueries{tx: tx}
}

func (q *documentQueries) lock(ctx context.Context, key string) (any, error) {
	// Make sure the row exists so FOR UPDATE has something to lock.
	if _, err := q.tx.ExecContext(ctx,
		`INSERT INTO documents (key, value) VALUES ($1, NULL) ON CONFLICT (key) DO NOTHING`, key); err != nil {
		return nil, fmt.Errorf("failed to create document %s: %w", key, err)
	}

	var raw pqtype.NullRawMessage
	if err := q.tx.QueryRowContext(ctx,
		`SELECT value FROM documents WHERE key = $1 FOR UPDATE`, key).Scan(&raw); err != nil {
		return nil, fmt.Errorf("failed to lock document %s: %w", key, err)
	}
	return decodeDocument(raw)
}

func (q *documentQueries) write(ctx context.Context, key string, doc any) error {
	value := pqtype.NullRawMessage{}
	if doc != nil {
		value = pqtype.NullRawMessage{RawMessage: encode(doc), Valid: true}
	}
	if _, err := q.tx.ExecContext(ctx,
		`UPDATE documents SET value = $2, version = version + 1, updated_at = clock_timestamp() WHERE key = $1`,
		key, value); err != nil {
		return fmt.Errorf("failed to write document %s: %w", key, err)
	}
	return nil
}

func (q *documentQueries) notify(ctx context.Context, channel, key string) error {
	if _, err := q.tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, channel, key); err != nil {
		return fmt.Errorf("failed to notify %s: %w", channel, err)
	}
	return nil
}
