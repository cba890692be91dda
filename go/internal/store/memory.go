package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Memory is an in-process Store. It is safe for concurrent use and is what
// tests substitute for the real backend.
type Memory struct {
	keys *KeyGenerator

	mu       sync.Mutex
	root     any
	watchers map[*watcher]struct{}
	writeErr error

	// BeforeCommit, when set, runs after a transaction function returned and
	// before its result is compared and committed. Tests use it to inject a
	// concurrent write.
	BeforeCommit func(path string)
}

type watcher struct {
	segs []string
	path string
	ch   chan Snapshot
	last []byte
}

// NewMemory creates an empty in-memory store.
func NewMemory(clock clockwork.Clock) *Memory {
	return &Memory{
		keys:     NewKeyGenerator(clock),
		watchers: make(map[*watcher]struct{}),
	}
}

// FailWrites makes every subsequent write return err, simulating a client
// that lost its connection. Pass nil to restore writes.
func (m *Memory) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// SetServerTimeOffset publishes the server-minus-local offset in milliseconds.
func (m *Memory) SetServerTimeOffset(ms int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.root = setIn(m.root, SplitPath(ServerTimeOffsetPath), float64(ms))
	m.notifyLocked()
}

func (m *Memory) Get(ctx context.Context, path string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(path, SplitPath(path)), nil
}

func (m *Memory) Subscribe(ctx context.Context, path string) (<-chan Snapshot, error) {
	w := &watcher{
		segs: SplitPath(path),
		path: path,
		ch:   make(chan Snapshot, 1),
	}

	m.mu.Lock()
	m.watchers[w] = struct{}{}
	m.offerLocked(w)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers, w)
		close(w.ch)
		m.mu.Unlock()
	}()

	return w.ch, nil
}

func (m *Memory) Set(ctx context.Context, path string, value any) error {
	segs, err := writablePath(path)
	if err != nil {
		return err
	}
	v, err := normalize(value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.root = setIn(m.root, segs, v)
	m.notifyLocked()
	return nil
}

func (m *Memory) Update(ctx context.Context, path string, fields map[string]any) error {
	segs := SplitPath(path)
	if isReadOnly(segs) {
		return fmt.Errorf("%w: %s", ErrReadOnlyPath, path)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	root, err := updateTree(m.root, segs, fields)
	if err != nil {
		return err
	}
	m.root = root
	m.notifyLocked()
	return nil
}

func (m *Memory) Transaction(ctx context.Context, path string, fn TransactionFunc) (Snapshot, error) {
	segs, err := writablePath(path)
	if err != nil {
		return Snapshot{}, err
	}

	for attempt := 0; attempt < maxTransactionRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Snapshot{}, err
		}

		m.mu.Lock()
		current := m.snapshotLocked(path, segs)
		m.mu.Unlock()

		next, err := fn(current)
		if errors.Is(err, ErrAbortTransaction) {
			return current, err
		}
		if err != nil {
			return Snapshot{}, err
		}
		v, err := normalize(next)
		if err != nil {
			return Snapshot{}, err
		}

		if m.BeforeCommit != nil {
			m.BeforeCommit(path)
		}

		m.mu.Lock()
		if m.writeErr != nil {
			m.mu.Unlock()
			return Snapshot{}, m.writeErr
		}
		if !bytes.Equal(encode(getIn(m.root, segs)), current.Value) {
			m.mu.Unlock()
			log.Debug().Str("path", path).Int("attempt", attempt+1).Msg("transaction conflict, retrying")
			continue
		}
		m.root = setIn(m.root, segs, v)
		committed := m.snapshotLocked(path, segs)
		m.notifyLocked()
		m.mu.Unlock()
		return committed, nil
	}

	return Snapshot{}, fmt.Errorf("%w: %s", ErrTooManyRetries, path)
}

func (m *Memory) Push(ctx context.Context, path string, value any) (string, error) {
	key := m.NewKey()
	if err := m.Set(ctx, Join(path, key), value); err != nil {
		return "", err
	}
	return key, nil
}

func (m *Memory) Remove(ctx context.Context, path string) error {
	return m.Set(ctx, path, nil)
}

func (m *Memory) NewKey() string {
	return m.keys.Next()
}

func (m *Memory) snapshotLocked(path string, segs []string) Snapshot {
	return Snapshot{Path: path, Value: encode(getIn(m.root, segs))}
}

// notifyLocked offers the latest value to every watcher whose value changed.
func (m *Memory) notifyLocked() {
	for w := range m.watchers {
		m.offerLocked(w)
	}
}

func (m *Memory) offerLocked(w *watcher) {
	snap := m.snapshotLocked(w.path, w.segs)
	if w.last != nil && bytes.Equal(w.last, snap.Value) {
		return
	}
	w.last = snap.Value
	offerLatest(w.ch, snap)
}

// offerLatest replaces any undelivered snapshot with s so readers always see
// the newest value and writers never block.
func offerLatest(ch chan Snapshot, s Snapshot) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}

func writablePath(path string) ([]string, error) {
	segs := SplitPath(path)
	if len(segs) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	if isReadOnly(segs) {
		return nil, fmt.Errorf("%w: %s", ErrReadOnlyPath, path)
	}
	return segs, nil
}
