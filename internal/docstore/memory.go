package docstore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process backend. It is the default for
// development and the workhorse for tests: fully synchronous writes with
// watcher re-emits on every change.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]map[string]Document
	watchers    map[int]*queryWatcher
	docWatchers map[int]*docWatcher
	nextID      int
	closed      bool
}

type queryWatcher struct {
	query Query
	sub   *Subscription
}

type docWatcher struct {
	collection string
	id         string
	sub        *DocSubscription
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]Document),
		watchers:    make(map[int]*queryWatcher),
		docWatchers: make(map[int]*docWatcher),
	}
}

func (m *MemoryStore) Get(ctx context.Context, collection, id string) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	doc, ok := m.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.Clone(), nil
}

func (m *MemoryStore) Set(ctx context.Context, collection, id string, doc Document, merge bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	resolved := ResolveTimestamps(doc, time.Now())
	coll := m.collection(collection)
	if merge {
		if existing, ok := coll[id]; ok {
			merged := existing.Clone()
			for k, v := range resolved {
				merged[k] = v
			}
			resolved = merged
		}
	}
	coll[id] = resolved

	m.notifyLocked(collection, id)
	return nil
}

func (m *MemoryStore) Create(ctx context.Context, collection, id string, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	coll := m.collection(collection)
	if _, ok := coll[id]; ok {
		return ErrExists
	}
	coll[id] = ResolveTimestamps(doc, time.Now())

	m.notifyLocked(collection, id)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	coll := m.collection(collection)
	if _, ok := coll[id]; !ok {
		return nil
	}
	delete(coll, id)

	m.notifyLocked(collection, id)
	return nil
}

func (m *MemoryStore) Increment(ctx context.Context, collection, id, field string, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	doc, ok := m.collections[collection][id]
	if !ok {
		return ErrNotFound
	}
	current, _ := asNumber(doc[field])
	doc[field] = int64(current) + delta

	m.notifyLocked(collection, id)
	return nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, q Query) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	id := m.nextID
	m.nextID++

	sub := newSubscription(func() {
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
	})
	m.watchers[id] = &queryWatcher{query: q, sub: sub}

	sub.emit(m.evaluateLocked(q))
	return sub, nil
}

func (m *MemoryStore) SubscribeDoc(ctx context.Context, collection, docID string) (*DocSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	id := m.nextID
	m.nextID++

	sub := newDocSubscription(func() {
		m.mu.Lock()
		delete(m.docWatchers, id)
		m.mu.Unlock()
	})
	m.docWatchers[id] = &docWatcher{collection: collection, id: docID, sub: sub}

	sub.emit(m.docSnapshotLocked(collection, docID))
	return sub, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.watchers = make(map[int]*queryWatcher)
	m.docWatchers = make(map[int]*docWatcher)
	return nil
}

// FailListeners terminates every live subscription on a collection with
// err. Exists for tests exercising the terminal-listener-error path.
func (m *MemoryStore) FailListeners(collection string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, w := range m.watchers {
		if w.query.Collection == collection {
			w.sub.fail(err)
			delete(m.watchers, id)
		}
	}
	for id, w := range m.docWatchers {
		if w.collection == collection {
			w.sub.fail(err)
			delete(m.docWatchers, id)
		}
	}
}

func (m *MemoryStore) collection(name string) map[string]Document {
	coll, ok := m.collections[name]
	if !ok {
		coll = make(map[string]Document)
		m.collections[name] = coll
	}
	return coll
}

func (m *MemoryStore) notifyLocked(collection, id string) {
	for _, w := range m.watchers {
		if w.query.Collection == collection {
			w.sub.emit(m.evaluateLocked(w.query))
		}
	}
	for _, w := range m.docWatchers {
		if w.collection == collection && w.id == id {
			w.sub.emit(m.docSnapshotLocked(collection, id))
		}
	}
}

func (m *MemoryStore) evaluateLocked(q Query) []Entry {
	var entries []Entry
	for id, doc := range m.collections[q.Collection] {
		if q.Matches(doc) {
			entries = append(entries, Entry{ID: id, Data: doc.Clone()})
		}
	}
	return q.Apply(entries)
}

func (m *MemoryStore) docSnapshotLocked(collection, id string) DocSnapshot {
	doc, ok := m.collections[collection][id]
	if !ok {
		return DocSnapshot{}
	}
	return DocSnapshot{Exists: true, Data: doc.Clone()}
}
