// Package docstore defines the remote document store contract the sync
// layer is written against: point reads and writes of single documents,
// atomic create-if-absent and counter increments, and filtered, ordered
// live queries that emit the full result set on every matching change.
package docstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// Collections used by the sync layer.
const (
	CollectionUsers        = "users"
	CollectionJobs         = "jobs"
	CollectionApplications = "applications"
)

var (
	ErrNotFound = errors.New("DOCUMENT_NOT_FOUND")
	ErrExists   = errors.New("DOCUMENT_EXISTS")
	ErrClosed   = errors.New("STORE_CLOSED")
)

// Document is a single stored record. Timestamp fields travel as epoch
// milliseconds so they survive JSON round-trips through any backend.
type Document map[string]interface{}

func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// serverTimestamp is the sentinel replaced with the backend's notion of
// "now" at write time.
type serverTimestamp struct{}

var ServerTimestamp = serverTimestamp{}

// ResolveTimestamps replaces ServerTimestamp sentinels with now as epoch
// milliseconds. Backends call this on every write.
func ResolveTimestamps(doc Document, now time.Time) Document {
	out := doc.Clone()
	for k, v := range out {
		if _, ok := v.(serverTimestamp); ok {
			out[k] = now.UTC().UnixMilli()
		}
	}
	return out
}

// Filter is an equality constraint on a document field.
type Filter struct {
	Field string
	Value interface{}
}

// Query selects documents from one collection. Results are ordered
// descending by OrderBy and truncated to Limit when Limit > 0.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Limit      int
}

// Entry pairs a document with its id inside a snapshot.
type Entry struct {
	ID   string
	Data Document
}

// Store is the abstract remote document store.
type Store interface {
	// Get returns one document or ErrNotFound.
	Get(ctx context.Context, collection, id string) (Document, error)
	// Set writes a document. With merge, present fields are merged into
	// the existing document instead of replacing it.
	Set(ctx context.Context, collection, id string, doc Document, merge bool) error
	// Create writes a document only if the id is absent, atomically.
	// Returns ErrExists when another writer got there first.
	Create(ctx context.Context, collection, id string, doc Document) error
	// Delete removes a document. Deleting an absent id is not an error.
	Delete(ctx context.Context, collection, id string) error
	// Increment atomically adds delta to a numeric field, creating the
	// field at delta if absent. Returns ErrNotFound for missing documents.
	Increment(ctx context.Context, collection, id, field string, delta int64) error
	// Subscribe opens a live query. The current result set is emitted
	// immediately, then the full set again on every matching change,
	// until the subscription is closed. Errors are terminal.
	Subscribe(ctx context.Context, q Query) (*Subscription, error)
	// SubscribeDoc opens a live single-document subscription.
	SubscribeDoc(ctx context.Context, collection, id string) (*DocSubscription, error)
	Close() error
}

// Subscription is a live query handle. At most one error is ever
// delivered; after that the listener is dead and must be reopened.
type Subscription struct {
	updates chan []Entry
	errs    chan error
	stop    func()
	once    sync.Once
}

func newSubscription(stop func()) *Subscription {
	return &Subscription{
		updates: make(chan []Entry, 1),
		errs:    make(chan error, 1),
		stop:    stop,
	}
}

func (s *Subscription) Updates() <-chan []Entry { return s.updates }
func (s *Subscription) Err() <-chan error       { return s.errs }

func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
	})
}

// emit delivers a snapshot, replacing any undelivered one so a slow
// consumer always observes the latest full result set.
func (s *Subscription) emit(snap []Entry) {
	for {
		select {
		case s.updates <- snap:
			return
		default:
			select {
			case <-s.updates:
			default:
			}
		}
	}
}

func (s *Subscription) fail(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

// DocSnapshot is one emission of a single-document subscription. Exists
// is false when the document is missing or was deleted.
type DocSnapshot struct {
	Exists bool
	Data   Document
}

// DocSubscription is a live single-document handle.
type DocSubscription struct {
	updates chan DocSnapshot
	errs    chan error
	stop    func()
	once    sync.Once
}

func newDocSubscription(stop func()) *DocSubscription {
	return &DocSubscription{
		updates: make(chan DocSnapshot, 1),
		errs:    make(chan error, 1),
		stop:    stop,
	}
}

func (s *DocSubscription) Updates() <-chan DocSnapshot { return s.updates }
func (s *DocSubscription) Err() <-chan error           { return s.errs }

func (s *DocSubscription) Close() {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
	})
}

func (s *DocSubscription) emit(snap DocSnapshot) {
	for {
		select {
		case s.updates <- snap:
			return
		default:
			select {
			case <-s.updates:
			default:
			}
		}
	}
}

func (s *DocSubscription) fail(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

// ==========================
// Query evaluation helpers
// ==========================

// Matches reports whether a document satisfies every filter.
func (q Query) Matches(doc Document) bool {
	for _, f := range q.Filters {
		if !valuesEqual(doc[f.Field], f.Value) {
			return false
		}
	}
	return true
}

// Apply sorts entries descending by the order field and truncates to the
// query limit.
func (q Query) Apply(entries []Entry) []Entry {
	if q.OrderBy != "" {
		sort.SliceStable(entries, func(i, j int) bool {
			return numeric(entries[i].Data[q.OrderBy]) > numeric(entries[j].Data[q.OrderBy])
		})
	}
	if q.Limit > 0 && len(entries) > q.Limit {
		entries = entries[:q.Limit]
	}
	return entries
}

func valuesEqual(a, b interface{}) bool {
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return as == bs
		}
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			return ab == bb
		}
	}
	an, aok := asNumber(a)
	bn, bok := asNumber(b)
	if aok && bok {
		return an == bn
	}
	return a == b
}

func numeric(v interface{}) float64 {
	n, _ := asNumber(v)
	return n
}

func asNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
