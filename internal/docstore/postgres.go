// internal/docstore/postgres.go
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/lib/pq"
)

const notifyChannel = "document_changes"

// PostgresStore implements Store on a single jsonb documents table.
// LISTEN/NOTIFY carries the change feed; each write notifies with a
// "collection:id" payload and subscribers re-run their query.
type PostgresStore struct {
	db  *sql.DB
	dsn string
}

// NewPostgresStore wraps an open connection pool. The dsn is needed
// separately because pq.Listener opens its own dedicated connection.
func NewPostgresStore(db *sql.DB, dsn string) *PostgresStore {
	return &PostgresStore{db: db, dsn: dsn}
}

// EnsureSchema creates the documents table if it does not exist.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id         TEXT NOT NULL,
			data       JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (collection, id)
		)`)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, collection, id string) (Document, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT data FROM documents
		WHERE collection = $1 AND id = $2`, collection, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (p *PostgresStore) Set(ctx context.Context, collection, id string, doc Document, merge bool) error {
	payload, err := json.Marshal(ResolveTimestamps(doc, time.Now()))
	if err != nil {
		return err
	}

	query := `
		INSERT INTO documents (collection, id, data, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (collection, id)
		DO UPDATE SET data = EXCLUDED.data, updated_at = now()`
	if merge {
		// jsonb || merges top-level fields into the stored document.
		query = `
		INSERT INTO documents (collection, id, data, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (collection, id)
		DO UPDATE SET data = documents.data || EXCLUDED.data, updated_at = now()`
	}

	if _, err := p.db.ExecContext(ctx, query, collection, id, payload); err != nil {
		return err
	}
	return p.notify(ctx, collection, id)
}

func (p *PostgresStore) Create(ctx context.Context, collection, id string, doc Document) error {
	payload, err := json.Marshal(ResolveTimestamps(doc, time.Now()))
	if err != nil {
		return err
	}

	res, err := p.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (collection, id) DO NOTHING`, collection, id, payload)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrExists
	}
	return p.notify(ctx, collection, id)
}

func (p *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	if _, err := p.db.ExecContext(ctx, `
		DELETE FROM documents
		WHERE collection = $1 AND id = $2`, collection, id); err != nil {
		return err
	}
	return p.notify(ctx, collection, id)
}

func (p *PostgresStore) Increment(ctx context.Context, collection, id, field string, delta int64) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE documents
		SET data = jsonb_set(
			data,
			ARRAY[$3]::text[],
			to_jsonb(COALESCE((data->>$3)::bigint, 0) + $4)
		), updated_at = now()
		WHERE collection = $1 AND id = $2`, collection, id, field, delta)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return p.notify(ctx, collection, id)
}

func (p *PostgresStore) Subscribe(ctx context.Context, q Query) (*Subscription, error) {
	listener, err := p.openListener()
	if err != nil {
		return nil, err
	}

	sub := newSubscription(func() { listener.Close() })

	snap, err := p.evaluate(ctx, q)
	if err != nil {
		listener.Close()
		return nil, err
	}
	sub.emit(snap)

	go func() {
		for {
			select {
			case <-ctx.Done():
				listener.Close()
				return
			case n, ok := <-listener.Notify:
				if !ok {
					return
				}
				// A nil notification signals a reconnect; re-evaluate in
				// case changes were missed while disconnected.
				if n != nil && !strings.HasPrefix(n.Extra, q.Collection+":") {
					continue
				}
				snap, err := p.evaluate(ctx, q)
				if err != nil {
					sub.fail(err)
					listener.Close()
					return
				}
				sub.emit(snap)
			}
		}
	}()

	return sub, nil
}

func (p *PostgresStore) SubscribeDoc(ctx context.Context, collection, id string) (*DocSubscription, error) {
	listener, err := p.openListener()
	if err != nil {
		return nil, err
	}

	sub := newDocSubscription(func() { listener.Close() })

	snap, err := p.docSnapshot(ctx, collection, id)
	if err != nil {
		listener.Close()
		return nil, err
	}
	sub.emit(snap)

	go func() {
		for {
			select {
			case <-ctx.Done():
				listener.Close()
				return
			case n, ok := <-listener.Notify:
				if !ok {
					return
				}
				if n != nil && n.Extra != collection+":"+id {
					continue
				}
				snap, err := p.docSnapshot(ctx, collection, id)
				if err != nil {
					sub.fail(err)
					listener.Close()
					return
				}
				sub.emit(snap)
			}
		}
	}()

	return sub, nil
}

func (p *PostgresStore) Close() error {
	return nil // the shared pool is owned by the caller
}

func (p *PostgresStore) openListener() (*pq.Listener, error) {
	listener := pq.NewListener(p.dsn, 500*time.Millisecond, 10*time.Second, nil)
	if err := listener.Listen(notifyChannel); err != nil {
		listener.Close()
		return nil, err
	}
	return listener, nil
}

func (p *PostgresStore) notify(ctx context.Context, collection, id string) error {
	_, err := p.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, collection+":"+id)
	return err
}

func (p *PostgresStore) evaluate(ctx context.Context, q Query) ([]Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, data FROM documents
		WHERE collection = $1`, q.Collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		var doc Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
		if q.Matches(doc) {
			entries = append(entries, Entry{ID: id, Data: doc})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return q.Apply(entries), nil
}

func (p *PostgresStore) docSnapshot(ctx context.Context, collection, id string) (DocSnapshot, error) {
	doc, err := p.Get(ctx, collection, id)
	if err == ErrNotFound {
		return DocSnapshot{}, nil
	}
	if err != nil {
		return DocSnapshot{}, err
	}
	return DocSnapshot{Exists: true, Data: doc}, nil
}
