// Package pgdoc is the Postgres document-store driver. Records live in
// a single jsonb table; change fan-out rides LISTEN/NOTIFY, so every
// gateway instance pointed at the same database observes writes from
// its siblings.
package pgdoc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"kirimin/server/internal/logger"
	"kirimin/server/internal/store"
)

const notifyChannel = "kirimin_records"

const schema = `
CREATE TABLE IF NOT EXISTS records (
	path       text PRIMARY KEY,
	collection text NOT NULL,
	fields     jsonb NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS records_collection_idx ON records (collection);
`

type docSub struct {
	id    int
	path  string
	fn    store.DocFunc
	onErr store.ErrorFunc
}

type querySub struct {
	id    int
	q     store.Query
	fn    store.SnapshotFunc
	onErr store.ErrorFunc
}

// DB implements store.Store on Postgres via pgx.
type DB struct {
	pool   *pgxpool.Pool
	cancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	nextID    int
	docSubs   map[int]*docSub
	querySubs map[int]*querySub
}

// Open connects to Postgres, ensures the records table, and starts the
// notification listener.
func Open(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	d := &DB{
		pool:      pool,
		cancel:    cancel,
		docSubs:   make(map[int]*docSub),
		querySubs: make(map[int]*querySub),
	}
	go d.listen(listenCtx, dsn)
	logger.Log.Info("pgdoc_opened")
	return d, nil
}

func (d *DB) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.docSubs = map[int]*docSub{}
	d.querySubs = map[int]*querySub{}
	d.mu.Unlock()

	d.cancel()
	d.pool.Close()
	return nil
}

// listen holds a dedicated connection on the notify channel and
// reconnects with backoff when it drops.
func (d *DB) listen(ctx context.Context, dsn string) {
	for ctx.Err() == nil {
		conn, err := pgx.Connect(ctx, dsn)
		if err != nil {
			logger.Log.Warn("pgdoc_listen_connect_failed", zap.Error(err))
			select {
			case <-time.After(2 * time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}
		if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
			logger.Log.Warn("pgdoc_listen_failed", zap.Error(err))
			conn.Close(ctx)
			continue
		}
		for {
			n, err := conn.WaitForNotification(ctx)
			if err != nil {
				conn.Close(context.Background())
				break
			}
			d.dispatch(n.Payload)
		}
	}
}

// dispatch refreshes every subscription touched by a changed path.
// Each sub is re-checked against the live set right before delivery so
// a disposer that ran after the capture suppresses the callback.
func (d *DB) dispatch(path string) {
	coll := store.Collection(path)

	d.mu.Lock()
	var docs []*docSub
	var queries []*querySub
	for _, s := range d.docSubs {
		if s.path == path {
			docs = append(docs, s)
		}
	}
	for _, s := range d.querySubs {
		if s.q.Collection == coll {
			queries = append(queries, s)
		}
	}
	d.mu.Unlock()

	ctx := context.Background()
	for _, s := range docs {
		rec, err := d.Get(ctx, s.path)
		if err != nil && err != store.ErrNotFound {
			d.drop(s.id, 0, s.onErr, err)
			continue
		}
		if !d.docLive(s.id) {
			continue
		}
		if err == store.ErrNotFound {
			s.fn(store.Record{Path: s.path}, false)
			continue
		}
		s.fn(rec, true)
	}
	for _, s := range queries {
		recs, err := d.runQuery(ctx, s.q)
		if err != nil {
			d.drop(0, s.id, s.onErr, err)
			continue
		}
		if !d.queryLive(s.id) {
			continue
		}
		s.fn(recs)
	}
}

func (d *DB) docLive(id int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.docSubs[id]
	return ok
}

func (d *DB) queryLive(id int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.querySubs[id]
	return ok
}

func (d *DB) drop(docID, queryID int, onErr store.ErrorFunc, err error) {
	d.mu.Lock()
	delete(d.docSubs, docID)
	delete(d.querySubs, queryID)
	d.mu.Unlock()
	logger.Log.Warn("pgdoc_listener_failed", zap.Error(err))
	if onErr != nil {
		onErr(fmt.Errorf("%w: %v", store.ErrListenerFailed, err))
	}
}

func (d *DB) Get(ctx context.Context, path string) (store.Record, error) {
	var data []byte
	err := d.pool.QueryRow(ctx, "SELECT fields FROM records WHERE path = $1", path).Scan(&data)
	if err == pgx.ErrNoRows {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return store.Record{}, fmt.Errorf("corrupt record %s: %w", path, err)
	}
	return store.Record{Path: path, Fields: fields}, nil
}

// Query runs a one-shot collection query.
func (d *DB) Query(ctx context.Context, q store.Query) ([]store.Record, error) {
	return d.runQuery(ctx, q)
}

func (d *DB) runQuery(ctx context.Context, q store.Query) ([]store.Record, error) {
	rows, err := d.pool.Query(ctx, "SELECT path, fields FROM records WHERE collection = $1", q.Collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []store.Record
	for rows.Next() {
		var path string
		var data []byte
		if err := rows.Scan(&path, &data); err != nil {
			return nil, err
		}
		var fields map[string]any
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("corrupt record %s: %w", path, err)
		}
		rec := store.Record{Path: path, Fields: fields}
		if q.Matches(rec) {
			recs = append(recs, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if q.OrderDescBy != "" {
		store.SortDesc(recs, q.OrderDescBy)
	}
	return recs, nil
}

func (d *DB) WriteMerge(ctx context.Context, path string, fields map[string]any) error {
	return d.BatchWrite(ctx, []store.Op{{Kind: store.OpMerge, Path: path, Fields: fields}})
}

func (d *DB) ArrayUnion(ctx context.Context, path, field string, value any) error {
	return d.BatchWrite(ctx, []store.Op{{Kind: store.OpArrayUnion, Path: path, Field: field, Value: value}})
}

func (d *DB) ArrayRemove(ctx context.Context, path, field string, value any) error {
	return d.BatchWrite(ctx, []store.Op{{Kind: store.OpArrayRemove, Path: path, Field: field, Value: value}})
}

func (d *DB) Delete(ctx context.Context, path string) error {
	return d.BatchWrite(ctx, []store.Op{{Kind: store.OpDelete, Path: path}})
}

// BatchWrite applies the ops in one transaction. Each record is read
// under FOR UPDATE so value-based array mutations do not clobber
// concurrent writers, then the change is announced on the notify
// channel.
func (d *DB) BatchWrite(ctx context.Context, ops []store.Op) error {
	if len(ops) == 0 {
		return nil
	}
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC().UnixNano()
	for _, op := range ops {
		if op.Path == "" {
			return fmt.Errorf("%w: empty path", store.ErrWriteRejected)
		}
		if op.Kind == store.OpDelete {
			if _, err := tx.Exec(ctx, "DELETE FROM records WHERE path = $1", op.Path); err != nil {
				return writeErr(err)
			}
		} else {
			fields, err := lockRecord(ctx, tx, op.Path)
			if err != nil {
				return err
			}
			applyOp(fields, op, now)
			data, err := json.Marshal(fields)
			if err != nil {
				return err
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO records (path, collection, fields, updated_at)
				VALUES ($1, $2, $3, now())
				ON CONFLICT (path) DO UPDATE SET fields = EXCLUDED.fields, updated_at = now()
			`, op.Path, store.Collection(op.Path), data)
			if err != nil {
				return writeErr(err)
			}
		}
		if _, err := tx.Exec(ctx, "SELECT pg_notify($1, $2)", notifyChannel, op.Path); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func lockRecord(ctx context.Context, tx pgx.Tx, path string) (map[string]any, error) {
	var data []byte
	err := tx.QueryRow(ctx, "SELECT fields FROM records WHERE path = $1 FOR UPDATE", path).Scan(&data)
	if err == pgx.ErrNoRows {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("corrupt record %s: %w", path, err)
	}
	return fields, nil
}

func applyOp(fields map[string]any, op store.Op, now int64) {
	switch op.Kind {
	case store.OpMerge:
		for k, v := range op.Fields {
			if _, ok := v.(store.ServerTime); ok {
				v = now
			}
			if dot := strings.IndexByte(k, '.'); dot > 0 {
				parent, child := k[:dot], k[dot+1:]
				m, _ := fields[parent].(map[string]any)
				if m == nil {
					m = map[string]any{}
				}
				if v == nil {
					delete(m, child)
				} else {
					m[child] = v
				}
				fields[parent] = m
				continue
			}
			fields[k] = v
		}
	case store.OpArrayUnion:
		arr, _ := fields[op.Field].([]any)
		fields[op.Field] = store.UnionValue(arr, normalize(op.Value))
	case store.OpArrayRemove:
		arr, _ := fields[op.Field].([]any)
		fields[op.Field] = store.RemoveValue(arr, normalize(op.Value))
	}
}

func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// writeErr maps constraint and permission failures onto
// store.ErrWriteRejected so callers see one rejection type.
func writeErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "23", "42": // integrity violation, insufficient privilege
			return fmt.Errorf("%w: %v", store.ErrWriteRejected, err)
		}
	}
	return err
}

// Watch registers a single-document subscription and delivers the
// current state before returning.
func (d *DB) Watch(path string, fn store.DocFunc, onErr store.ErrorFunc) (store.Disposer, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, store.ErrClosed
	}
	d.nextID++
	s := &docSub{id: d.nextID, path: path, fn: fn, onErr: onErr}
	d.docSubs[s.id] = s
	d.mu.Unlock()

	rec, err := d.Get(context.Background(), path)
	switch {
	case err == store.ErrNotFound:
		fn(store.Record{Path: path}, false)
	case err != nil:
		d.drop(s.id, 0, onErr, err)
		return func() {}, nil
	default:
		fn(rec, true)
	}
	return d.disposer(s.id, 0), nil
}

// Subscribe registers a query subscription and delivers the current
// result set before returning.
func (d *DB) Subscribe(q store.Query, fn store.SnapshotFunc, onErr store.ErrorFunc) (store.Disposer, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, store.ErrClosed
	}
	d.nextID++
	s := &querySub{id: d.nextID, q: q, fn: fn, onErr: onErr}
	d.querySubs[s.id] = s
	d.mu.Unlock()

	recs, err := d.runQuery(context.Background(), q)
	if err != nil {
		d.drop(0, s.id, onErr, err)
		return func() {}, nil
	}
	fn(recs)
	return d.disposer(0, s.id), nil
}

func (d *DB) disposer(docID, queryID int) store.Disposer {
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.docSubs, docID)
			delete(d.querySubs, queryID)
			d.mu.Unlock()
		})
	}
}
