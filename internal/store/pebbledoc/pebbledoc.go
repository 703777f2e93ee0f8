// Package pebbledoc is the embedded document-store driver. Records are
// JSON values keyed by their path; subscriptions are re-evaluated and
// notified after every committed write.
package pebbledoc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"kirimin/server/internal/logger"
	"kirimin/server/internal/store"
)

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

// DB implements store.Store on a local pebble database.
type DB struct {
	mu     sync.Mutex
	db     *pebble.DB
	closed bool

	nextID    int
	docSubs   map[int]*docSub
	querySubs map[int]*querySub
}

// Open opens (or creates) the pebble database at path.
func Open(path string) (*DB, error) {
	pdb, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Log.Error("pebble_open_failed", zap.String("path", path), zap.Error(err))
		return nil, err
	}
	logger.Log.Info("pebble_opened", zap.String("path", path))
	return &DB{
		db:        pdb,
		docSubs:   make(map[int]*docSub),
		querySubs: make(map[int]*querySub),
	}, nil
}

func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.docSubs = map[int]*docSub{}
	d.querySubs = map[int]*querySub{}
	return d.db.Close()
}

func (d *DB) Get(ctx context.Context, path string) (store.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return store.Record{}, store.ErrClosed
	}
	return d.getLocked(path)
}

func (d *DB) getLocked(path string) (store.Record, error) {
	val, closer, err := d.db.Get([]byte(path))
	if err == pebble.ErrNotFound {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, err
	}
	defer closer.Close()
	var fields map[string]any
	if err := json.Unmarshal(val, &fields); err != nil {
		return store.Record{}, fmt.Errorf("corrupt record %s: %w", path, err)
	}
	return store.Record{Path: path, Fields: fields}, nil
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

// BatchWrite applies the ops atomically in one pebble batch, then
// notifies affected subscriptions. ServerTime sentinels resolve to a
// single commit timestamp shared by the whole batch.
func (d *DB) BatchWrite(ctx context.Context, ops []store.Op) error {
	if len(ops) == 0 {
		return nil
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return store.ErrClosed
	}

	now := time.Now().UTC().UnixNano()
	batch := d.db.NewBatch()
	touched := make([]string, 0, len(ops))
	// pending tracks per-path state inside this batch so a later op on
	// the same path sees the earlier ops' effects. nil marks a delete.
	pending := make(map[string]map[string]any)

	for _, op := range ops {
		if op.Path == "" {
			batch.Close()
			d.mu.Unlock()
			return fmt.Errorf("%w: empty path", store.ErrWriteRejected)
		}
		switch op.Kind {
		case store.OpDelete:
			if err := batch.Delete([]byte(op.Path), nil); err != nil {
				batch.Close()
				d.mu.Unlock()
				return err
			}
			pending[op.Path] = nil
		case store.OpMerge, store.OpArrayUnion, store.OpArrayRemove:
			fields, seen := pending[op.Path]
			if !seen {
				rec, err := d.getLocked(op.Path)
				if err != nil && err != store.ErrNotFound {
					batch.Close()
					d.mu.Unlock()
					return err
				}
				fields = rec.Fields
			}
			if fields == nil {
				fields = map[string]any{}
			}
			applyOp(fields, op, now)
			pending[op.Path] = fields
			data, err := json.Marshal(fields)
			if err != nil {
				batch.Close()
				d.mu.Unlock()
				return err
			}
			if err := batch.Set([]byte(op.Path), data, nil); err != nil {
				batch.Close()
				d.mu.Unlock()
				return err
			}
		default:
			batch.Close()
			d.mu.Unlock()
			return fmt.Errorf("%w: unknown op %q", store.ErrWriteRejected, op.Kind)
		}
		touched = append(touched, op.Path)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		d.mu.Unlock()
		return err
	}

	docs, queries := d.affectedLocked(touched)
	d.mu.Unlock()

	d.notify(docs, queries)
	return nil
}

func applyOp(fields map[string]any, op store.Op, now int64) {
	switch op.Kind {
	case store.OpMerge:
		for k, v := range op.Fields {
			v = resolveTime(v, now)
			if dot := strings.IndexByte(k, '.'); dot > 0 {
				// dotted key: one entry of a map field
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

func resolveTime(v any, now int64) any {
	if _, ok := v.(store.ServerTime); ok {
		return now
	}
	return v
}

// normalize round-trips a value through JSON so in-memory writes and
// rereads compare equal (maps become map[string]any, ints float64).
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

func (d *DB) affectedLocked(paths []string) ([]*docSub, []*querySub) {
	var docs []*docSub
	var queries []*querySub
	seenDoc := map[int]bool{}
	seenQuery := map[int]bool{}
	for _, p := range paths {
		coll := store.Collection(p)
		for _, s := range d.docSubs {
			if s.path == p && !seenDoc[s.id] {
				seenDoc[s.id] = true
				docs = append(docs, s)
			}
		}
		for _, s := range d.querySubs {
			if s.q.Collection == coll && !seenQuery[s.id] {
				seenQuery[s.id] = true
				queries = append(queries, s)
			}
		}
	}
	return docs, queries
}

// notify re-reads and dispatches outside the store lock so callbacks
// may issue further writes. Each sub is re-checked against the live
// set right before delivery: a disposer that ran after the capture
// suppresses the callback instead of firing into torn-down state.
func (d *DB) notify(docs []*docSub, queries []*querySub) {
	for _, s := range docs {
		rec, err := d.Get(context.Background(), s.path)
		if err != nil && err != store.ErrNotFound {
			d.failDoc(s, err)
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
		recs, err := d.runQuery(s.q)
		if err != nil {
			d.failQuery(s, err)
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

func (d *DB) failDoc(s *docSub, err error) {
	d.mu.Lock()
	delete(d.docSubs, s.id)
	d.mu.Unlock()
	logger.Log.Warn("doc_listener_failed", zap.String("path", s.path), zap.Error(err))
	if s.onErr != nil {
		s.onErr(fmt.Errorf("%w: %v", store.ErrListenerFailed, err))
	}
}

func (d *DB) failQuery(s *querySub, err error) {
	d.mu.Lock()
	delete(d.querySubs, s.id)
	d.mu.Unlock()
	logger.Log.Warn("query_listener_failed", zap.String("collection", s.q.Collection), zap.Error(err))
	if s.onErr != nil {
		s.onErr(fmt.Errorf("%w: %v", store.ErrListenerFailed, err))
	}
}

// Query runs a one-shot collection query.
func (d *DB) Query(ctx context.Context, q store.Query) ([]store.Record, error) {
	return d.runQuery(q)
}

func (d *DB) runQuery(q store.Query) ([]store.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, store.ErrClosed
	}

	prefix := q.Collection + "/"
	iter, err := d.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(prefix + "\xff"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var recs []store.Record
	for iter.First(); iter.Valid(); iter.Next() {
		key := string(iter.Key())
		// direct children only; deeper paths belong to subcollections
		if strings.IndexByte(key[len(prefix):], '/') >= 0 {
			continue
		}
		var fields map[string]any
		if err := json.Unmarshal(iter.Value(), &fields); err != nil {
			return nil, fmt.Errorf("corrupt record %s: %w", key, err)
		}
		rec := store.Record{Path: key, Fields: fields}
		if q.Matches(rec) {
			recs = append(recs, rec)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	if q.OrderDescBy != "" {
		store.SortDesc(recs, q.OrderDescBy)
	}
	return recs, nil
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
	rec, err := d.getLocked(path)
	d.mu.Unlock()

	if err == store.ErrNotFound {
		fn(store.Record{Path: path}, false)
	} else if err != nil {
		d.failDoc(s, err)
		return func() {}, nil
	} else {
		fn(rec, true)
	}
	return d.disposerDoc(s.id), nil
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

	recs, err := d.runQuery(q)
	if err != nil {
		d.failQuery(s, err)
		return func() {}, nil
	}
	fn(recs)
	return d.disposerQuery(s.id), nil
}

func (d *DB) disposerDoc(id int) store.Disposer {
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.docSubs, id)
			d.mu.Unlock()
		})
	}
}

func (d *DB) disposerQuery(id int) store.Disposer {
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.querySubs, id)
			d.mu.Unlock()
		})
	}
}
