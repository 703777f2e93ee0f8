package store

import (
	"context"
	"errors"
	"strings"
)

// Errors returned by store drivers. Handlers map ErrWriteRejected to a
// retryable failure; listener errors are reported through the
// subscription's error callback, never by tearing down sibling
// subscriptions.
var (
	ErrNotFound       = errors.New("record not found")
	ErrWriteRejected  = errors.New("write rejected")
	ErrListenerFailed = errors.New("listener failed")
	ErrClosed         = errors.New("store closed")
)

// ServerTime is the sentinel a caller places in a field to request a
// store-assigned timestamp. Drivers replace it with the commit time as
// UTC nanoseconds (int64) before persisting.
type ServerTime struct{}

// ServerTimestamp returns the sentinel token resolved by the store at
// write commit.
func ServerTimestamp() ServerTime { return ServerTime{} }

// Record is a single document: a path like "users/u1" or
// "chats/a_b/messages/m1" plus a flat field map. Field values are the
// JSON scalar types, []any, or map[string]any.
type Record struct {
	Path   string
	Fields map[string]any
}

// ID returns the last path segment of the record.
func (r Record) ID() string {
	i := strings.LastIndexByte(r.Path, '/')
	if i < 0 {
		return r.Path
	}
	return r.Path[i+1:]
}

// FilterOp is a query comparison operator.
type FilterOp string

const (
	OpEqual    FilterOp = "=="
	OpNotEqual FilterOp = "!="
	OpGTE      FilterOp = ">="
	OpIn       FilterOp = "in"
	OpContains FilterOp = "array-contains"
)

// Filter restricts a collection query to records whose field matches
// the operator and value. OpIn expects a []string value; OpContains
// matches records whose array field contains the value.
type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

// Query selects records from one collection (direct children only;
// subcollections are separate collections). OrderDescBy, when set,
// names a numeric field the result set is sorted by, newest first.
type Query struct {
	Collection  string
	Filters     []Filter
	OrderDescBy string
}

// Where appends a filter and returns the query for chaining.
func (q Query) Where(field string, op FilterOp, value any) Query {
	q.Filters = append(q.Filters, Filter{Field: field, Op: op, Value: value})
	return q
}

// Disposer releases one subscription. Calling it more than once is
// allowed and only the first call has an effect.
type Disposer func()

// SnapshotFunc receives the full current result set of a query
// subscription: on registration and again after every matching change.
type SnapshotFunc func(recs []Record)

// DocFunc receives the current state of a single watched record.
// exists is false when the record is absent or was deleted.
type DocFunc func(rec Record, exists bool)

// ErrorFunc is invoked when a subscription drops (for example revoked
// access). The subscription is dead afterwards; its last delivered
// state remains the consumer's last known value.
type ErrorFunc func(err error)

// OpKind identifies one mutation inside a batch.
type OpKind string

const (
	OpMerge       OpKind = "merge"
	OpDelete      OpKind = "delete"
	OpArrayUnion  OpKind = "array-union"
	OpArrayRemove OpKind = "array-remove"
)

// Op is a single batched mutation. Merge uses Fields; the array ops
// use Field and Value.
type Op struct {
	Kind   OpKind
	Path   string
	Fields map[string]any
	Field  string
	Value  any
}

// Store is the document-store boundary the synchronization engine is
// written against. Writes are shallow field merges (a dotted key like
// "nicknames.u2" addresses one entry of a map field); a batch is
// atomic only within the single call. Subscriptions deliver the full
// current state on registration and after each subsequent change, and
// fire independently of each other with no cross-subscription
// ordering.
type Store interface {
	Get(ctx context.Context, path string) (Record, error)
	Query(ctx context.Context, q Query) ([]Record, error)
	WriteMerge(ctx context.Context, path string, fields map[string]any) error
	ArrayUnion(ctx context.Context, path, field string, value any) error
	ArrayRemove(ctx context.Context, path, field string, value any) error
	Delete(ctx context.Context, path string) error
	BatchWrite(ctx context.Context, ops []Op) error

	Watch(path string, fn DocFunc, onErr ErrorFunc) (Disposer, error)
	Subscribe(q Query, fn SnapshotFunc, onErr ErrorFunc) (Disposer, error)

	Close() error
}

// Collection returns the parent collection of a record path, or ""
// for a top-level path with no parent.
func Collection(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return ""
	}
	return path[:i]
}
