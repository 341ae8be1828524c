// Package rowstore defines the narrow key/value-with-query contract the
// synchronisation core depends on: a condition tree for Query and an
// upsert Set guarded by optional conditions.
package rowstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no row matches id.
var ErrNotFound = errors.New("rowstore: not found")

// ErrConditionFailed is returned by Set/Remove when conditions do not
// match the current row.
var ErrConditionFailed = errors.New("rowstore: condition not satisfied")

// Comparison operators for Condition.
const (
	CmpEqual    = "eq"
	CmpNotEqual = "neq"
	CmpGreater  = "gt"
	CmpLess     = "lt"
)

// Join operators for Condition trees.
const (
	JoinAnd = "and"
	JoinOr  = "or"
)

// Condition is a leaf (Property/Value/Comparison) or an internal node
// (Join/Children) of a condition tree: {property, value, comparison}
// joined by AND/OR.
type Condition struct {
	Property   string
	Value      any
	Comparison string // defaults to CmpEqual when empty and this is a leaf

	Join     string
	Children []Condition
}

// WriteCondition is a single "update only if" guard used by Set/Remove;
// multiple conditions are interpreted as an AND-list.
type WriteCondition struct {
	Property string
	Value    any
}

// Sort describes result ordering for Query.
type Sort struct {
	Property   string
	Descending bool
}

// QueryOptions parameterises Query.
type QueryOptions struct {
	Condition  *Condition
	Sort       *Sort
	Projection []string
	Cursor     string
	PageSize   int
}

// QueryResult is one page of Query results plus an opaque cursor for the
// next page (empty when exhausted).
type QueryResult struct {
	Rows   [][]byte
	Cursor string
}

// Store is the row store contract: a key/value store of JSON-encoded rows
// with a secondary-index query API. Contexts namespace rows by entity
// schema (one context per Facade/Syncer instance, per SPEC_FULL.md §9).
type Store interface {
	// Get returns the row for id in context, or ErrNotFound.
	Get(ctx context.Context, entityCtx, id string) ([]byte, error)

	// Set upserts row under id in entityCtx. If len(conditions) > 0, the
	// write only applies when every condition matches the current row (or
	// the row does not yet exist and conditions is empty); otherwise
	// ErrConditionFailed is returned and no write occurs.
	Set(ctx context.Context, entityCtx, id string, row []byte, conditions []WriteCondition) error

	// Remove deletes the row for id in entityCtx, subject to conditions as
	// in Set. Removing a non-existent row is not an error.
	Remove(ctx context.Context, entityCtx, id string, conditions []WriteCondition) error

	// Query returns rows in entityCtx matching opts. Without an explicit
	// Sort, rows come back in key (id) order, not insertion order.
	Query(ctx context.Context, entityCtx string, opts QueryOptions) (QueryResult, error)

	// Close releases engine resources.
	Close() error
}
