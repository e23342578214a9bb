// Package kv is the key-value persistence layer shared by the binding registry
// and the upload ledger. Keys are slash-separated paths.
package kv

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get when no item exists for the key.
	ErrNotFound = errors.New("kv: item not found")
	// ErrConditionFailed is returned by PutIf when the guard does not hold.
	ErrConditionFailed = errors.New("kv: condition failed")
	// ErrMalformed is returned by Get when the stored item cannot be decoded.
	ErrMalformed = errors.New("kv: malformed item")
)

// Condition guards a conditional write.
//
// The write is allowed when IfAbsent is set and no item exists, or when an
// item exists and every Equal field matches and every Missing field is absent.
// A zero Condition with IfAbsent unset and no field checks always allows the write.
type Condition struct {
	IfAbsent bool
	Equal    map[string]any
	Missing  []string
}

func (c Condition) checksExisting() bool {
	return len(c.Equal) > 0 || len(c.Missing) > 0
}

func (c Condition) unconditional() bool {
	return !c.IfAbsent && !c.checksExisting()
}

// Store is implemented by DynamoStore and MemoryStore.
type Store interface {
	// Get decodes the item at key into out.
	Get(ctx context.Context, key string, out any) error
	// Put writes item at key, replacing any existing item.
	Put(ctx context.Context, key string, item any) error
	// PutIf writes item at key only when cond holds against the current item.
	PutIf(ctx context.Context, key string, item any, cond Condition) error
	// Delete removes the item at key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
