// Package handoff holds the out-of-band value passed from a finished workflow
// run to a different view: the generated SQL that prefills a query editor.
// The producer writes the slot once and the consumer reads and clears it.
package handoff

import (
	"context"
	"errors"
	"fmt"
)

// PrefilledQueryKey is the slot holding the SQL to prefill a query editor with.
const PrefilledQueryKey = "prefilledQuery"

var (
	ErrEmptyKey   = errors.New("handoff key is empty")
	ErrEmptyValue = errors.New("handoff value is empty")
)

// Store is a string key-value store.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Clear(ctx context.Context, key string) error
}

// Taker is implemented by stores that can read and clear a key atomically.
type Taker interface {
	Take(ctx context.Context, key string) (string, bool, error)
}

// Publish stores sql as the prefilled query.
func Publish(ctx context.Context, store Store, sql string) error {
	if sql == "" {
		return ErrEmptyValue
	}
	if err := store.Set(ctx, PrefilledQueryKey, sql); err != nil {
		return fmt.Errorf("failed to publish prefilled query: %w", err)
	}
	return nil
}

// Take returns the prefilled query, if any, and clears it.
func Take(ctx context.Context, store Store) (string, bool, error) {
	return TakeKey(ctx, store, PrefilledQueryKey)
}

// TakeKey reads and clears key. It is atomic only if store implements Taker.
func TakeKey(ctx context.Context, store Store, key string) (string, bool, error) {
	if t, ok := store.(Taker); ok {
		return t.Take(ctx, key)
	}
	value, ok, err := store.Get(ctx, key)
	if err != nil || !ok {
		return "", false, err
	}
	if err := store.Clear(ctx, key); err != nil {
		return "", false, err
	}
	return value, true, nil
}

func checkKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return nil
}
