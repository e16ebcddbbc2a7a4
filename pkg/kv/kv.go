// Package kv provides the durable key-value surface the client uses to keep
// its session across process restarts.
package kv

import "context"

// Store is a small string key-value surface.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}
