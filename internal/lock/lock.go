// Package lock serializes work on receipt keys across concurrent ingestion
// and matching runs.
package lock

import (
	"context"
	"errors"
	"sort"

	"github.com/possync/reconcile/internal/domain/models"
)

// ErrNotObtained is returned when a key stays held past the caller's deadline.
var ErrNotObtained = errors.New("lock not obtained")

// Release frees every key taken by one Acquire call.
type Release func()

// Locker takes exclusive ownership of a set of keys.
type Locker interface {
	// Acquire blocks until all keys are held or ctx is done. Keys are taken
	// in sorted order so overlapping callers cannot deadlock.
	Acquire(ctx context.Context, keys []string) (Release, error)
}

// ReceiptKeys converts receipt keys into sorted, distinct lock names.
func ReceiptKeys(keys []models.ReceiptKey) []string {
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, "receipt:"+k.String())
	}
	return normalize(names)
}

func normalize(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
