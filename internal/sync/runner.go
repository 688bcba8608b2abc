package sync

import (
	"context"
	"fmt"

	"github.com/tonimelisma/acctsync/internal/store"
)

// recordResult is the outcome of one sweeper retry.
type recordResult struct {
	key       store.Key
	attempted bool
	err       error
}

// recordRunner isolates one sweeper retry: a panic in an adapter becomes an
// error for that record and does not take down the sweep.
type recordRunner struct {
	key store.Key
}

func (r *recordRunner) run(ctx context.Context, fn func(context.Context) (bool, error)) (result recordResult) {
	result.key = r.key

	defer func() {
		if p := recover(); p != nil {
			result.attempted = true
			result.err = fmt.Errorf("panic while syncing %s: %v", r.key, p)
		}
	}()

	result.attempted, result.err = fn(ctx)

	return result
}
