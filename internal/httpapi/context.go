package httpapi

import (
	"context"
	"time"
)

// detachedRunTimeout bounds an asynchronously-dispatched run's total
// wall-clock budget once its triggering HTTP request has already returned.
const detachedRunTimeout = 10 * time.Minute

// detachedContext returns a context independent of the originating HTTP
// request's lifetime (which ends as soon as the handler responds), bounded
// by detachedRunTimeout so a stuck dispatch can't leak a goroutine forever.
func detachedContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), detachedRunTimeout)
}
