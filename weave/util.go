package weave

import (
	"context"
	"io"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

const ErrorLogPrefix = "!! "

// ErrGroupLimitCPU returns an errgroup limited to NumCPU, canceling the returned context on the first failure.
func ErrGroupLimitCPU(ctx context.Context) (*errgroup.Group, context.Context) {
	errGroup, ctx := errgroup.WithContext(ctx)
	errGroup.SetLimit(runtime.NumCPU())
	return errGroup, ctx
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// LockedWriter serializes writes to w so concurrent module passes do not interleave their output.
func LockedWriter(w io.Writer) io.Writer {
	if w == nil {
		return nil
	} else if lw, ok := w.(*lockedWriter); ok {
		return lw
	}
	return &lockedWriter{w: w}
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	return lw.w.Write(p)
}
