package coldstore

import (
	"context"
	stderrors "errors"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cut-dicl/smacc-sub001/internal/circuit"
	"github.com/cut-dicl/smacc-sub001/pkg/errors"
	"github.com/cut-dicl/smacc-sub001/pkg/types"
)

// GuardedStore fails fast while the wrapped store keeps failing. Missing
// objects and unsatisfiable ranges are answers, not failures.
type GuardedStore struct {
	store   Store
	breaker *circuit.CircuitBreaker
}

// NewGuardedStore wraps s with a breaker that opens after failures
// consecutive errors and tries again after timeout.
func NewGuardedStore(s Store, failures uint32, timeout time.Duration, logger *logrus.Entry) *GuardedStore {
	if logger == nil {
		logger = logrus.WithField("component", "coldstore")
	}
	return &GuardedStore{
		store: s,
		breaker: circuit.NewCircuitBreaker("cold-storage", circuit.Config{
			Timeout:      timeout,
			ReadyToTrip:  circuit.ConsecutiveFailures(failures),
			IsSuccessful: answered,
			OnStateChange: func(name string, from, to circuit.State) {
				logger.WithFields(logrus.Fields{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Warn("Cold storage breaker changed state")
			},
		}),
	}
}

func answered(err error) bool {
	return err == nil ||
		errors.IsCode(err, errors.ErrCodeObjectNotFound) ||
		errors.IsCode(err, errors.ErrCodeRangeNotSatisfiable)
}

// Breaker exposes the breaker for status reporting.
func (g *GuardedStore) Breaker() *circuit.CircuitBreaker { return g.breaker }

func (g *GuardedStore) call(ctx context.Context, op string, fn func(context.Context) error) error {
	err := g.breaker.Execute(ctx, fn)
	if stderrors.Is(err, circuit.ErrOpenState) || stderrors.Is(err, circuit.ErrTooManyRequests) {
		return errors.Wrap(err, errors.ErrCodeUnavailable, "cold storage is unavailable").
			WithComponent("coldstore").WithOperation(op)
	}
	return err
}

func (g *GuardedStore) Create(ctx context.Context, bucket, key string, size int64) (ObjectWriter, error) {
	var w ObjectWriter
	err := g.call(ctx, "create", func(ctx context.Context) error {
		var err error
		w, err = g.store.Create(ctx, bucket, key, size)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &guardedWriter{ObjectWriter: w, guard: g, ctx: ctx}, nil
}

func (g *GuardedStore) Read(ctx context.Context, bucket, key string, start, stop int64) (io.ReadCloser, error) {
	var rc io.ReadCloser
	err := g.call(ctx, "read", func(ctx context.Context) error {
		var err error
		rc, err = g.store.Read(ctx, bucket, key, start, stop)
		return err
	})
	return rc, err
}

func (g *GuardedStore) Delete(ctx context.Context, bucket, key string) error {
	return g.call(ctx, "delete", func(ctx context.Context) error {
		return g.store.Delete(ctx, bucket, key)
	})
}

func (g *GuardedStore) Stat(ctx context.Context, bucket, key string) (types.ObjectInfo, error) {
	var info types.ObjectInfo
	err := g.call(ctx, "stat", func(ctx context.Context) error {
		var err error
		info, err = g.store.Stat(ctx, bucket, key)
		return err
	})
	return info, err
}

func (g *GuardedStore) List(ctx context.Context, bucket, prefix string) ([]types.ObjectInfo, error) {
	var out []types.ObjectInfo
	err := g.call(ctx, "list", func(ctx context.Context) error {
		var err error
		out, err = g.store.List(ctx, bucket, prefix)
		return err
	})
	return out, err
}

// Close closes the wrapped store when it holds resources.
func (g *GuardedStore) Close() error {
	if c, ok := g.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// guardedWriter counts the upload outcome against the breaker.
type guardedWriter struct {
	ObjectWriter
	guard *GuardedStore
	ctx   context.Context
}

func (w *guardedWriter) Complete() error {
	return w.guard.call(w.ctx, "complete", func(context.Context) error {
		return w.ObjectWriter.Complete()
	})
}
