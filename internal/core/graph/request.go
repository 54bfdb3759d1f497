package graph

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/FynnBe/ilastik/internal/core/ndarray"
	imetrics "github.com/FynnBe/ilastik/internal/infrastructure/metrics"
)

// Request is a lazy computation of a slot region or value. It runs at most
// once; every waiter shares the result.
type Request struct {
	ID    string
	slot  *Slot
	roi   Roi
	value bool

	started atomic.Bool
	done    chan struct{}
	cancel  context.CancelFunc
	mu      sync.Mutex

	array  *ndarray.Array
	result any
	err    error
}

func newRequest(s *Slot, roi Roi, value bool) *Request {
	return &Request{
		ID:    uuid.NewString(),
		slot:  s,
		roi:   roi,
		value: value,
		done:  make(chan struct{}),
	}
}

// Slot returns the requested slot.
func (r *Request) Slot() *Slot { return r.slot }

// Roi returns the requested region; the zero Roi means the whole slot.
func (r *Request) Roi() Roi { return r.roi }

// Wait computes the requested array region, or waits for a computation that
// is already running. Cancelling ctx abandons the wait; it cancels the
// computation only if this call started it.
func (r *Request) Wait(ctx context.Context) (*ndarray.Array, error) {
	if r.value {
		return nil, fmt.Errorf("%w: value request on %s", ErrNotArray, r.slot.FullName())
	}
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.array, r.err
}

// WaitValue computes the requested value.
func (r *Request) WaitValue(ctx context.Context) (any, error) {
	if !r.value {
		a, err := r.Wait(ctx)
		return a, err
	}
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.result, r.err
}

func (r *Request) wait(ctx context.Context) error {
	if r.started.CompareAndSwap(false, true) {
		rctx, cancel := context.WithCancel(ctx)
		r.setCancel(cancel)
		r.run(rctx)
		cancel()
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit starts the request in the background on the graph worker pool and
// returns immediately. Later Wait calls join the running computation.
func (r *Request) Submit() *Request {
	if !r.started.CompareAndSwap(false, true) {
		return r
	}
	g := r.graph()
	base := context.Background()
	if g != nil {
		base = g.ctx
	}
	rctx, cancel := context.WithCancel(base)
	r.setCancel(cancel)
	go func() {
		defer cancel()
		if g != nil {
			select {
			case g.sem <- struct{}{}:
				defer func() { <-g.sem }()
			case <-rctx.Done():
				r.finish(nil, nil, rctx.Err())
				return
			}
		}
		r.run(rctx)
	}()
	return r
}

// Cancel aborts a running computation. Waiters receive context.Canceled.
func (r *Request) Cancel() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done is closed when the result is available.
func (r *Request) Done() <-chan struct{} { return r.done }

func (r *Request) setCancel(c context.CancelFunc) {
	r.mu.Lock()
	r.cancel = c
	r.mu.Unlock()
}

func (r *Request) graph() *Graph {
	if r.slot.op == nil {
		return nil
	}
	return r.slot.op.graph
}

func (r *Request) run(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			r.finish(nil, nil, fmt.Errorf("request %s on %s panicked: %v", r.ID, r.slot.FullName(), p))
		}
	}()
	if r.value {
		v, err := r.slot.computeValue(ctx)
		r.finish(nil, v, err)
		return
	}
	a, err := r.slot.computeArray(ctx, r.roi)
	r.finish(a, a, err)
}

func (r *Request) finish(a *ndarray.Array, v any, err error) {
	select {
	case <-r.done:
		return
	default:
	}
	r.array, r.result, r.err = a, v, err
	close(r.done)
}

// computeArray resolves roi through upstream connections down to stored
// arrays or the owning operator.
func (s *Slot) computeArray(ctx context.Context, roi Roi) (*ndarray.Array, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if up := s.Upstream(); up != nil {
		return up.computeArray(ctx, roi)
	}
	if !s.Ready() {
		return nil, fmt.Errorf("%w: %s", ErrSlotNotReady, s.FullName())
	}
	meta := s.Meta()
	if !meta.IsArray() {
		return nil, fmt.Errorf("%w: %s", ErrNotArray, s.FullName())
	}
	roi = roi.Resolve(meta.Shape)
	if err := roi.Validate(meta.Shape); err != nil {
		return nil, fmt.Errorf("%s: %w", s.FullName(), err)
	}

	if a, ok := s.Value().(*ndarray.Array); ok && a != nil {
		return a.Sub(roi.Start, roi.Stop)
	}
	if s.dir == Input || s.op == nil || s.op.impl == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoValue, s.FullName())
	}

	name := s.op.name
	imetrics.RequestStarted()
	start := time.Now()
	a, err := s.op.impl.Execute(ctx, s, roi)
	imetrics.RequestFinished()
	imetrics.RequestExecuted(name, time.Since(start), err)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.op.log.Debug().Err(err).Str("slot", s.name).Stringer("roi", roi).Msg("execute failed")
		}
		return nil, err
	}
	if a == nil || !slices.Equal(a.Shape, roi.Shape()) {
		got := []int(nil)
		if a != nil {
			got = a.Shape
		}
		return nil, fmt.Errorf("%w: %s got %v want %v", ErrRoiMismatch, s.FullName(), got, roi.Shape())
	}
	return a, nil
}

func (s *Slot) computeValue(ctx context.Context) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if up := s.Upstream(); up != nil {
		return up.computeValue(ctx)
	}
	if !s.Ready() {
		return nil, fmt.Errorf("%w: %s", ErrSlotNotReady, s.FullName())
	}
	if s.HasValue() {
		return s.Value(), nil
	}
	if s.dir == Output && s.op != nil {
		if ve, ok := s.op.impl.(ValueExecutor); ok {
			start := time.Now()
			v, err := ve.ExecuteValue(ctx, s)
			imetrics.RequestExecuted(s.op.name, time.Since(start), err)
			return v, err
		}
	}
	if s.Meta().IsArray() {
		return s.computeArray(ctx, Roi{})
	}
	return nil, fmt.Errorf("%w: %s", ErrNoValue, s.FullName())
}
