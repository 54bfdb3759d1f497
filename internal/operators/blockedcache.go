package operators

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/FynnBe/ilastik/internal/core/graph"
	"github.com/FynnBe/ilastik/internal/core/ndarray"
	imetrics "github.com/FynnBe/ilastik/internal/infrastructure/metrics"
)

const (
	DefaultBlockSize   = 64
	DefaultCacheBudget = int64(256 << 20)
)

// CacheConfig holds cache configuration
type CacheConfig struct {
	BudgetBytes int64 // Byte budget of cached blocks, defaults to DefaultCacheBudget
	BlockSize   int   // Block edge along spatial axes, defaults to DefaultBlockSize
}

// OpBlockedArrayCache caches its Input in blocks.
//
// Requests are split into blocks; cached blocks are served from memory and
// missing ones are fetched in parallel, each at most once at a time. Dirty
// regions drop only the blocks they touch. While FreezeCache is true the
// cache serves what it holds, fills blocks it never computed with zeros and
// records incoming dirtiness, which is applied when the cache is unfrozen.
type OpBlockedArrayCache struct {
	graph.OperatorBase
	Input       *graph.Slot
	BlockShape  *graph.Slot // optional []int, one entry per axis
	FreezeCache *graph.Slot
	Output      *graph.Slot

	cfg   CacheConfig
	lru   *blockLRU
	group singleflight.Group

	mu         sync.Mutex
	meta       graph.Meta
	blockShape []int
	frozen     bool
	pending    []graph.Roi
	epochs     map[string]uint64
}

// CacheStats describes the cache contents.
type CacheStats struct {
	Blocks  int
	Bytes   int64
	Pending int
	Frozen  bool
}

// NewOpBlockedArrayCache creates a cache in owner.
func NewOpBlockedArrayCache(owner graph.Owner, name string, cfg CacheConfig) *OpBlockedArrayCache {
	if cfg.BudgetBytes <= 0 {
		cfg.BudgetBytes = DefaultCacheBudget
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = DefaultBlockSize
	}
	op := &OpBlockedArrayCache{cfg: cfg, epochs: map[string]uint64{}}
	op.InitIn(owner, name, op)
	op.Input = op.AddInput("Input")
	op.BlockShape = op.AddInput("BlockShape", graph.Optional())
	op.FreezeCache = op.AddInput("FreezeCache", graph.WithDefault(false))
	op.Output = op.AddOutput("Output")
	op.lru = newBlockLRU(op.Name(), cfg.BudgetBytes)
	return op
}

func (o *OpBlockedArrayCache) SetupOutputs() error {
	meta := o.Input.Meta()
	if !meta.IsArray() {
		return fmt.Errorf("%w: %s", graph.ErrNotArray, o.Input.FullName())
	}
	bs := o.defaultBlockShape(meta)
	if v, ok := graph.ValueAs[[]int](o.BlockShape); ok {
		if len(v) != len(meta.Shape) {
			return fmt.Errorf("block shape %v does not match rank of %v", v, meta.Shape)
		}
		bs = slices.Clone(v)
	}
	frozen, _ := graph.ValueAs[bool](o.FreezeCache)

	o.mu.Lock()
	reset := o.meta.Axes != meta.Axes || !slices.Equal(o.meta.Shape, meta.Shape) || !slices.Equal(o.blockShape, bs)
	o.meta = meta.Clone()
	o.blockShape = bs
	o.frozen = frozen
	if reset {
		o.pending = nil
		o.epochs = map[string]uint64{}
	}
	o.mu.Unlock()
	if reset {
		o.lru.clear()
	}
	return o.Output.SetMeta(meta)
}

func (o *OpBlockedArrayCache) defaultBlockShape(m graph.Meta) []int {
	bs := make([]int, len(m.Shape))
	for i, r := range m.Axes {
		switch r {
		case 'c':
			bs[i] = m.Shape[i]
		case 't':
			bs[i] = 1
		default:
			bs[i] = min(o.cfg.BlockSize, m.Shape[i])
		}
	}
	return bs
}

func (o *OpBlockedArrayCache) Execute(ctx context.Context, _ *graph.Slot, roi graph.Roi) (*ndarray.Array, error) {
	o.mu.Lock()
	meta, bs, frozen := o.meta, o.blockShape, o.frozen
	o.mu.Unlock()

	out, err := ndarray.New(meta.Axes, roi.Shape()...)
	if err != nil {
		return nil, err
	}
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(o.Graph().MaxWorkers())
	for _, b := range graph.Blocks(roi, bs, meta.Shape) {
		eg.Go(func() error {
			data, err := o.block(ectx, b, frozen)
			if err != nil || data == nil {
				return err
			}
			part, _ := b.Intersect(roi)
			local := part.Translate(b.Start)
			sub, err := data.Sub(local.Start, local.Stop)
			if err != nil {
				return err
			}
			return out.Paste(part.Translate(roi.Start).Start, sub)
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// block returns the data of block b, or nil for a block a frozen cache
// never computed.
func (o *OpBlockedArrayCache) block(ctx context.Context, b graph.Roi, frozen bool) (*ndarray.Array, error) {
	key := b.String()
	if a, ok := o.lru.get(key); ok {
		imetrics.CacheHit(o.Name())
		return a, nil
	}
	if frozen {
		return nil, nil
	}
	imetrics.CacheMiss(o.Name())

	// The fetch is shared by every caller of the block and outlives the
	// caller that started it. Each caller stops waiting on its own context.
	epoch := o.epoch(key)
	flight := key + "@" + strconv.FormatUint(epoch, 10)
	fetchCtx := context.WithoutCancel(ctx)
	ch := o.group.DoChan(flight, func() (any, error) {
		a, err := o.Input.Get(b).Wait(fetchCtx)
		if err != nil {
			return nil, err
		}
		if o.epoch(key) == epoch {
			o.lru.put(key, b, a)
		}
		return a, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			if errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded) {
				o.group.Forget(flight)
			}
			return nil, res.Err
		}
		return res.Val.(*ndarray.Array), nil
	}
}

func (o *OpBlockedArrayCache) epoch(key string) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.epochs[key]
}

func (o *OpBlockedArrayCache) PropagateDirty(slot *graph.Slot, roi graph.Roi) {
	switch slot {
	case o.Input:
		o.mu.Lock()
		if !o.meta.IsArray() {
			o.mu.Unlock()
			return
		}
		roi = roi.Resolve(o.meta.Shape)
		if o.frozen {
			o.pending = append(o.pending, roi)
			o.mu.Unlock()
			o.Logger().Debug().Stringer("roi", roi).Msg("dirty region deferred while frozen")
			return
		}
		o.mu.Unlock()
		o.invalidate(roi)
		o.Output.SetDirty(roi)
	case o.FreezeCache:
		o.mu.Lock()
		if o.frozen {
			o.mu.Unlock()
			return
		}
		pending := o.pending
		o.pending = nil
		o.mu.Unlock()
		for _, r := range pending {
			o.invalidate(r)
			o.Output.SetDirty(r)
		}
	default:
		o.Output.SetDirty(graph.Roi{})
	}
}

// invalidate drops the cached blocks touching roi and makes running fetches
// of those blocks discard their result.
func (o *OpBlockedArrayCache) invalidate(roi graph.Roi) {
	o.mu.Lock()
	for _, b := range graph.Blocks(roi, o.blockShape, o.meta.Shape) {
		o.epochs[b.String()]++
	}
	o.mu.Unlock()
	n := o.lru.removeIf(func(b graph.Roi) bool {
		_, hit := b.Intersect(roi)
		return hit
	})
	if n > 0 {
		o.Logger().Debug().Int("blocks", n).Stringer("roi", roi).Msg("cache blocks invalidated")
	}
}

// Clear drops every cached block.
func (o *OpBlockedArrayCache) Clear() {
	o.mu.Lock()
	for k := range o.epochs {
		o.epochs[k]++
	}
	o.mu.Unlock()
	o.lru.clear()
}

// Stats reports the cache contents.
func (o *OpBlockedArrayCache) Stats() CacheStats {
	blocks, bytes := o.lru.stats()
	o.mu.Lock()
	defer o.mu.Unlock()
	return CacheStats{Blocks: blocks, Bytes: bytes, Pending: len(o.pending), Frozen: o.frozen}
}
