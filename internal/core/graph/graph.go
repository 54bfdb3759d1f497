// Package graph provides the lazy dataflow engine: operators with named
// input and output slots, dirty propagation along slot connections, and
// region requests computed on demand.
package graph

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	imetrics "github.com/FynnBe/ilastik/internal/infrastructure/metrics"
)

// Graph is the shared registry of operators
// PRINCIPLES:
// - KISS: flat registry, connections live on the slots
// - SRP: owns lifecycle, logging and the request worker limit, not execution
type Graph struct {
	ID   string
	Name string

	mu        sync.RWMutex
	operators []Operator
	byName    map[string]Operator
	closed    bool

	log    zerolog.Logger
	sem    chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// Config holds graph configuration
type Config struct {
	Name       string          // Label used in logs
	MaxWorkers int             // Concurrent background requests, defaults to GOMAXPROCS
	Logger     *zerolog.Logger // Defaults to a no-op logger
}

// New creates a graph.
func New(cfg Config) *Graph {
	if cfg.Name == "" {
		cfg.Name = "graph"
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.GOMAXPROCS(0)
	}
	log := nopLogger
	if cfg.Logger != nil {
		log = cfg.Logger.With().Str("graph", cfg.Name).Logger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Graph{
		ID:     uuid.NewString(),
		Name:   cfg.Name,
		byName: make(map[string]Operator),
		log:    log,
		sem:    make(chan struct{}, cfg.MaxWorkers),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Default creates a graph with default settings.
func Default() *Graph {
	return New(Config{})
}

// Logger returns the graph logger.
func (g *Graph) Logger() *zerolog.Logger { return &g.log }

// MaxWorkers is the number of background requests that may run at once.
func (g *Graph) MaxWorkers() int { return cap(g.sem) }

// register adds op under a unique name derived from name.
func (g *Graph) register(name string, op Operator) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	unique := name
	for i := 1; ; i++ {
		if _, taken := g.byName[unique]; !taken {
			break
		}
		unique = fmt.Sprintf("%s#%d", name, i)
	}
	g.byName[unique] = op
	g.operators = append(g.operators, op)
	imetrics.OperatorRegistered()
	return unique
}

func (g *Graph) unregister(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	op, ok := g.byName[name]
	if !ok {
		return
	}
	delete(g.byName, name)
	for i, o := range g.operators {
		if o == op {
			g.operators = append(g.operators[:i:i], g.operators[i+1:]...)
			break
		}
	}
	imetrics.OperatorUnregistered(1)
}

// Operators returns the registered operators in registration order.
func (g *Graph) Operators() []Operator {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]Operator(nil), g.operators...)
}

// Lookup finds an operator by its registered name.
func (g *Graph) Lookup(name string) (Operator, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	op, ok := g.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOperatorNotFound, name)
	}
	return op, nil
}

// Closed reports whether Close was called.
func (g *Graph) Closed() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.closed
}

// Close cancels background requests and cleans up every operator, most
// recently registered first.
func (g *Graph) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	ops := append([]Operator(nil), g.operators...)
	g.mu.Unlock()

	g.cancel()
	for i := len(ops) - 1; i >= 0; i-- {
		if ops[i].Base().Parent() == nil {
			ops[i].Base().Cleanup()
		}
	}
	g.log.Debug().Int("operators", len(ops)).Msg("graph closed")
	return nil
}
