package dag

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Engine executes a graph in dependency order.
type Engine struct {
	// MaxParallel limits concurrent nodes per level (0 = unlimited, 1 = sequential).
	MaxParallel int
	// OnStart is called when a node enters RUNNING.
	OnStart func(ctx context.Context, name string)
	// OnFinish is called once per node with its terminal result, including
	// nodes that were skipped.
	OnFinish func(ctx context.Context, nr NodeResult)
}

// Execute runs every node whose dependencies ended SUCCEEDED or PARTIAL.
// A node with a FAILED or SKIPPED dependency is never invoked and ends
// SKIPPED. Nodes that have not started when ctx is done end FAILED.
// The returned error is non-nil only when the graph cannot be ordered.
func (e *Engine) Execute(ctx context.Context, g *Graph, state *State) (*Result, error) {
	start := time.Now()

	levels, err := BuildLevels(g)
	if err != nil {
		return nil, err
	}

	result := &Result{NodeResults: make(map[string]NodeResult, len(g.Nodes))}
	for _, level := range levels {
		var toRun []string
		for _, name := range level {
			result.Order = append(result.Order, name)
			if blocker := e.blockedBy(g, result, name); blocker != "" {
				e.finish(ctx, result, nil, NodeResult{Name: name, Status: StatusSkipped, BlockedBy: blocker})
				continue
			}
			if err := ctx.Err(); err != nil {
				e.finish(ctx, result, nil, NodeResult{Name: name, Status: StatusFailed, Error: err})
				continue
			}
			toRun = append(toRun, name)
		}
		if len(toRun) > 0 {
			e.executeLevel(ctx, g, state, toRun, result)
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

func (e *Engine) blockedBy(g *Graph, result *Result, name string) string {
	for _, dep := range g.Dependencies(name) {
		if !result.NodeResults[dep].Status.Satisfies() {
			return dep
		}
	}
	return ""
}

func (e *Engine) executeLevel(ctx context.Context, g *Graph, state *State, names []string, result *Result) {
	var mu sync.Mutex
	limit := e.concurrency(len(names))
	if limit == 1 {
		// sequential levels run in declaration order
		for _, name := range names {
			e.runOne(ctx, g, state, name, result, &mu)
		}
		return
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, limit)
	for _, name := range names {
		wg.Add(1)
		go func(nodeName string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			e.runOne(ctx, g, state, nodeName, result, &mu)
		}(name)
	}
	wg.Wait()
}

func (e *Engine) runOne(ctx context.Context, g *Graph, state *State, name string, result *Result, mu *sync.Mutex) {
	if err := ctx.Err(); err != nil {
		e.finish(ctx, result, mu, NodeResult{Name: name, Status: StatusFailed, Error: err})
		return
	}
	if e.OnStart != nil {
		e.OnStart(ctx, name)
	}
	e.finish(ctx, result, mu, e.executeNode(ctx, g.Nodes[name], state))
}

func (e *Engine) finish(ctx context.Context, result *Result, mu *sync.Mutex, nr NodeResult) {
	if mu != nil {
		mu.Lock()
		defer mu.Unlock()
	}
	result.NodeResults[nr.Name] = nr
	if e.OnFinish != nil {
		e.OnFinish(ctx, nr)
	}
}

func (e *Engine) executeNode(ctx context.Context, node Node, state *State) (nr NodeResult) {
	start := time.Now()
	nr.Name = node.Name()
	defer func() {
		if r := recover(); r != nil {
			nr.Status = StatusFailed
			nr.Error = fmt.Errorf("dag: node %q panicked: %v", node.Name(), r)
		}
		nr.Duration = time.Since(start)
	}()

	output, err := node.Run(ctx, state)
	nr.Output = output
	switch {
	case err != nil:
		nr.Status = StatusFailed
		nr.Error = err
	case ctx.Err() != nil:
		// a node that returns after cancellation never counts as succeeded
		nr.Status = StatusFailed
		nr.Error = ctx.Err()
	case isPartial(output):
		nr.Status = StatusPartial
	default:
		nr.Status = StatusSucceeded
	}
	return nr
}

func isPartial(output any) bool {
	p, ok := output.(Partial)
	return ok && p.Partial()
}

func (e *Engine) concurrency(levelSize int) int {
	if e.MaxParallel <= 0 || e.MaxParallel > levelSize {
		return levelSize
	}
	return e.MaxParallel
}
