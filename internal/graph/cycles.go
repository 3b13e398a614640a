package graph

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/opensource-finance/ringwatch/internal/domain"
)

// Cycle is a closed transfer loop in canonical form: it starts at its
// smallest member and follows edge direction.
type Cycle []string

// Pattern returns the ring pattern for the cycle length.
func (c Cycle) Pattern() domain.Pattern {
	p, _ := domain.CyclePattern(len(c))
	return p
}

// CycleResult is the output of a cycle search.
type CycleResult struct {
	Cycles []Cycle

	// Truncated is set when a cap or cancellation stopped the search early.
	Truncated bool
}

// CycleDetector enumerates simple directed cycles of bounded length.
type CycleDetector struct {
	MinLength int
	MaxLength int

	// MaxCycles caps accepted cycles per run.
	MaxCycles int

	// MaxSteps caps path extensions per start node.
	MaxSteps int

	// Workers bounds the number of start nodes searched concurrently.
	Workers int
}

// NewCycleDetector creates a detector from detection settings.
func NewCycleDetector(cfg domain.DetectionConfig) *CycleDetector {
	d := &CycleDetector{
		MinLength: cfg.MinCycleLength,
		MaxLength: cfg.MaxCycleLength,
		MaxCycles: cfg.MaxCycles,
		MaxSteps:  cfg.MaxSearchSteps,
		Workers:   cfg.Workers,
	}
	if d.MinLength < 3 {
		d.MinLength = 3
	}
	if d.MaxLength < d.MinLength {
		d.MaxLength = d.MinLength
	}
	if d.Workers <= 0 {
		d.Workers = 1
	}
	return d
}

// Detect returns every canonical cycle with MinLength..MaxLength members.
// Start nodes are searched in parallel; results are merged in ascending
// start-node order and cut at MaxCycles, so the kept cycles do not depend
// on scheduling.
func (d *CycleDetector) Detect(ctx context.Context, g *Graph) CycleResult {
	// A node without both an incoming and an outgoing edge cannot close a loop.
	active := make(map[string]bool)
	var starts []string
	for _, n := range g.Nodes() {
		if g.InDegree(n) > 0 && g.OutDegree(n) > 0 {
			active[n] = true
			starts = append(starts, n)
		}
	}

	perStart := make([][]Cycle, len(starts))
	truncatedAt := make([]bool, len(starts))
	cut := newPrefixCut(len(starts), d.MaxCycles)
	var cancelled atomic.Bool
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, d.Workers)

	for i, start := range starts {
		if cut.skip(i) {
			break
		}
		if ctx.Err() != nil {
			cancelled.Store(true)
			break
		}

		wg.Add(1)
		go func(idx int, s string) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			if cut.skip(idx) {
				return
			}
			cycles, trunc := d.searchFrom(ctx, g, s, active)
			perStart[idx] = cycles
			truncatedAt[idx] = trunc
			if ctx.Err() != nil {
				cancelled.Store(true)
			}
			cut.done(idx, len(cycles))
		}(i, start)
	}

	wg.Wait()

	result := CycleResult{Truncated: cancelled.Load()}
	for i, cycles := range perStart {
		if cut.skip(i) {
			result.Truncated = true
			break
		}
		if truncatedAt[i] {
			result.Truncated = true
		}
		result.Cycles = append(result.Cycles, cycles...)
	}
	if d.MaxCycles > 0 && len(result.Cycles) > d.MaxCycles {
		result.Cycles = result.Cycles[:d.MaxCycles]
		result.Truncated = true
	}
	return result
}

// prefixCut tracks how many cycles the completed prefix of start nodes has
// produced. Once that prefix holds maxCycles, every later start is skipped.
type prefixCut struct {
	maxCycles int

	mu       sync.Mutex
	finished []bool
	counts   []int
	next     int // first start not yet folded into total
	total    int
	limit    atomic.Int64 // starts with a greater index are skipped
}

func newPrefixCut(n, maxCycles int) *prefixCut {
	c := &prefixCut{maxCycles: maxCycles, finished: make([]bool, n), counts: make([]int, n)}
	c.limit.Store(int64(n))
	return c
}

func (c *prefixCut) skip(idx int) bool {
	return int64(idx) > c.limit.Load()
}

func (c *prefixCut) done(idx, found int) {
	if c.maxCycles <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.finished[idx] = true
	c.counts[idx] = found
	if c.total >= c.maxCycles {
		return
	}
	for c.next < len(c.finished) && c.finished[c.next] {
		c.total += c.counts[c.next]
		if c.total >= c.maxCycles {
			c.limit.Store(int64(c.next))
			return
		}
		c.next++
	}
}

type frame struct {
	node string
	next int // index of the next successor to try
}

// searchFrom runs a depth-bounded DFS from start with an explicit stack.
// Only successors greater than start are entered, so each cycle is found
// exactly once: from its smallest member.
func (d *CycleDetector) searchFrom(ctx context.Context, g *Graph, start string, active map[string]bool) ([]Cycle, bool) {
	var cycles []Cycle
	path := []string{start}
	onPath := map[string]bool{start: true}
	stack := []frame{{node: start}}
	steps := 0

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		succ := g.Successors(top.node)

		if top.next >= len(succ) {
			stack = stack[:len(stack)-1]
			delete(onPath, path[len(path)-1])
			path = path[:len(path)-1]
			continue
		}

		next := succ[top.next]
		top.next++

		if next == start {
			if len(path) >= d.MinLength {
				cycles = append(cycles, append(Cycle(nil), path...))
				// One start never needs more than the whole cap.
				if d.MaxCycles > 0 && len(cycles) >= d.MaxCycles {
					return cycles, true
				}
			}
			continue
		}

		if next < start || onPath[next] || !active[next] || len(path) >= d.MaxLength {
			continue
		}

		steps++
		if d.MaxSteps > 0 && steps > d.MaxSteps {
			return cycles, true
		}
		if steps%1024 == 0 && ctx.Err() != nil {
			return cycles, true
		}

		path = append(path, next)
		onPath[next] = true
		stack = append(stack, frame{node: next})
	}

	return cycles, false
}
