package graph

import (
	"context"

	"github.com/opensource-finance/ringwatch/internal/domain"
)

// ShellChain is a 4-hop path pred -> shell1 -> shell2 -> succ whose two
// middle accounts have very little activity.
type ShellChain [4]string

// Members returns the chain as a slice, in flow order.
func (c ShellChain) Members() []string {
	return []string{c[0], c[1], c[2], c[3]}
}

// ShellResult is the output of a shell-chain search.
type ShellResult struct {
	Chains    []ShellChain
	Truncated bool
}

// ShellDetector finds pass-through chains through low-degree accounts.
type ShellDetector struct {
	MinDegree int
	MaxDegree int

	// MaxChains caps emitted chains per run.
	MaxChains int
}

// NewShellDetector creates a detector from detection settings.
func NewShellDetector(cfg domain.DetectionConfig) *ShellDetector {
	return &ShellDetector{
		MinDegree: cfg.ShellMinDegree,
		MaxDegree: cfg.ShellMaxDegree,
		MaxChains: cfg.MaxShellChains,
	}
}

// Detect emits every chain [p, n, s1, s2] where n and s1 are shell
// candidates. Overlapping chains are all kept; they are evidence, not a
// partition. Nodes, predecessors and successors are walked in ascending
// order, so the chain order is deterministic.
func (d *ShellDetector) Detect(ctx context.Context, g *Graph) ShellResult {
	candidate := make(map[string]bool)
	for _, n := range g.Nodes() {
		if d.isCandidate(g, n) {
			candidate[n] = true
		}
	}

	var result ShellResult
	for _, n := range g.Nodes() {
		if !candidate[n] {
			continue
		}
		if ctx.Err() != nil {
			result.Truncated = true
			return result
		}

		// Self-loops keep a node at degree 3, so members can repeat.
		for _, p := range g.Predecessors(n) {
			if p == n {
				continue
			}
			for _, s1 := range g.Successors(n) {
				if s1 == p || s1 == n || !candidate[s1] {
					continue
				}
				for _, s2 := range g.Successors(s1) {
					if s2 == p || s2 == n || s2 == s1 {
						continue
					}
					if d.MaxChains > 0 && len(result.Chains) >= d.MaxChains {
						result.Truncated = true
						return result
					}
					result.Chains = append(result.Chains, ShellChain{p, n, s1, s2})
				}
			}
		}
	}

	return result
}

func (d *ShellDetector) isCandidate(g *Graph, n string) bool {
	deg := g.Degree(n)
	return deg >= d.MinDegree && deg <= d.MaxDegree &&
		g.InDegree(n) > 0 && g.OutDegree(n) > 0
}
