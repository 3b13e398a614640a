package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/ringwatch/internal/domain"
)

func detectShells(t *testing.T, txs []domain.Transaction) ShellResult {
	t.Helper()
	d := NewShellDetector(domain.DefaultDetectionConfig())
	return d.Detect(context.Background(), Build(txs))
}

func TestShellDetector(t *testing.T) {
	t.Run("SingleChain", func(t *testing.T) {
		res := detectShells(t, edges("P>S1", "S1>S2", "S2>X"))

		require.Len(t, res.Chains, 1)
		assert.Equal(t, ShellChain{"P", "S1", "S2", "X"}, res.Chains[0])
		assert.Equal(t, []string{"P", "S1", "S2", "X"}, res.Chains[0].Members())
	})

	t.Run("BusyMiddleNodeRejected", func(t *testing.T) {
		// S1 has degree 4
		res := detectShells(t, edges("P>S1", "S1>S2", "S2>X", "Y>S1", "S1>Z"))
		assert.Empty(t, res.Chains)
	})

	t.Run("DegreeThreeAccepted", func(t *testing.T) {
		res := detectShells(t, edges("P>S1", "S1>S2", "S2>X", "S2>Y"))
		require.Len(t, res.Chains, 2)
		assert.Equal(t, ShellChain{"P", "S1", "S2", "X"}, res.Chains[0])
		assert.Equal(t, ShellChain{"P", "S1", "S2", "Y"}, res.Chains[1])
	})

	t.Run("ParallelEdgesCountTowardDegree", func(t *testing.T) {
		res := detectShells(t, edges("P>S1", "P>S1", "P>S1", "S1>S2", "S2>X"))
		assert.Empty(t, res.Chains)
	})

	t.Run("NoLoopBack", func(t *testing.T) {
		// S2 -> P would close a triangle, not a chain
		res := detectShells(t, edges("P>S1", "S1>S2", "S2>P"))
		assert.Empty(t, res.Chains)
	})

	t.Run("OverlappingChainsKept", func(t *testing.T) {
		// A 4-hop line of shells yields one chain per window
		res := detectShells(t, edges("P>S1", "S1>S2", "S2>S3", "S3>X"))
		require.Len(t, res.Chains, 2)
		assert.Equal(t, ShellChain{"P", "S1", "S2", "S3"}, res.Chains[0])
		assert.Equal(t, ShellChain{"S1", "S2", "S3", "X"}, res.Chains[1])
	})

	t.Run("SelfLoopsNeverRepeatAMember", func(t *testing.T) {
		// A self-loop adds one in and one out edge, so these nodes stay at
		// degree 3 and pass the candidate filter.
		for _, txs := range [][]domain.Transaction{
			edges("S1>S1", "S1>S2", "S2>X"),
			edges("P>S1", "S1>S1"),
			edges("P>S1", "S1>S2", "S2>S2"),
		} {
			assert.Empty(t, detectShells(t, txs).Chains)
		}
	})

	t.Run("SourceAndSinkNotCandidates", func(t *testing.T) {
		res := detectShells(t, edges("A>B", "B>C"))
		assert.Empty(t, res.Chains)
	})
}

func TestShellDetectorCap(t *testing.T) {
	cfg := domain.DefaultDetectionConfig()
	cfg.MaxShellChains = 1

	d := NewShellDetector(cfg)
	res := d.Detect(context.Background(), Build(edges("P>S1", "S1>S2", "S2>X", "S2>Y")))

	assert.Len(t, res.Chains, 1)
	assert.True(t, res.Truncated)
}
