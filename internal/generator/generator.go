// Package generator builds synthetic transaction batches with planted
// muling patterns and returns the ground truth alongside them.
package generator

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/ringwatch/internal/domain"
)

// Config controls the size and mix of a generated batch.
type Config struct {
	// Background accounts and random transfers between them
	Accounts          int
	NoiseTransactions int

	Cycles      int // lengths rotate through 3, 4, 5
	FanInHubs   int
	FanOutHubs  int
	ShellChains int

	// SmurfsPerHub is the number of distinct counterparties of each hub.
	SmurfsPerHub int

	Start time.Time
	Span  time.Duration
}

// DefaultConfig returns a small mixed batch.
func DefaultConfig() Config {
	return Config{
		Accounts:          500,
		NoiseTransactions: 5000,
		Cycles:            6,
		FanInHubs:         3,
		FanOutHubs:        3,
		ShellChains:       3,
		SmurfsPerHub:      12,
		Start:             time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Span:              30 * 24 * time.Hour,
	}
}

// Truth is what was planted.
type Truth struct {
	Cycles      [][]string
	FanInHubs   []string
	FanOutHubs  []string
	ShellChains [][]string
}

// Accounts returns every planted account that a detector should flag, sorted.
// Smurf counterparties are not included; only the hubs are.
func (t Truth) Accounts() []string {
	set := make(map[string]struct{})
	for _, c := range t.Cycles {
		for _, a := range c {
			set[a] = struct{}{}
		}
	}
	for _, c := range t.ShellChains {
		for _, a := range c {
			set[a] = struct{}{}
		}
	}
	for _, a := range t.FanInHubs {
		set[a] = struct{}{}
	}
	for _, a := range t.FanOutHubs {
		set[a] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Batch is a generated set of transactions with its ground truth.
type Batch struct {
	Transactions []domain.Transaction
	Truth        Truth
}

// Generator produces batches from a seeded source. It is not safe for
// concurrent use.
type Generator struct {
	cfg Config
	rng *rand.Rand
	txs []domain.Transaction
}

// New creates a generator. The same seed and config always yield the same
// batch.
func New(seed int64, cfg Config) *Generator {
	if cfg.SmurfsPerHub <= 0 {
		cfg.SmurfsPerHub = 12
	}
	if cfg.Span <= 0 {
		cfg.Span = 30 * 24 * time.Hour
	}
	if cfg.Start.IsZero() {
		cfg.Start = DefaultConfig().Start
	}
	return &Generator{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

// Batch generates one batch.
func (g *Generator) Batch() Batch {
	g.txs = nil
	var truth Truth

	g.noise()

	for i := 0; i < g.cfg.Cycles; i++ {
		n := 3 + i%3
		members := make([]string, n)
		for j := range members {
			members[j] = fmt.Sprintf("RING%03d_%d", i+1, j+1)
		}
		at := g.randomTime()
		for j := range members {
			g.add(members[j], members[(j+1)%n], at.Add(time.Duration(j)*time.Hour))
		}
		truth.Cycles = append(truth.Cycles, members)
	}

	for i := 0; i < g.cfg.FanInHubs; i++ {
		hub := fmt.Sprintf("MULE_IN%03d", i+1)
		at := g.randomTime()
		for j := 0; j < g.cfg.SmurfsPerHub; j++ {
			smurf := fmt.Sprintf("SMURF_IN%03d_%02d", i+1, j+1)
			g.add(smurf, hub, at.Add(time.Duration(g.rng.Intn(3600))*time.Second))
		}
		truth.FanInHubs = append(truth.FanInHubs, hub)
	}

	for i := 0; i < g.cfg.FanOutHubs; i++ {
		hub := fmt.Sprintf("MULE_OUT%03d", i+1)
		at := g.randomTime()
		for j := 0; j < g.cfg.SmurfsPerHub; j++ {
			smurf := fmt.Sprintf("SMURF_OUT%03d_%02d", i+1, j+1)
			g.add(hub, smurf, at.Add(time.Duration(g.rng.Intn(3600))*time.Second))
		}
		truth.FanOutHubs = append(truth.FanOutHubs, hub)
	}

	for i := 0; i < g.cfg.ShellChains; i++ {
		chain := []string{
			fmt.Sprintf("SRC%03d", i+1),
			fmt.Sprintf("SHELL%03d_A", i+1),
			fmt.Sprintf("SHELL%03d_B", i+1),
			fmt.Sprintf("DST%03d", i+1),
		}
		at := g.randomTime()
		for j := 0; j < len(chain)-1; j++ {
			g.add(chain[j], chain[j+1], at.Add(time.Duration(j)*30*time.Minute))
		}
		truth.ShellChains = append(truth.ShellChains, chain)
	}

	g.rng.Shuffle(len(g.txs), func(i, j int) { g.txs[i], g.txs[j] = g.txs[j], g.txs[i] })
	for i := range g.txs {
		g.txs[i].ID = fmt.Sprintf("TX_%07d", i+1)
	}

	return Batch{Transactions: g.txs, Truth: truth}
}

func (g *Generator) noise() {
	if g.cfg.Accounts < 2 {
		return
	}
	for i := 0; i < g.cfg.NoiseTransactions; i++ {
		from := g.rng.Intn(g.cfg.Accounts)
		to := g.rng.Intn(g.cfg.Accounts - 1)
		if to >= from {
			to++
		}
		g.add(fmt.Sprintf("ACC_%05d", from+1), fmt.Sprintf("ACC_%05d", to+1), g.randomTime())
	}
}

func (g *Generator) add(from, to string, at time.Time) {
	cents := decimal.New(int64(1000+g.rng.Intn(499000)), -2)
	amount, _ := cents.Float64()
	g.txs = append(g.txs, domain.Transaction{
		SenderID:   from,
		ReceiverID: to,
		Amount:     amount,
		Timestamp:  at,
	})
}

func (g *Generator) randomTime() time.Time {
	return g.cfg.Start.Add(time.Duration(g.rng.Int63n(int64(g.cfg.Span)))).Truncate(time.Second)
}

// WriteCSV writes a batch in the upload format accepted by POST /analyze.
func WriteCSV(w io.Writer, txs []domain.Transaction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"transaction_id", "sender_id", "receiver_id", "amount", "timestamp"}); err != nil {
		return err
	}
	for _, tx := range txs {
		row := []string{
			tx.ID,
			tx.SenderID,
			tx.ReceiverID,
			decimal.NewFromFloat(tx.Amount).StringFixed(2),
			tx.Timestamp.UTC().Format("2006-01-02 15:04:05"),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write %s: %w", tx.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
