// Package scoring turns raw detections into fraud rings, ranked suspicious
// accounts and the batch summary.
package scoring

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/opensource-finance/ringwatch/internal/domain"
	"github.com/opensource-finance/ringwatch/internal/graph"
	"github.com/opensource-finance/ringwatch/internal/velocity"
)

// Score weights.
const (
	RingWeight      = 50.0
	ShellRingWeight = 40.0 // on top of RingWeight
	FanInWeight     = 30.0
	FanOutWeight    = 30.0
	MaxScore        = 100.0
)

// Input is everything the detectors produced for one batch.
type Input struct {
	Accounts map[string]struct{}
	Cycles   []graph.Cycle
	Shells   []graph.ShellChain
	Flags    velocity.Flags
	Elapsed  time.Duration
}

// Output is the scored result.
type Output struct {
	SuspiciousAccounts []domain.SuspiciousAccount
	FraudRings         []domain.FraudRing
	Summary            domain.Summary
}

// CycleRiskScore is the ring score for a cycle with n members.
func CycleRiskScore(n int) float64 {
	return math.Min(MaxScore, 85+2*float64(n))
}

// ShellRiskScore is the ring score for a shell chain with n members.
func ShellRiskScore(n int) float64 {
	return math.Min(MaxScore, 75+3*float64(n))
}

// Aggregate builds rings, scores every account and produces the summary.
func Aggregate(in Input) Output {
	var out Output
	ringOf := make(map[string]*domain.FraudRing)

	// Cycle rings are numbered first, shell rings continue the sequence.
	out.FraudRings = make([]domain.FraudRing, 0, len(in.Cycles)+len(in.Shells))
	for i, c := range in.Cycles {
		out.FraudRings = append(out.FraudRings, domain.FraudRing{
			RingID:         fmt.Sprintf("RING_%03d", i+1),
			MemberAccounts: append([]string(nil), c...),
			PatternType:    c.Pattern(),
			RiskScore:      CycleRiskScore(len(c)),
		})
	}
	for i, s := range in.Shells {
		members := s.Members()
		out.FraudRings = append(out.FraudRings, domain.FraudRing{
			RingID:         fmt.Sprintf("RING_SHELL_%03d", len(in.Cycles)+i+1),
			MemberAccounts: members,
			PatternType:    domain.PatternShellChain,
			RiskScore:      ShellRiskScore(len(members)),
		})
	}

	// Pointers are taken after the slice is complete. Within the cycle
	// phase a later cycle replaces an earlier one; shell rings only fill
	// accounts no cycle claimed, and the first shell ring wins.
	cycleRings := out.FraudRings[:len(in.Cycles)]
	for i := range cycleRings {
		for _, m := range cycleRings[i].MemberAccounts {
			ringOf[m] = &cycleRings[i]
		}
	}
	shellRings := out.FraudRings[len(in.Cycles):]
	for i := range shellRings {
		for _, m := range shellRings[i].MemberAccounts {
			if _, ok := ringOf[m]; !ok {
				ringOf[m] = &shellRings[i]
			}
		}
	}

	out.SuspiciousAccounts = make([]domain.SuspiciousAccount, 0)
	for account := range in.Accounts {
		sa, ok := scoreAccount(account, ringOf[account], in.Flags[account])
		if ok {
			out.SuspiciousAccounts = append(out.SuspiciousAccounts, sa)
		}
	}
	sort.Slice(out.SuspiciousAccounts, func(i, j int) bool {
		a, b := out.SuspiciousAccounts[i], out.SuspiciousAccounts[j]
		if a.SuspicionScore != b.SuspicionScore {
			return a.SuspicionScore > b.SuspicionScore
		}
		return a.AccountID < b.AccountID
	})

	out.Summary = domain.Summary{
		TotalAccountsAnalyzed:     len(in.Accounts),
		SuspiciousAccountsFlagged: len(out.SuspiciousAccounts),
		FraudRingsDetected:        len(out.FraudRings),
		ProcessingTimeSeconds:     RoundSeconds(in.Elapsed),
	}
	return out
}

func scoreAccount(account string, ring *domain.FraudRing, flags domain.PatternSet) (domain.SuspiciousAccount, bool) {
	var (
		set   domain.PatternSet
		score float64
	)

	if ring != nil {
		set = set.Add(ring.PatternType)
		score += RingWeight

		if ring.PatternType.IsShell() {
			score += ShellRingWeight
		}
	}
	if flags.Has(domain.PatternFanIn) {
		set = set.Add(domain.PatternFanIn)
		score += FanInWeight
	}
	if flags.Has(domain.PatternFanOut) {
		set = set.Add(domain.PatternFanOut)
		score += FanOutWeight
	}

	score = math.Max(0, math.Min(MaxScore, score))
	if score <= 0 {
		return domain.SuspiciousAccount{}, false
	}

	sa := domain.SuspiciousAccount{
		AccountID:        account,
		SuspicionScore:   score,
		DetectedPatterns: set.Patterns(),
	}
	if ring != nil {
		sa.RingID = ring.RingID
	}
	return sa, true
}

// RoundSeconds converts d to seconds rounded to 4 decimals.
func RoundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*1e4) / 1e4
}
