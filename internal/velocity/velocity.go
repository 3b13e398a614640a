// Package velocity detects smurfing: accounts that receive from, or send to,
// too many distinct counterparties inside a short time window.
package velocity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opensource-finance/ringwatch/internal/domain"
)

// ErrMalformedTimestamp is returned when a transaction has no usable timestamp.
var ErrMalformedTimestamp = errors.New("malformed transaction timestamp")

// Flags maps an account to the smurfing patterns it was flagged for.
type Flags map[string]domain.PatternSet

// Has reports whether account was flagged for p.
func (f Flags) Has(account string, p domain.Pattern) bool {
	return f[account].Has(p)
}

// Detector scans each account's transactions for fan-in and fan-out bursts.
type Detector struct {
	// Window is the sliding window width. A gap of exactly Window still
	// counts as inside the window.
	Window time.Duration

	// Threshold is exceeded when more than this many distinct counterparties
	// fall into one window.
	Threshold int

	// Workers bounds the number of account groups scanned concurrently.
	Workers int
}

// NewDetector creates a detector from detection settings.
func NewDetector(cfg domain.DetectionConfig) *Detector {
	d := &Detector{
		Window:    cfg.FanWindow,
		Threshold: cfg.FanThreshold,
		Workers:   cfg.Workers,
	}
	if d.Workers <= 0 {
		d.Workers = 1
	}
	return d
}

// event is one transaction as seen from the role account.
type event struct {
	txID         string
	counterparty string
	at           time.Time
}

type direction struct {
	pattern      domain.Pattern
	account      func(domain.Transaction) string
	counterparty func(domain.Transaction) string
}

var directions = []direction{
	{
		pattern:      domain.PatternFanIn,
		account:      func(tx domain.Transaction) string { return tx.ReceiverID },
		counterparty: func(tx domain.Transaction) string { return tx.SenderID },
	},
	{
		pattern:      domain.PatternFanOut,
		account:      func(tx domain.Transaction) string { return tx.SenderID },
		counterparty: func(tx domain.Transaction) string { return tx.ReceiverID },
	},
}

// Detect returns the flagged accounts for both directions.
func (d *Detector) Detect(ctx context.Context, txs []domain.Transaction) (Flags, error) {
	for _, tx := range txs {
		if tx.Timestamp.IsZero() {
			return nil, fmt.Errorf("%w: transaction %s", ErrMalformedTimestamp, tx.ID)
		}
	}

	flags := make(Flags)
	var mu sync.Mutex
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, d.Workers)

	for _, dir := range directions {
		for account, events := range d.group(txs, dir) {
			if ctx.Err() != nil {
				break
			}

			wg.Add(1)
			go func(account string, events []event, p domain.Pattern) {
				defer wg.Done()

				sem <- struct{}{}        // Acquire
				defer func() { <-sem }() // Release

				if !d.burst(events) {
					return
				}
				mu.Lock()
				flags[account] = flags[account].Add(p)
				mu.Unlock()
			}(account, events, dir.pattern)
		}
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("temporal scan cancelled: %w", err)
	}
	return flags, nil
}

// group collects each role account's events. Groups that cannot exceed the
// threshold are dropped before sorting.
func (d *Detector) group(txs []domain.Transaction, dir direction) map[string][]event {
	groups := make(map[string][]event)
	for _, tx := range txs {
		acct := dir.account(tx)
		groups[acct] = append(groups[acct], event{
			txID:         tx.ID,
			counterparty: dir.counterparty(tx),
			at:           tx.Timestamp,
		})
	}
	for acct, events := range groups {
		if len(events) <= d.Threshold {
			delete(groups, acct)
		}
	}
	return groups
}

// burst runs the two-pointer window over events and reports whether any
// window holds more than Threshold distinct counterparties.
func (d *Detector) burst(events []event) bool {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].at.Equal(events[j].at) {
			return events[i].at.Before(events[j].at)
		}
		return events[i].txID < events[j].txID
	})

	counts := make(map[string]int)
	left := 0
	for right, cur := range events {
		counts[cur.counterparty]++

		for left < right && cur.at.Sub(events[left].at) > d.Window {
			cp := events[left].counterparty
			counts[cp]--
			if counts[cp] == 0 {
				delete(counts, cp)
			}
			left++
		}

		if len(counts) > d.Threshold {
			return true
		}
	}
	return false
}
