// Package ingest parses and validates uploaded transaction batches.
package ingest

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/ringwatch/internal/domain"
)

var (
	// ErrMissingColumns is returned when a CSV header lacks a required column.
	ErrMissingColumns = errors.New("missing required columns")

	// ErrInvalidRow is returned for a record that cannot be coerced.
	ErrInvalidRow = errors.New("invalid transaction row")

	// ErrEmptyBatch is returned when the input holds no transactions.
	ErrEmptyBatch = errors.New("batch contains no transactions")
)

// RequiredColumns lists the CSV header fields a batch must carry.
var RequiredColumns = []string{"transaction_id", "sender_id", "receiver_id", "amount", "timestamp"}

// timestampLayouts are tried in order.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp parses a timestamp in any accepted layout. Values without a
// zone are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// ParseAmount parses a decimal amount exactly and rejects negatives.
func ParseAmount(s string) (float64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("negative amount %s", d.String())
	}
	f, _ := d.Float64()
	return f, nil
}

// ReadCSV reads a batch from CSV. Columns may appear in any order and extra
// columns are ignored.
func ReadCSV(r io.Reader) ([]domain.Transaction, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrEmptyBatch
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		index[name] = i
	}
	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}

	var txs []domain.Transaction
	for row := 2; ; row++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %w", ErrInvalidRow, row, err)
		}

		field := func(col string) string {
			i := index[col]
			if i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		amount, err := ParseAmount(field("amount"))
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrInvalidRow, row, err)
		}
		ts, err := ParseTimestamp(field("timestamp"))
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrInvalidRow, row, err)
		}

		tx := domain.Transaction{
			ID:         field("transaction_id"),
			SenderID:   field("sender_id"),
			ReceiverID: field("receiver_id"),
			Amount:     amount,
			Timestamp:  ts,
		}
		if err := validate(tx); err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrInvalidRow, row, err)
		}
		txs = append(txs, tx)
	}

	if len(txs) == 0 {
		return nil, ErrEmptyBatch
	}
	return txs, nil
}

// record is the JSON wire form of a transaction.
type record struct {
	ID         string          `json:"transaction_id"`
	SenderID   string          `json:"sender_id"`
	ReceiverID string          `json:"receiver_id"`
	Amount     decimal.Decimal `json:"amount"`
	Timestamp  string          `json:"timestamp"`
}

// DecodeJSON reads a batch from either a JSON array of transactions or an
// object of the form {"transactions": [...]}.
func DecodeJSON(r io.Reader) ([]domain.Transaction, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	var records []record
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") {
		var wrapper struct {
			Transactions []record `json:"transactions"`
		}
		if err := json.Unmarshal(raw, &wrapper); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRow, err)
		}
		records = wrapper.Transactions
	} else if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRow, err)
	}

	if len(records) == 0 {
		return nil, ErrEmptyBatch
	}

	txs := make([]domain.Transaction, 0, len(records))
	for i, rec := range records {
		if rec.Amount.IsNegative() {
			return nil, fmt.Errorf("%w: item %d: negative amount %s", ErrInvalidRow, i, rec.Amount.String())
		}
		ts, err := ParseTimestamp(rec.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("%w: item %d: %v", ErrInvalidRow, i, err)
		}
		amount, _ := rec.Amount.Float64()
		tx := domain.Transaction{
			ID:         strings.TrimSpace(rec.ID),
			SenderID:   strings.TrimSpace(rec.SenderID),
			ReceiverID: strings.TrimSpace(rec.ReceiverID),
			Amount:     amount,
			Timestamp:  ts,
		}
		if err := validate(tx); err != nil {
			return nil, fmt.Errorf("%w: item %d: %v", ErrInvalidRow, i, err)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// Validate checks a batch that did not come through ReadCSV or DecodeJSON.
func Validate(txs []domain.Transaction) error {
	if len(txs) == 0 {
		return ErrEmptyBatch
	}
	for i, tx := range txs {
		if err := validate(tx); err != nil {
			return fmt.Errorf("%w: item %d: %v", ErrInvalidRow, i, err)
		}
	}
	return nil
}

func validate(tx domain.Transaction) error {
	switch {
	case tx.ID == "":
		return errors.New("transaction_id is required")
	case tx.SenderID == "":
		return errors.New("sender_id is required")
	case tx.ReceiverID == "":
		return errors.New("receiver_id is required")
	case tx.Amount < 0:
		return errors.New("amount must not be negative")
	case tx.Timestamp.IsZero():
		return errors.New("timestamp is required")
	}
	return nil
}
