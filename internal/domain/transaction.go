package domain

import (
	"time"
)

// Transaction is a single transfer between two accounts.
// Accounts are never stored on their own; any value that appears as a
// sender or receiver is an account.
type Transaction struct {
	ID         string    `json:"transaction_id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Amount     float64   `json:"amount"`
	Timestamp  time.Time `json:"timestamp"`
}

// Accounts returns the distinct sender and receiver ids of a batch.
func Accounts(txs []Transaction) map[string]struct{} {
	accounts := make(map[string]struct{}, len(txs))
	for _, tx := range txs {
		accounts[tx.SenderID] = struct{}{}
		accounts[tx.ReceiverID] = struct{}{}
	}
	return accounts
}
