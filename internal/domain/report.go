package domain

import (
	"time"
)

// FraudRing is a group of accounts sharing one structural pattern.
type FraudRing struct {
	RingID         string   `json:"ring_id"`
	MemberAccounts []string `json:"member_accounts"`
	PatternType    Pattern  `json:"pattern_type"`
	RiskScore      float64  `json:"risk_score"`
}

// SuspiciousAccount is the per-account verdict. RingID is empty when the
// account belongs to no ring.
type SuspiciousAccount struct {
	AccountID        string    `json:"account_id"`
	SuspicionScore   float64   `json:"suspicion_score"`
	DetectedPatterns []Pattern `json:"detected_patterns"`
	RingID           string    `json:"ring_id"`
}

// Summary holds the batch-level statistics.
type Summary struct {
	TotalAccountsAnalyzed     int     `json:"total_accounts_analyzed"`
	SuspiciousAccountsFlagged int     `json:"suspicious_accounts_flagged"`
	FraudRingsDetected        int     `json:"fraud_rings_detected"`
	ProcessingTimeSeconds     float64 `json:"processing_time_seconds"`
}

// Report is the complete result of analysing one batch.
type Report struct {
	ID        string    `json:"analysis_id"`
	TenantID  string    `json:"tenant_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	SuspiciousAccounts []SuspiciousAccount `json:"suspicious_accounts"`
	FraudRings         []FraudRing         `json:"fraud_rings"`
	Summary            Summary             `json:"summary"`

	// Alerts raised by alert rules over the flagged accounts.
	Alerts []Alert `json:"alerts,omitempty"`

	Metadata ReportMetadata `json:"metadata"`
}

// ReportMetadata carries processing details that are not part of the verdict.
type ReportMetadata struct {
	TraceID   string `json:"trace_id,omitempty"`
	BatchHash string `json:"batch_hash,omitempty"`
	Cached    bool   `json:"cached,omitempty"`

	TransactionCount int `json:"transaction_count"`
	CyclesFound      int `json:"cycles_found"`
	ShellChainsFound int `json:"shell_chains_found"`

	// Truncated is set when a detector stopped at its enumeration cap.
	Truncated bool `json:"truncated,omitempty"`

	// Warnings lists detectors that failed and contributed nothing.
	Warnings []string `json:"warnings,omitempty"`

	EngineVersion string `json:"engine_version"`
}

// Alert is raised when an alert rule matches a flagged account.
type Alert struct {
	RuleID    string  `json:"rule_id"`
	AccountID string  `json:"account_id"`
	Outcome   string  `json:"outcome"`
	Score     float64 `json:"score"`
	Reason    string  `json:"reason"`
}

// AnalysisSummary is the list view of an archived report.
type AnalysisSummary struct {
	ID        string    `json:"analysis_id"`
	TenantID  string    `json:"tenant_id"`
	CreatedAt time.Time `json:"created_at"`
	Summary   Summary   `json:"summary"`
}

// EngineVersion is stamped into every report.
const EngineVersion = "ringwatch-1.0"
