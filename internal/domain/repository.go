// Package domain defines the core interfaces and types for Ringwatch.
package domain

import (
	"context"
	"time"
)

// Repository archives completed analyses and stores alert rules.
// Detection never reads from it; archived reports are an audit trail.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Analysis archive
	SaveAnalysis(ctx context.Context, tenantID string, report *Report) error
	GetAnalysis(ctx context.Context, tenantID string, analysisID string) (*Report, error)
	ListAnalyses(ctx context.Context, tenantID string, limit int) ([]*AnalysisSummary, error)

	// Alert rule configuration
	SaveRuleConfig(ctx context.Context, tenantID string, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context, tenantID string) ([]*RuleConfig, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
