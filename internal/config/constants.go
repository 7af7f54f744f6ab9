package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const CleanupJobInterval = 1 * time.Hour

// Per-IP request budget on the public API
const IPRequestsPerMinute = 300

// Durable mirror writes run detached from the triggering request
const DurableWriteTimeout = 5 * time.Second

// Upper bound on closing every live adapter at shutdown
const OrchestratorDrainMax = 20 * time.Second

// Webhook dispatcher
const (
	WebhookQueueSize   = 1024
	WebhookWorkers     = 4
	WebhookBaseBackoff = 500 * time.Millisecond
)
