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
	ServerRequestTimeout  = 30 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerWriteTimeout    = 30 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const CleanupJobInterval = 5 * time.Minute

// Completed or expired handshakes are kept this long before the cleanup job deletes them.
const AuthRequestRetention = time.Hour

// Signed init data older than this is rejected.
const InitDataMaxAge = 24 * time.Hour

// Clients refresh the access token this long before it expires.
const RefreshLeadTime = 5 * time.Minute

// Rate limits
const (
	BotInitiateLimit    = 5
	BotInitiateWindow   = 5 * time.Minute
	AuthIPLimit         = 30
	AuthIPWindow        = time.Minute
	RefreshIPLimit      = 60
	RefreshIPWindow     = time.Minute
	TelegramSendTimeout = 5 * time.Second
)
