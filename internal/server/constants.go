package server

import "time"

// Server configuration constants
const (
	// Per-IP limit on job submissions (multiple connections share the budget)
	IPRateLimitRequests        = 10               // Max submissions per IP per window
	IPRateLimitWindow          = time.Minute      // Sliding window duration
	IPRateLimitCleanupInterval = 5 * time.Minute  // How often to purge stale IP entries
	IPRateLimitEntryTTL        = 10 * time.Minute // TTL for inactive IP entries

	// Uploads larger than this are rejected
	MaxUploadBytes = 4 << 30
	// Multipart data kept in memory before spilling to disk
	MaxUploadMemory = 32 << 20

	// Time allowed for one websocket event write
	WriteTimeout = 5 * time.Second
)
