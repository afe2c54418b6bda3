package statusclient

import (
	"time"

	"go.mau.fi/util/jsontime"
)

// LinkStats are one link's traffic counters.
type LinkStats struct {
	Received   uint64 `json:"received"`
	Sent       uint64 `json:"sent"`
	Errors     uint64 `json:"errors"`
	Duplicates uint64 `json:"duplicates"`
}

// TrackerStats describe the deduplication tracker.
type TrackerStats struct {
	TotalSeen        uint64 `json:"total_seen"`
	TotalForwarded   uint64 `json:"total_forwarded"`
	CurrentlyTracked int    `json:"currently_tracked"`
}

// Statistics is the bridge-wide counter set.
type Statistics struct {
	LinkA   LinkStats    `json:"linkA"`
	LinkB   LinkStats    `json:"linkB"`
	Tracker TrackerStats `json:"tracker"`
}

// LinkReport is one link's slice of a status snapshot.
type LinkReport struct {
	Port           string `json:"port"`
	State          string `json:"state"`
	NodeID         string `json:"node_id,omitempty"`
	HealthFailures int    `json:"health_failures"`
	LastError      string `json:"last_error,omitempty"`
}

// Snapshot mirrors the daemon's /api/v1/status response.
type Snapshot struct {
	RunID          string                `json:"run_id"`
	Running        bool                  `json:"running"`
	LinksConnected bool                  `json:"links_connected"`
	UptimeSeconds  int64                 `json:"uptime_seconds"`
	Stats          Statistics            `json:"stats"`
	HealthFailures map[string]int        `json:"health_failures"`
	Timestamp      jsontime.Unix         `json:"timestamp"`
	Ports          map[string]string     `json:"ports"`
	Links          map[string]LinkReport `json:"links"`
}

// HealthResponse mirrors /api/v1/health.
type HealthResponse struct {
	Status         string `json:"status"`
	Running        bool   `json:"running"`
	LinksConnected bool   `json:"links_connected"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
}

// RecentMessage is one entry of /api/v1/recent.
type RecentMessage struct {
	ID        uint32    `json:"id"`
	Link      string    `json:"link"`
	Summary   string    `json:"summary"`
	SeenAt    time.Time `json:"seen_at"`
	Forwarded bool      `json:"forwarded"`
}

// RecentResponse mirrors /api/v1/recent.
type RecentResponse struct {
	Messages []RecentMessage `json:"messages"`
}

// ErrorResponse is the daemon's JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
