package bridge

import (
	"go.mau.fi/util/jsontime"

	"github.com/IceNet-01/meshtastic-bridge-headless/internal/dedup"
)

// LinkStats are one link's traffic counters. All fields are monotonic
// for the process lifetime.
type LinkStats struct {
	// Received counts fresh (non-duplicate) messages accepted from
	// this link.
	Received uint64 `json:"received"`
	// Sent counts messages successfully forwarded out on this link.
	Sent uint64 `json:"sent"`
	// Errors counts failed forwards out on this link plus malformed
	// inbound messages dropped from it.
	Errors uint64 `json:"errors"`
	// Duplicates counts inbound messages suppressed by the dedup
	// tracker, attributed to the link they arrived on.
	Duplicates uint64 `json:"duplicates"`
}

// Statistics is the engine-wide counter snapshot handed to the status
// reporter. It is a copy; mutating it has no effect on the engine.
type Statistics struct {
	LinkA   LinkStats   `json:"linkA"`
	LinkB   LinkStats   `json:"linkB"`
	Tracker dedup.Stats `json:"tracker"`
}

// LinkReport is one link's slice of a status snapshot.
type LinkReport struct {
	Port           string `json:"port"`
	State          string `json:"state"`
	NodeID         string `json:"node_id,omitempty"`
	HealthFailures int    `json:"health_failures"`
	LastError      string `json:"last_error,omitempty"`
}

// Snapshot is the periodic status object handed to sinks and served by
// the status API. It always reflects current truth, including degraded
// states, so an observer can tell "one link dead" from full outage.
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
