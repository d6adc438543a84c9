package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections  atomic.Int64 // lifetime TCP connections accepted
	ActiveConnections atomic.Int64 // current active connections
	RejectedAtCap     atomic.Int64 // connections turned away at the cap
	TotalDisconnects  atomic.Int64 // total client disconnects (clean + unclean)

	// Account counters
	Signups         atomic.Int64 // successful account registrations
	SuccessfulAuths atomic.Int64 // successful login attempts
	FailedAuths     atomic.Int64 // failed login attempts

	// Chat counters
	ChatMessages atomic.Int64 // total chat messages relayed

	// Room counters
	RoomsCreated atomic.Int64 // private rooms created during this run
	RoomsDeleted atomic.Int64 // private rooms deleted during this run

	// Invite counters
	InvitesSent      atomic.Int64 // individual invitations delivered
	InviteAccepts    atomic.Int64 // YES responses recorded
	InviteRejects    atomic.Int64 // NO responses recorded (explicit + implicit)
	InvitesAbandoned atomic.Int64 // invitations whose inviter disappeared
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics as a serializable struct.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveConnections int64 `json:"active_connections"`
	TotalConnections  int64 `json:"total_connections"`
	RejectedAtCap     int64 `json:"rejected_at_cap"`
	TotalDisconnects  int64 `json:"total_disconnects"`

	Signups         int64 `json:"signups"`
	SuccessfulAuths int64 `json:"successful_auths"`
	FailedAuths     int64 `json:"failed_auths"`

	ChatMessages int64 `json:"chat_messages"`

	RoomsCreated int64 `json:"rooms_created"`
	RoomsDeleted int64 `json:"rooms_deleted"`

	InvitesSent      int64 `json:"invites_sent"`
	InviteAccepts    int64 `json:"invite_accepts"`
	InviteRejects    int64 `json:"invite_rejects"`
	InvitesAbandoned int64 `json:"invites_abandoned"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:            uptime.Truncate(time.Second).String(),
		UptimeSeconds:     int64(uptime.Seconds()),
		ActiveConnections: m.ActiveConnections.Load(),
		TotalConnections:  m.TotalConnections.Load(),
		RejectedAtCap:     m.RejectedAtCap.Load(),
		TotalDisconnects:  m.TotalDisconnects.Load(),
		Signups:           m.Signups.Load(),
		SuccessfulAuths:   m.SuccessfulAuths.Load(),
		FailedAuths:       m.FailedAuths.Load(),
		ChatMessages:      m.ChatMessages.Load(),
		RoomsCreated:      m.RoomsCreated.Load(),
		RoomsDeleted:      m.RoomsDeleted.Load(),
		InvitesSent:       m.InvitesSent.Load(),
		InviteAccepts:     m.InviteAccepts.Load(),
		InviteRejects:     m.InviteRejects.Load(),
		InvitesAbandoned:  m.InvitesAbandoned.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a periodic metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"connections", s.ActiveConnections,
		"total_connections", s.TotalConnections,
		"rejected_at_cap", s.RejectedAtCap,
		"chat_msgs", s.ChatMessages,
		"rooms", s.RoomsCreated-s.RoomsDeleted,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}
