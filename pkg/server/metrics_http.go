package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// StartMetricsHTTP starts a lightweight HTTP server that exposes /metrics
// in Prometheus text exposition format. It runs in the background and
// shuts down when the server context is cancelled.
//
// Bind address is :5680 by default — configurable via Config.MetricsAddr.
func (s *Server) StartMetricsHTTP() {
	addr := s.cfg.MetricsAddr
	if addr == "" {
		return // metrics endpoint disabled
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("metrics HTTP listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics HTTP error", "err", err)
		}
	}()

	go func() {
		<-s.ctx.Done()
		_ = srv.Close()
	}()
}

// handleMetrics writes all metrics in Prometheus text exposition format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := s.metrics
	uptime := time.Since(m.startTime).Seconds()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Helper for gauge/counter lines.
	// Write errors to http.ResponseWriter are non-actionable; suppress errcheck.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}
	writeFloat := func(name, help, mtype string, value float64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %f\n", name, value)
	}

	writeFloat("hallchat_uptime_seconds", "Server uptime in seconds.", "gauge", uptime)

	write("hallchat_connections_active", "Current active connections.", "gauge",
		m.ActiveConnections.Load())
	write("hallchat_connections_total", "Lifetime TCP connections accepted.", "counter",
		m.TotalConnections.Load())
	write("hallchat_connections_rejected_total", "Connections turned away at the cap.", "counter",
		m.RejectedAtCap.Load())
	write("hallchat_disconnects_total", "Total client disconnects.", "counter",
		m.TotalDisconnects.Load())

	write("hallchat_signups_total", "Successful account registrations.", "counter",
		m.Signups.Load())
	write("hallchat_auth_success_total", "Successful login attempts.", "counter",
		m.SuccessfulAuths.Load())
	write("hallchat_auth_failed_total", "Failed login attempts.", "counter",
		m.FailedAuths.Load())

	write("hallchat_chat_messages_total", "Total chat messages relayed.", "counter",
		m.ChatMessages.Load())

	write("hallchat_rooms_created_total", "Private rooms created.", "counter",
		m.RoomsCreated.Load())
	write("hallchat_rooms_deleted_total", "Private rooms deleted.", "counter",
		m.RoomsDeleted.Load())

	write("hallchat_invites_sent_total", "Individual invitations delivered.", "counter",
		m.InvitesSent.Load())
	write("hallchat_invite_accepts_total", "Invitation YES responses.", "counter",
		m.InviteAccepts.Load())
	write("hallchat_invite_rejects_total", "Invitation NO responses, explicit and implicit.", "counter",
		m.InviteRejects.Load())
	write("hallchat_invites_abandoned_total", "Invitations whose inviter disappeared.", "counter",
		m.InvitesAbandoned.Load())
}
