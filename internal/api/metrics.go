package api

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/AaronLay10/VisorEngine/internal/events"
	"github.com/AaronLay10/VisorEngine/internal/version"
)

// metricsHandler returns Prometheus-compatible metrics in text format.
func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}
	labels := fmt.Sprintf(`instance="%s",version="%s"`, hostname, version.Version)

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	m := metricWriter{w: w, labels: labels}

	m.write("visor_uptime_seconds", "gauge", "Seconds since the engine started", time.Since(s.started).Seconds())
	m.write("visor_events_total", "counter", "Events emitted since startup", events.TotalCount())
	m.write("visor_ws_clients", "gauge", "Active WebSocket subscribers", events.SubscriberCount())
	m.write("visor_archive_dropped_total", "counter", "Events not archived because the archive queue was full", events.SinkDroppedCount())
	m.write("visor_ws_dropped_total", "counter", "Events not delivered to a lagging subscriber", events.DroppedCount())

	if s.src.MQTTConnected != nil {
		m.write("visor_mqtt_connected", "gauge", "Whether the MQTT broker is connected (1) or not (0)", boolGauge(s.src.MQTTConnected()))
	}

	if s.src.Reactor != nil {
		st := s.src.Reactor.Stats()
		m.write("visor_reactor_ticks_total", "counter", "Periodic reactor ticks", st.Ticks)
		m.write("visor_rule_passes_total", "counter", "Rule evaluation passes", st.Passes)
		m.write("visor_rule_matches_total", "counter", "Passes that selected a rule", st.Matches)
		m.write("visor_rule_cooldown_skips_total", "counter", "Trigger passes skipped by cooldown", st.Skipped)
		m.write("visor_rule_deferred_total", "counter", "Trigger passes held for a future-dated fact", st.Deferred)
	}

	if s.src.Engine != nil {
		p := s.src.Engine.Progress()
		m.write("visor_graph_running", "gauge", "Whether an operation graph run is active (1) or not (0)", boolGauge(p.Running))
		m.write("visor_graph_rounds", "gauge", "Rounds executed in the current or last run", p.Rounds)
	}

	if s.src.Store != nil {
		snap := s.src.Store.Snapshot(s.src.Store.Now())
		m.write("visor_facts_live", "gauge", "Facts live in the store", len(snap.Names()))
	}
}

type metricWriter struct {
	w      io.Writer
	labels string
}

func (m metricWriter) write(name, mtype, help string, value interface{}) {
	fmt.Fprintf(m.w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(m.w, "# TYPE %s %s\n", name, mtype)
	fmt.Fprintf(m.w, "%s{%s} %v\n", name, m.labels, value)
}

func boolGauge(b bool) int {
	if b {
		return 1
	}
	return 0
}
