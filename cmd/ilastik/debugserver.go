package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func newDebugServerCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "debug-server",
		Short: "Serve health, expvar, pprof and Prometheus metrics endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = a.cfg.Debug.Addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			log := a.log("ilastik.debug")
			log.Info().Str("addr", ln.Addr().String()).Msg("debug server listening")
			return serveDebug(ctx, ln)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default ILASTIK_DEBUG_ADDR)")
	return cmd
}

func serveDebug(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: newDebugMux(), ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newDebugMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		_, _ = fmt.Fprintln(w, "ilastik debug server. See /healthz, /metrics, /debug/vars, /debug/pprof/")
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, "ok")
	})
	mux.HandleFunc("/metrics", promMetricsHandler)
	mux.Handle("/debug/vars", expvar.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

type metricMeta struct {
	typ, help string
	label     string // empty for scalars
}

var knownMetrics = map[string]metricMeta{
	"ilastik_notifications_sent_total":  {"counter", "Slot notifications delivered", "source"},
	"ilastik_events_queued_total":       {"counter", "Shell events queued", "type"},
	"ilastik_events_dropped_total":      {"counter", "Shell events dropped on a full queue", "type"},
	"ilastik_requests_executed_total":   {"counter", "Slot requests executed", "operator"},
	"ilastik_request_errors_total":      {"counter", "Slot requests that failed", "operator"},
	"ilastik_request_duration_ns_total": {"counter", "Time spent executing slot requests", "operator"},
	"ilastik_setup_outputs_total":       {"counter", "SetupOutputs runs", "operator"},
	"ilastik_dirty_propagated_total":    {"counter", "Dirty notifications propagated", "operator"},
	"ilastik_cache_hits_total":          {"counter", "Block cache hits", "cache"},
	"ilastik_cache_misses_total":        {"counter", "Block cache misses", "cache"},
	"ilastik_cache_evicted_total":       {"counter", "Blocks evicted from caches", "cache"},
	"ilastik_cache_size_bytes":          {"gauge", "Bytes held by block caches", "cache"},
	"ilastik_project_saves_total":       {"counter", "Projects saved", "kind"},
	"ilastik_project_loads_total":       {"counter", "Projects loaded", "kind"},
	"ilastik_operators_registered":      {"gauge", "Operators registered in graphs", ""},
	"ilastik_requests_in_flight":        {"gauge", "Slot requests running", ""},
	"ilastik_warnings_emitted_total":    {"counter", "Warnings emitted", ""},
}

// promMetricsHandler renders the expvar metrics in Prometheus text format.
// Unknown integer vars become untyped gauges.
func promMetricsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	var names []string
	expvar.Do(func(kv expvar.KeyValue) { names = append(names, kv.Key) })
	sort.Strings(names)

	for _, name := range names {
		v := expvar.Get(name)
		m, known := knownMetrics[name]
		if !known {
			if iv, ok := v.(*expvar.Int); ok {
				_, _ = fmt.Fprintf(w, "# TYPE %s gauge\n%s %s\n", name, name, iv.String())
			}
			continue
		}
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, sanitizeHelp(m.help))
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, m.typ)
		mp, isMap := v.(*expvar.Map)
		if m.label == "" || !isMap {
			_, _ = fmt.Fprintf(w, "%s %s\n", name, v.String())
			continue
		}
		var sub []expvar.KeyValue
		mp.Do(func(kv expvar.KeyValue) { sub = append(sub, kv) })
		sort.Slice(sub, func(i, j int) bool { return sub[i].Key < sub[j].Key })
		for _, kv := range sub {
			_, _ = fmt.Fprintf(w, "%s{%s=\"%s\"} %s\n", name, m.label, escapeLabel(kv.Key), kv.Value.String())
		}
	}
}

func sanitizeHelp(s string) string {
	return strings.ReplaceAll(s, "\n", " ")
}

// escapeLabel escapes backslash, double quote and newline.
func escapeLabel(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	return strings.ReplaceAll(s, "\n", "\\n")
}
