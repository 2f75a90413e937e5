package metrics

import (
	"encoding/json"
	"net/http"
)

// Serve starts a minimal HTTP listener exposing the metrics snapshot as
// JSON at /metrics. Returns the *http.Server so the caller can Shutdown it
// on graceful exit. No router library is pulled in for one route.
func Serve(addr string, m *Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(m.Snapshot())
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		_ = srv.ListenAndServe()
	}()
	return srv
}
