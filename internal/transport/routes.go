package transport

import (
	"net/http"
	"strings"
)

// NewServer builds the full HTTP(+WS) surface for t (spec.md §6): the
// JSON endpoints under /api, the WebSocket event relay under /ws, all
// wrapped in CORS and h2c, listening on addr.
func NewServer(addr string, t *Transport) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/chat/process", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		t.handleProcess(w, r)
	})
	mux.HandleFunc("/api/order/confirm", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		t.handleConfirm(w, r)
	})
	mux.HandleFunc("/api/cancel", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		t.handleCancel(w, r)
	})
	mux.HandleFunc("/api/order/otp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		t.handleOTP(w, r)
	})
	mux.HandleFunc("/api/session/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/api/session/")
		t.handleSession(w, r, id)
	})
	mux.HandleFunc("/ws/events/", t.handleEvents)

	return New(addr, cors(mux))
}
