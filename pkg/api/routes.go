package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"stepflow/pkg/auth"
	"stepflow/pkg/store"
)

// RegisterRoutes wires the non-task endpoints on the provided mux.
func RegisterRoutes(mux *http.ServeMux, st store.TaskStore) {
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("stepflow server"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if err := st.Ping(); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

// AuthFuncJWT validates a Bearer token on the request.
func AuthFuncJWT(r *http.Request) bool {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return false
	}
	token := strings.TrimPrefix(h, "Bearer ")
	_, err := auth.Parse(token)
	return err == nil
}

// AuthFuncToken accepts a static bootstrap token, or everything when the
// token is empty (dev mode).
func AuthFuncToken(token string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if token == "" {
			return true
		}
		h := r.Header.Get("Authorization")
		return h == "Bearer "+token
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
