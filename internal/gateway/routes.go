package gateway

import (
	"log"
	"net/http"
)

// New builds the gateway's HTTP surface. Route patterns use Go 1.22+ mux
// method/wildcard matching, replacing the teacher's plain-prefix routing
// now that the surface needs path parameters.
func New(handler *Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handler.Health)
	mux.HandleFunc("POST /checkpoints", handler.IngestCheckpoint)
	mux.HandleFunc("GET /robots/{robotID}/state", func(w http.ResponseWriter, r *http.Request) {
		handler.RobotState(w, r, r.PathValue("robotID"))
	})
	mux.HandleFunc("GET /checkpoints/{id}/verify", func(w http.ResponseWriter, r *http.Request) {
		handler.VerifyAnchor(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("GET /audit/checkpoints", handler.ListCheckpoints)
	mux.HandleFunc("POST /enclaves/enroll", handler.Enroll)

	return logging(mux)
}

func logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
