package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route (run lifecycle event stream)
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Runs
	mux.HandleFunc("/api/runs", s.handleRunsRoute)                         // POST - create and enqueue a run
	mux.HandleFunc("/api/runs/update", s.app.RunHandler.UpdateRunHandler)  // POST - worker run update report
	mux.HandleFunc("/api/runs/", s.app.RunHandler.GetRunHandler)           // GET /{id}
	mux.HandleFunc("/api/responses/wait", s.app.RunHandler.WaitResponseHandler) // GET - block until run response

	// API routes - Queue (worker surface)
	mux.HandleFunc("/api/queue/dequeue", s.app.QueueHandler.DequeueHandler) // POST - lease next run message
	mux.HandleFunc("/api/queue/extend", s.app.QueueHandler.ExtendHandler)   // POST - extend a delivery lease
	mux.HandleFunc("/api/queue/stats", s.app.QueueHandler.StatsHandler)     // GET - queue depth counters

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleRunsRoute dispatches the bare /api/runs path by method
func (s *Server) handleRunsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "POST":
		s.app.RunHandler.CreateRunHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
