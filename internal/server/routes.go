package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route - live job progress
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Scrape jobs
	mux.HandleFunc("/api/scrape", s.app.JobHandler.StartJobHandler) // POST - start a scrape job
	mux.HandleFunc("/api/scrape/jobs/", s.handleJobRoutes)          // GET/POST /{id} and subpaths

	// API routes - Placement search
	mux.HandleFunc("/api/search", s.app.SearchHandler.SearchHandler) // POST - ranked university search

	// API routes - Cache administration
	mux.HandleFunc("/api/cache/stats", s.app.CacheHandler.StatsHandler) // GET - entry counts
	mux.HandleFunc("/api/cache", s.app.CacheHandler.ClearHandler)       // DELETE - clear everything
	mux.HandleFunc("/api/cache/", s.app.CacheHandler.ClearHandler)      // DELETE /{class}

	// API routes - System
	mux.HandleFunc("/api/status", s.app.StatusHandler.StatusHandler)
	mux.HandleFunc("/api/version", s.app.StatusHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.StatusHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.notFoundHandler)

	return mux
}

// handleJobRoutes routes /api/scrape/jobs/... requests
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	// POST /api/scrape/jobs/force-cancel-stale
	if path == "/api/scrape/jobs/force-cancel-stale" {
		s.app.JobHandler.ForceCancelStaleHandler(w, r)
		return
	}

	// GET /api/scrape/jobs/latest
	if path == "/api/scrape/jobs/latest" {
		s.app.JobHandler.GetLatestJobHandler(w, r)
		return
	}

	// POST /api/scrape/jobs/{id}/cancel
	if strings.HasSuffix(path, "/cancel") {
		s.app.JobHandler.CancelJobHandler(w, r)
		return
	}

	// GET /api/scrape/jobs/{id}
	if r.Method == http.MethodGet {
		s.app.JobHandler.GetJobHandler(w, r)
		return
	}

	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "Not found", http.StatusNotFound)
}
