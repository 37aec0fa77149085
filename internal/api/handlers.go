package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BTreeMap/GreetPipe/internal/models"
	"github.com/BTreeMap/GreetPipe/internal/store"
)

// MaxConversationLimit caps the limit query parameter.
const MaxConversationLimit = 500

// allowGet rejects anything but GET and reports whether the handler should continue.
func allowGet(w http.ResponseWriter, r *http.Request, handler string) bool {
	if r.Method == http.MethodGet {
		return true
	}
	w.Header().Set("Allow", http.MethodGet)
	slog.Warn("Server."+handler+": method not allowed", "method", r.Method)
	w.WriteHeader(http.StatusMethodNotAllowed)
	return false
}

// healthHandler provides a health check endpoint for monitoring
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r, "healthHandler") {
		return
	}
	status := s.status.Status()
	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"connected": status.Connected,
	}
	statusCode := http.StatusOK
	if !status.Connected {
		healthData["status"] = "degraded"
		statusCode = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, statusCode, healthData)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r, "statusHandler") {
		return
	}
	status := s.status.Status()
	slog.Debug("Server.statusHandler: snapshot served", "state", status.State, "partner", status.Partner)
	writeJSONResponse(w, http.StatusOK, models.Success(status))
}

func (s *Server) conversationsHandler(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r, "conversationsHandler") {
		return
	}
	limit := store.DefaultConversationLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			slog.Warn("Server.conversationsHandler: invalid limit", "limit", raw)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("limit must be a positive integer"))
			return
		}
		if n > MaxConversationLimit {
			n = MaxConversationLimit
		}
		limit = n
	}
	records, err := s.st.ListConversations(limit)
	if err != nil {
		slog.Error("Server.conversationsHandler: failed to list conversations", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch conversations"))
		return
	}
	if records == nil {
		records = []models.ConversationRecord{}
	}
	slog.Debug("Server.conversationsHandler: conversations fetched", "count", len(records), "limit", limit)
	writeJSONResponse(w, http.StatusOK, models.Success(records))
}

func (s *Server) receiptsHandler(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r, "receiptsHandler") {
		return
	}
	receipts, err := s.st.GetReceipts()
	if err != nil {
		slog.Error("Server.receiptsHandler: failed to fetch receipts", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch receipts"))
		return
	}
	if receipts == nil {
		receipts = []models.Receipt{}
	}
	slog.Debug("Server.receiptsHandler: receipts fetched", "count", len(receipts))
	writeJSONResponse(w, http.StatusOK, models.Success(receipts))
}
