package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/bidcheck/bidcheck/internal/models"
	"github.com/bidcheck/bidcheck/internal/types"
	"github.com/bidcheck/bidcheck/pkg/detector"
	"github.com/bidcheck/bidcheck/pkg/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

// Message is the WebSocket envelope for detection progress streaming.
type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

// Store bundles the persistence capabilities the server needs. The
// Postgres store satisfies it; tests substitute fakes.
type Store interface {
	types.ChunkSource
	types.ConflictStore
	types.RunStore
}

// Server exposes the conflict engine over HTTP: synchronous detection,
// conflict listing and lifecycle updates, stats, and a WebSocket
// endpoint that streams detection progress.
type Server struct {
	store       Store
	adjudicator types.Adjudicator
	config      types.DetectionConfig
	router      *mux.Router
}

func New(st Store, adjudicator types.Adjudicator, config types.DetectionConfig) *Server {
	s := &Server{
		store:       st,
		adjudicator: adjudicator,
		config:      config,
		router:      mux.NewRouter(),
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	s.router.HandleFunc("/projects/{projectID}/detect", s.handleDetect).Methods(http.MethodPost)
	s.router.HandleFunc("/projects/{projectID}/conflicts", s.handleListConflicts).Methods(http.MethodGet)
	s.router.HandleFunc("/projects/{projectID}/conflicts/{conflictID}/status", s.handleUpdateStatus).Methods(http.MethodPatch)
	s.router.HandleFunc("/projects/{projectID}/stats", s.handleStats).Methods(http.MethodGet)

	return s
}

func (s *Server) Run(addr string) error {
	log.Printf("Starting conflict engine server on %s", addr)
	return http.ListenAndServe(addr, s)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// newDetector builds a detector per request so each caller can attach
// its own progress callback without racing other runs.
func (s *Server) newDetector() *detector.Detector {
	return detector.NewWithConfig(s.store, s.store, s.store, s.adjudicator, s.config)
}

type detectRequest struct {
	DetectSemantic    *bool    `json:"detectSemantic"`
	DetectNumeric     *bool    `json:"detectNumeric"`
	SemanticThreshold *float64 `json:"semanticThreshold"`
}

func (r detectRequest) options(config types.DetectionConfig) types.DetectionOptions {
	opts := types.DefaultDetectionOptions()
	if config.SemanticThreshold > 0 {
		opts.SemanticThreshold = config.SemanticThreshold
	}
	if r.DetectSemantic != nil {
		opts.DetectSemantic = *r.DetectSemantic
	}
	if r.DetectNumeric != nil {
		opts.DetectNumeric = *r.DetectNumeric
	}
	if r.SemanticThreshold != nil {
		opts.SemanticThreshold = *r.SemanticThreshold
	}
	return opts
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["projectID"]

	// An empty body means default options; anything else must be valid JSON.
	var req detectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %v", err))
		return
	}

	summary, err := s.newDetector().Run(r.Context(), projectID, req.options(s.config))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["projectID"]

	filter := models.ConflictFilter{
		Type:     models.ConflictType(r.URL.Query().Get("type")),
		Severity: models.Severity(r.URL.Query().Get("severity")),
		Status:   models.ConflictStatus(r.URL.Query().Get("status")),
	}

	conflicts, err := s.store.ListConflicts(r.Context(), projectID, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if conflicts == nil {
		conflicts = []models.Conflict{}
	}

	writeJSON(w, http.StatusOK, conflicts)
}

type statusRequest struct {
	Status     models.ConflictStatus `json:"status"`
	UserID     string                `json:"userId"`
	Resolution string                `json:"resolution"`
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %v", err))
		return
	}

	conflict, err := s.store.UpdateConflictStatus(r.Context(),
		vars["conflictID"], vars["projectID"], req.Status, req.UserID, req.Resolution)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusOK, conflict)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["projectID"]

	stats, err := s.store.ConflictStats(r.Context(), projectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Printf("Error reading message: %v", err)
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Error unmarshaling message: %v", err)
			continue
		}

		if msg.Type != "detect" || msg.Content == "" {
			s.sendMessage(conn, "error", "expected {\"type\": \"detect\", \"content\": \"<projectID>\"}")
			continue
		}

		s.runDetection(r.Context(), conn, msg.Content)
	}
}

// runDetection executes a detection run for one WebSocket client,
// streaming adjudication progress as it goes.
func (s *Server) runDetection(ctx context.Context, conn *websocket.Conn, projectID string) {
	s.sendMessage(conn, "status", fmt.Sprintf("Starting detection for project %s", projectID))

	var mu sync.Mutex
	d := s.newDetector()
	d.OnProgress = func(stage string, done, total int) {
		mu.Lock()
		defer mu.Unlock()
		s.sendMessage(conn, "progress", fmt.Sprintf("%s: %d/%d", stage, done, total))
	}

	opts := types.DefaultDetectionOptions()
	if s.config.SemanticThreshold > 0 {
		opts.SemanticThreshold = s.config.SemanticThreshold
	}
	summary, err := d.Run(ctx, projectID, opts)
	if err != nil {
		s.sendMessage(conn, "error", fmt.Sprintf("Detection failed: %v", err))
		return
	}

	mu.Lock()
	defer mu.Unlock()
	if err := conn.WriteJSON(Message{Type: "summary", Content: summary.RunID, Data: summary}); err != nil {
		log.Printf("Error sending summary: %v", err)
	}
}

func (s *Server) sendMessage(conn *websocket.Conn, msgType string, content string) {
	msg := Message{
		Type:    msgType,
		Content: content,
	}
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("Error sending message: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
