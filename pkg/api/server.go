// Package api exposes a running simulation over HTTP: the last snapshot,
// the consistency series, cluster members and a websocket feed of rounds.
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/heitortanoue/swarmmon/pkg/aggregate"
	"github.com/heitortanoue/swarmmon/pkg/protocol"
)

// Source is the simulation served by the API
type Source interface {
	RunID() uuid.UUID
	Snapshot() protocol.Snapshot
	GetStats() map[string]interface{}
}

// Membership is the cluster view of the node, when SWIM is enabled
type Membership interface {
	Peers() map[string]protocol.RoundSummary
	JoinNode(nodeAddr string) error
	GetStats() map[string]interface{}
}

// Server is the HTTP server of a simulation node
type Server struct {
	addr       string
	mux        *http.ServeMux
	server     *http.Server
	source     Source
	aggregator *aggregate.Aggregator
	hub        *Hub
	membership Membership
	startTime  time.Time
}

// NewServer creates the server. aggregator and membership may be nil.
func NewServer(bindAddr string, port int, source Source, aggregator *aggregate.Aggregator, hub *Hub, membership Membership) *Server {
	s := &Server{
		addr:       fmt.Sprintf("%s:%d", bindAddr, port),
		mux:        http.NewServeMux(),
		source:     source,
		aggregator: aggregator,
		hub:        hub,
		membership: membership,
		startTime:  time.Now(),
	}

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/state", s.handleState)
	s.mux.HandleFunc("/stats", s.handleStats)
	s.mux.HandleFunc("/series", s.handleSeries)
	s.mux.HandleFunc("/members", s.handleMembers)
	s.mux.HandleFunc("/join", s.handleJoin)
	if s.hub != nil {
		s.mux.HandleFunc("/ws", s.hub.ServeWS)
	}
}

// Handler returns the route multiplexer
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until Stop is called
func (s *Server) Start() error {
	log.Printf("[API] Server started on %s", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop closes the server and disconnects the observers
func (s *Server) Stop() error {
	log.Printf("[API] Stopping server on %s", s.addr)
	if s.hub != nil {
		s.hub.Close()
	}
	return s.server.Close()
}

type SeriesResponse struct {
	Points          []aggregate.Point `json:"points"`
	Total           int               `json:"total"`
	MeanConsistency float64           `json:"mean_consistency"`
}

type MembersResponse struct {
	Members []MemberInfo `json:"members"`
	Total   int          `json:"total"`
}

type MemberInfo struct {
	NodeID      string  `json:"node_id"`
	RunID       string  `json:"run_id"`
	Round       int     `json:"round"`
	Devices     int     `json:"devices"`
	Consistency float64 `json:"consistency"`
}

type JoinRequest struct {
	NodeAddress string `json:"node_address"`
}

type JoinResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type StatsResponse struct {
	RunID        string                 `json:"run_id"`
	ServerUptime string                 `json:"server_uptime"`
	Simulation   map[string]interface{} `json:"simulation"`
	Series       map[string]interface{} `json:"series,omitempty"`
	Gauges       map[string]float32     `json:"gauges,omitempty"`
	Observers    map[string]interface{} `json:"observers,omitempty"`
	Membership   map[string]interface{} `json:"membership,omitempty"`
}

// handleHealth provides a basic health-check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"run_id": s.source.RunID().String(),
		"status": "healthy",
	}
	writeJSON(w, http.StatusOK, response)
}

// handleState serves GET /state: the last committed snapshot
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.source.Snapshot())
}

// handleStats serves GET /stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := StatsResponse{
		RunID:        s.source.RunID().String(),
		ServerUptime: time.Since(s.startTime).Round(time.Second).String(),
		Simulation:   s.source.GetStats(),
	}
	if s.aggregator != nil {
		response.Series = s.aggregator.GetStats()
		response.Gauges = s.aggregator.Gauges()
	}
	if s.hub != nil {
		response.Observers = s.hub.GetStats()
	}
	if s.membership != nil {
		response.Membership = s.membership.GetStats()
	}
	writeJSON(w, http.StatusOK, response)
}

// handleSeries serves GET /series?since=N
func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.aggregator == nil {
		http.Error(w, "Series not available", http.StatusNotFound)
		return
	}

	from := 0
	if raw := r.URL.Query().Get("since"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			http.Error(w, "Invalid since parameter", http.StatusBadRequest)
			return
		}
		from = v
	}

	points := s.aggregator.Since(from)
	response := SeriesResponse{
		Points:          points,
		Total:           len(points),
		MeanConsistency: s.aggregator.MeanConsistency(),
	}
	writeJSON(w, http.StatusOK, response)
}

// handleMembers serves GET /members: the latest summary of every peer
func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	members := make([]MemberInfo, 0)
	if s.membership != nil {
		for node, summary := range s.membership.Peers() {
			members = append(members, MemberInfo{
				NodeID:      node,
				RunID:       summary.RunID,
				Round:       summary.Round,
				Devices:     summary.Devices,
				Consistency: summary.Consistency,
			})
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].NodeID < members[j].NodeID })

	writeJSON(w, http.StatusOK, MembersResponse{Members: members, Total: len(members)})
}

// handleJoin serves POST /join: joins the cluster through another node
func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.membership == nil {
		http.Error(w, "Membership not enabled", http.StatusNotFound)
		return
	}

	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NodeAddress == "" {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if err := s.membership.JoinNode(req.NodeAddress); err != nil {
		writeJSON(w, http.StatusBadGateway, JoinResponse{Success: false, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, JoinResponse{Success: true, Message: fmt.Sprintf("joined through %s", req.NodeAddress)})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] Failed to encode response: %v", err)
	}
}
