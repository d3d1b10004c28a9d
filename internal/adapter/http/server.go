package http

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cwygoda/postcatch/internal/domain"
)

// Resetter returns a link to Pending.
type Resetter interface {
	Reset(ctx context.Context, id int64) error
}

// Adder queues a new link.
type Adder interface {
	Add(ctx context.Context, link domain.LinkRecord) error
}

// Deps are the collaborators behind the routes. Ledger, Adder and Metrics
// are optional.
type Deps struct {
	Links    *domain.LinkService
	Ledger   domain.ArtifactLedger
	Resetter Resetter
	Adder    Adder
	Metrics  http.Handler
}

// Server is the HTTP adapter for the link queue daemon.
type Server struct {
	deps   Deps
	mux    *http.ServeMux
	server *http.Server
	secret string
	log    *zap.Logger
	now    func() time.Time
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, addr string, secret string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		deps:   deps,
		mux:    http.NewServeMux(),
		secret: secret,
		log:    log.Named("http"),
		now:    time.Now,
	}
	s.routes()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /links/{id}", s.handleGetLink)
	s.mux.HandleFunc("POST /links", s.handleAddLink)
	s.mux.HandleFunc("POST /links/{id}/reset", s.handleReset)
	s.mux.HandleFunc("GET /queue", s.handleQueue)
	if s.deps.Metrics != nil {
		s.mux.Handle("GET /metrics", s.deps.Metrics)
	}
}

// addRequest is the request body for POST /links.
type addRequest struct {
	ID          int64  `json:"id"`
	URL         string `json:"url"`
	PublishedAt string `json:"published_at,omitempty"`
	VehicleCode *int64 `json:"vehicle_code,omitempty"`
	ChannelCode *int64 `json:"channel_code,omitempty"`
	ClientCode  *int64 `json:"client_code,omitempty"`
}

// linkResponse is the JSON response for link endpoints.
type linkResponse struct {
	ID          int64               `json:"id"`
	URL         string              `json:"url"`
	Platform    string              `json:"platform"`
	Status      string              `json:"status"`
	StatusCode  int                 `json:"status_code"`
	ArtifactID  *int64              `json:"artifact_id,omitempty"`
	PublishedAt string              `json:"published_at,omitempty"`
	Ledger      *domain.LedgerEntry `json:"ledger,omitempty"`
}

type queueResponse struct {
	Count int            `json:"count"`
	Links []linkResponse `json:"links"`
}

// errorResponse is the JSON error response.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetLink(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	link, err := s.deps.Links.Get(r.Context(), id)
	if err != nil {
		s.storeError(w, "get link", err)
		return
	}

	resp := linkToResponse(link)
	if s.deps.Ledger != nil {
		entry, err := s.deps.Ledger.Lookup(id)
		if err != nil {
			s.log.Warn("ledger lookup failed", zap.Int64("link_id", id), zap.Error(err))
		}
		resp.Ledger = entry
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAddLink(w http.ResponseWriter, r *http.Request) {
	if s.deps.Adder == nil {
		s.writeError(w, http.StatusNotImplemented, "adding links is not supported by this store")
		return
	}
	body, ok := s.readSigned(w, r)
	if !ok {
		return
	}

	var req addRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ID <= 0 {
		s.writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if _, err := domain.Route(req.URL); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	link := domain.LinkRecord{
		ID:          req.ID,
		URL:         req.URL,
		Status:      domain.StatusPending,
		VehicleCode: req.VehicleCode,
		ChannelCode: req.ChannelCode,
		ClientCode:  req.ClientCode,
	}
	if req.PublishedAt != "" {
		ts, err := time.Parse(time.RFC3339, req.PublishedAt)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid published_at: must be RFC3339")
			return
		}
		link.PublishedAt = &ts
	}

	if err := s.deps.Adder.Add(r.Context(), link); err != nil {
		s.storeError(w, "add link", err)
		return
	}
	s.log.Info("link queued", zap.Int64("link_id", link.ID), zap.String("url", link.URL))
	s.writeJSON(w, http.StatusCreated, linkToResponse(&link))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if _, ok := s.readSigned(w, r); !ok {
		return
	}

	if err := s.deps.Resetter.Reset(r.Context(), id); err != nil {
		s.storeError(w, "reset link", err)
		return
	}

	link, err := s.deps.Links.Get(r.Context(), id)
	if err != nil {
		s.storeError(w, "get link", err)
		return
	}
	s.writeJSON(w, http.StatusOK, linkToResponse(link))
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	q := domain.PendingQuery{Limit: 10, Platform: r.URL.Query().Get("platform")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		q.Limit = n
	}

	links, err := s.deps.Links.Pending(r.Context(), q)
	if err != nil {
		s.storeError(w, "list pending", err)
		return
	}

	resp := queueResponse{Count: len(links), Links: make([]linkResponse, 0, len(links))}
	for i := range links {
		resp.Links = append(resp.Links, linkToResponse(&links[i]))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// readSigned reads the body and checks its signature when a secret is set.
func (s *Server) readSigned(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	if s.secret != "" {
		if err := s.verifySignature(r, body); err != nil {
			s.log.Warn("signature verification failed", zap.String("path", r.URL.Path), zap.Error(err))
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return nil, false
		}
	}
	return body, true
}

const maxTimestampSkew = 5 * time.Minute

func (s *Server) verifySignature(r *http.Request, body []byte) error {
	timestamp := r.Header.Get("X-Timestamp")
	if timestamp == "" {
		return fmt.Errorf("missing X-Timestamp header")
	}

	ts, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return fmt.Errorf("invalid X-Timestamp: must be ISO8601/RFC3339 format")
	}

	skew := s.now().Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > maxTimestampSkew {
		return fmt.Errorf("X-Timestamp too far from current time (skew: %v, max: %v)", skew.Truncate(time.Second), maxTimestampSkew)
	}

	signature := r.Header.Get("X-Signature")
	if signature == "" {
		return fmt.Errorf("missing X-Signature header")
	}

	expected := Sign(timestamp, r.URL.Path, body, s.secret)
	if subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) != 1 {
		return fmt.Errorf("invalid signature")
	}
	return nil
}

// Sign computes SHA256("${timestamp}\n${path}\n${body}\n${secret}") as hex.
func Sign(timestamp, path string, body []byte, secret string) string {
	payload := fmt.Sprintf("%s\n%s\n%s\n%s", timestamp, path, body, secret)
	hash := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(hash[:])
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid link ID")
		return 0, false
	}
	return id, true
}

func (s *Server) storeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrLinkNotFound):
		s.writeError(w, http.StatusNotFound, "link not found")
	case errors.Is(err, domain.ErrStoreUnavailable):
		s.log.Error(op+" failed", zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "link store unavailable")
	default:
		s.log.Error(op+" failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("writing response failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func linkToResponse(link *domain.LinkRecord) linkResponse {
	p, _ := domain.Route(link.URL)
	resp := linkResponse{
		ID:         link.ID,
		URL:        link.URL,
		Platform:   p.String(),
		Status:     link.Status.String(),
		StatusCode: int(link.Status),
		ArtifactID: link.ArtifactID,
	}
	if link.PublishedAt != nil {
		resp.PublishedAt = link.PublishedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Port extracts the port from the address.
func (s *Server) Port() int {
	addr := s.server.Addr
	if idx := strings.LastIndex(addr, ":"); idx >= 0 {
		port, _ := strconv.Atoi(addr[idx+1:])
		return port
	}
	return 0
}
