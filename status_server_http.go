package main

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hako/durafmt"
)

const (
	// maxDatasetBytes caps the dataset query parameter; longer values are
	// rejected before they reach the store.
	maxDatasetBytes = 256
	// refreshErrorMaxAge bounds which refresh failures /status still lists.
	refreshErrorMaxAge = time.Hour
	datasetRateWindow  = time.Minute
)

// StatusServer exposes a StatusCache over HTTP.
type StatusServer struct {
	cache   *StatusCache
	limiter *datasetRateLimiter
}

// NewStatusServer serves cache. datasetPerMinute limits dataset views per
// client; zero disables the limit.
func NewStatusServer(cache *StatusCache, datasetPerMinute int) *StatusServer {
	return &StatusServer{
		cache:   cache,
		limiter: newDatasetRateLimiter(datasetPerMinute, datasetRateWindow, cache.clock),
	}
}

func (s *StatusServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/status", "/status/":
		s.handleStatus(w, r)
	case "/status/invalidate":
		s.handleInvalidate(w, r)
	case "/version":
		s.handleVersion(w, r)
	default:
		writeJSONError(w, http.StatusNotFound, "not found")
	}
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.cache.IncrementRequest(EndpointGetStatus)

	dataset := strings.TrimSpace(r.URL.Query().Get("dataset"))
	if len(dataset) > maxDatasetBytes {
		writeJSONError(w, http.StatusBadRequest, "dataset too long")
		return
	}
	if dataset != "" && !s.limiter.allow(clientKey(r)) {
		w.Header().Set("Retry-After", "60")
		writeJSONError(w, http.StatusTooManyRequests, "too many dataset requests")
		return
	}

	snap, err := s.cache.GetStatus(r.Context(), dataset)
	stale := false
	if err != nil {
		if dataset != "" {
			logger.Error("dataset status failed", "component", "http", "dataset", dataset, "error", err)
			writeJSONError(w, http.StatusServiceUnavailable, "status unavailable")
			return
		}
		// The global view always has a last known snapshot to fall back to.
		logger.Warn("serving stale status", "component", "http", "error", err)
		stale = true
	}
	if snap.TopUsers == nil {
		snap.TopUsers = []UserStatus{}
	}

	uptime := s.cache.Uptime()
	resp := statusResponse{
		StatusSnapshot: snap,
		Uptime:         durafmt.Parse(uptime.Truncate(time.Second)).LimitFirstN(2).String(),
		UptimeSeconds:  int64(uptime / time.Second),
		Stale:          stale,
	}
	if dataset == "" {
		if at := s.cache.LastRefresh(); !at.IsZero() {
			resp.LastRefresh = shortAge(s.cache.clock.Since(at))
		}
		resp.RefreshErrors = s.cache.RecentRefreshErrors(refreshErrorMaxAge)
	}
	payload, err := fastJSONMarshal(resp)
	if err != nil {
		logger.Error("encode status response", "component", "http", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	setNoStoreJSONHeaders(w, s.cache.Version())
	if stale {
		w.Header().Set("X-Status-Stale", "true")
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(payload); err != nil {
		logger.Debug("write status response", "component", "http", "error", err)
	}
}

func (s *StatusServer) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.cache.MarkDirty()
	logger.Info("status invalidated", "component", "http", "remote", r.RemoteAddr)
	w.WriteHeader(http.StatusAccepted)
}

func (s *StatusServer) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	payload, err := fastJSONMarshal(versionResponse{Service: serviceName, Version: s.cache.Version()})
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	setNoStoreJSONHeaders(w, s.cache.Version())
	_, _ = w.Write(payload)
}

// clientKey identifies the caller for rate limiting by remote host.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
