package main

// statusResponse is the JSON body of GET /status.
type statusResponse struct {
	StatusSnapshot
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Stale         bool   `json:"stale,omitempty"`
	// LastRefresh is the age of the global aggregates, e.g. "5s".
	LastRefresh   string         `json:"last_refresh,omitempty"`
	RefreshErrors []RefreshError `json:"refresh_errors,omitempty"`
}

type versionResponse struct {
	Service string `json:"service"`
	Version string `json:"version"`
}

type errorResponse struct {
	Error string `json:"error"`
}
