package main

import "net/http"

// Status bodies carry live counters, so intermediaries must not cache them;
// freshness is handled by StatusCache itself.
func setNoStoreJSONHeaders(w http.ResponseWriter, version string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if version != "" {
		w.Header().Set("X-Status-Version", version)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	payload, err := fastJSONMarshal(errorResponse{Error: msg})
	if err != nil {
		http.Error(w, msg, status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
