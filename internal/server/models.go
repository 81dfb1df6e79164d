package server

import "time"

// HTTPError is a generic error envelope returned by the API.
type HTTPError struct {
	Error string `json:"error"`
}

// SessionResponse describes a freshly opened session.
type SessionResponse struct {
	ID       string    `json:"id"`
	Token    string    `json:"token"`
	HTML     string    `json:"html"`
	OpenedAt time.Time `json:"opened_at"`
}
