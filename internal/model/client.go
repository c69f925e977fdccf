package model

import "time"

// ClientInfo describes one connected hub client for diagnostics.
type ClientInfo struct {
	ID            string    `json:"id"`
	Identity      string    `json:"identity"`
	Subscriptions []string  `json:"subscriptions"`
	ConnectedAt   time.Time `json:"connectedAt"`
}
