package models

import (
	"time"
)

type ConnectionPhase string

const (
	PhaseDisconnected ConnectionPhase = "disconnected"
	PhaseConnecting   ConnectionPhase = "connecting"
	PhaseConnected    ConnectionPhase = "connected"
)

type ConnectionState struct {
	Connected bool    `json:"connected"`
	LastError *string `json:"last_error"`
}

func (s ConnectionState) ErrorText() string {
	if s.LastError == nil {
		return ""
	}
	return *s.LastError
}

type HelloMessage struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// SyncStatus is the full consumer-facing read surface at one instant.
type SyncStatus struct {
	Phase         ConnectionPhase      `json:"phase"`
	Connection    ConnectionState      `json:"connection"`
	Hello         *HelloMessage        `json:"hello"`
	Snapshot      *ArbitrageSnapshot   `json:"snapshot"`
	LastUpdate    *time.Time           `json:"last_update"`
	Fresh         bool                 `json:"fresh"`
	HighestProfit *HighestProfitRecord `json:"highest_profit"`
}
