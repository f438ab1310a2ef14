// Package store defines the durable Session record and the SessionStore
// persistence seam, plus the Stores container the gateway wires at
// startup. Grounded on the teacher's internal/sessions/manager.go (the
// atomic-write Save idiom) and internal/store/stores.go (the
// multi-store-bundle shape), trimmed to the gateway's actual Session
// record (spec.md §3).
package store

import "time"

// Status is a Session's lifecycle state (spec.md §3).
type Status string

const (
	StatusStarting Status = "starting"
	StatusReady    Status = "ready"
	StatusBusy     Status = "busy"
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
)

// ChangeStats is the aggregate counter over tool usage for a session
// (spec.md §3 "an aggregate changeStats counter over tool usage").
type ChangeStats struct {
	FilesChanged int `json:"filesChanged"`
	LinesAdded   int `json:"linesAdded"`
	LinesRemoved int `json:"linesRemoved"`
	ToolCalls    int `json:"toolCalls"`
}

// Session is the durable record described in spec.md §3. Its `status`
// transitions are monotone within a turn: ready->busy->ready, or
// ready->busy->stopping->stopped.
type Session struct {
	ID             string      `json:"id"`
	WorkspaceID    string      `json:"workspaceId"`
	DisplayName    string      `json:"displayName"`
	Status         Status      `json:"status"`
	Model          string      `json:"model"` // canonical "provider/modelId"; modelId may itself contain slashes
	ThinkingLevel  string      `json:"thinkingLevel,omitempty"`
	ContextWindow  int         `json:"contextWindow,omitempty"`
	TracePaths     []string    `json:"tracePaths,omitempty"`
	LastActivity   time.Time   `json:"lastActivity"`
	CreatedAt      time.Time   `json:"createdAt"`
	ChangeStats    ChangeStats `json:"changeStats"`
}

// SplitModel separates a canonical "provider/modelId" string into its
// provider and modelId parts. modelId may itself contain slashes, so only
// the first separator is significant.
func SplitModel(canonical string) (provider, modelID string) {
	for i := 0; i < len(canonical); i++ {
		if canonical[i] == '/' {
			return canonical[:i], canonical[i+1:]
		}
	}
	return "", canonical
}

// JoinModel builds the canonical "provider/modelId" form.
func JoinModel(provider, modelID string) string {
	return provider + "/" + modelID
}

// SessionStore persists Session records.
type SessionStore interface {
	Save(s Session) error
	Get(id string) (Session, bool, error)
	List() ([]Session, error)
	Delete(id string) error
}
