// Package graph implements the conversation-graph repositories:
// entity-level CRUD over internal/store's Postgres schema, with invariant
// enforcement living here rather than in the store layer.
package graph

import "time"

// NodeType enumerates the conversation-node kinds.
type NodeType string

const (
	NodeRoot        NodeType = "root"
	NodeMain        NodeType = "main"
	NodeTopic       NodeType = "topic"
	NodeExploration NodeType = "exploration"
	NodeQuestion    NodeType = "question"
	NodeSolution    NodeType = "solution"
	NodeSummary     NodeType = "summary"
	NodeReference   NodeType = "reference"
)

// Role enumerates message authorship.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// RecStatus enumerates recommendation lifecycle states.
type RecStatus string

const (
	RecPending   RecStatus = "pending"
	RecCreated   RecStatus = "created"
	RecDismissed RecStatus = "dismissed"
	RecExpired   RecStatus = "expired"
)

// Session is a conversation root.
type Session struct {
	ID                 string         `json:"id"`
	Title              string         `json:"title"`
	UserID             *string        `json:"user_id,omitempty"`
	RootNodeID         *string        `json:"root_node_id,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	Summary            string         `json:"summary,omitempty"`
	SummarizedCount    int            `json:"summarized_count"`
	LastMessagePreview string         `json:"last_message_preview,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// Node is a vertex in the conversation graph.
type Node struct {
	ID             string         `json:"id"`
	SessionID      string         `json:"session_id"`
	ParentID       *string        `json:"parent_id,omitempty"`
	Title          string         `json:"title"`
	Content        string         `json:"content"`
	Type           NodeType       `json:"type"`
	IsActive       bool           `json:"is_active"`
	IsSummary      bool           `json:"is_summary"`
	IsGenerating   bool           `json:"is_generating"`
	SummaryContent *string        `json:"summary_content,omitempty"`
	SourceNodeIDs  []string       `json:"source_node_ids,omitempty"`
	Depth          int            `json:"depth"`
	MessageCount   int            `json:"message_count"`
	TokenCount     int            `json:"token_count"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Message is an utterance attached to a node.
type Message struct {
	ID         string    `json:"id"`
	NodeID     string    `json:"node_id"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	TokenCount int       `json:"token_count"`
	Embedding  []float32 `json:"-"`
}

// Recommendation is an LLM-proposed future branch.
type Recommendation struct {
	ID              string     `json:"id"`
	SessionID       string     `json:"session_id"`
	NodeID          string     `json:"node_id"`
	MessageID       string     `json:"message_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Type            string     `json:"type"`
	Priority        float64    `json:"priority"`
	EstimatedDepth  int        `json:"estimated_depth"`
	EdgeLabel       string     `json:"edge_label"`
	Status          RecStatus  `json:"status"`
	CreatedBranchID *string    `json:"created_branch_id,omitempty"`
	DismissedAt     *time.Time `json:"dismissed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// NodePatch carries the mutable Node fields.
type NodePatch struct {
	Title          *string        `json:"title,omitempty"`
	IsActive       *bool          `json:"is_active,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	SummaryContent *string        `json:"summary_content,omitempty"`
	IsGenerating   *bool          `json:"is_generating,omitempty"`
}

// SessionPatch carries the mutable Session fields.
type SessionPatch struct {
	Title    *string        `json:"title,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RecommendationPatch carries the mutable Recommendation fields.
type RecommendationPatch struct {
	Status          *RecStatus `json:"status,omitempty"`
	CreatedBranchID *string    `json:"created_branch_id,omitempty"`
	DismissedAt     *time.Time `json:"dismissed_at,omitempty"`
}

// DeleteResult reports partial success of a batch node delete.
type DeleteResult struct {
	Deleted  []string            `json:"deleted"`
	Failed   []string            `json:"failed"`
	Cascaded map[string][]string `json:"cascaded,omitempty"`
}
