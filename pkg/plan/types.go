package plan

import (
	"time"

	"github.com/vyvo/worldsmith/pkg/command"
)

// Status represents the lifecycle state of a build record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusBuilding  Status = "building"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status ends the record's lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// BuildRequest is the short-lived tuple captured when generation starts.
// It lives in the tracker until the requester confirms or walks away.
type BuildRequest struct {
	ID           uint64         `json:"id"`
	Requester    string         `json:"requester"`
	RequesterUID string         `json:"requester_uid"`
	Origin       command.Point3 `json:"origin"`
	Dimension    string         `json:"dimension"`
	Extent       int            `json:"extent"`
	Requirements string         `json:"requirements"`
	CreatedAt    time.Time      `json:"created_at"`
}

// BuildRecord is the durable record of one accepted build attempt.
type BuildRecord struct {
	ID            uint64         `json:"id"`
	Requester     string         `json:"requester"`
	RequesterUID  string         `json:"requester_uid"`
	Origin        command.Point3 `json:"origin"`
	Dimension     string         `json:"dimension"`
	Extent        int            `json:"extent"`
	Requirements  string         `json:"requirements"`
	EstimatedCost int64          `json:"estimated_cost"`
	ActualCost    int64          `json:"actual_cost"`
	Commands      []string       `json:"commands"`
	Status        Status         `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

// Blueprint is what the planner hands back for a request: the ordered
// command list plus the price quoted for executing it.
type Blueprint struct {
	Commands []string `json:"commands"`
	Cost     int64    `json:"cost"`
}
