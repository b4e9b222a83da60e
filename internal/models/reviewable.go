package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ReviewableType identifies what kind of record sits in the review queue
type ReviewableType string

const (
	ReviewableReceiptLine ReviewableType = "receipt_line_item"
	ReviewableReceipt     ReviewableType = "receipt"
)

// ReviewAction is an action a reviewer can take on a queue item
type ReviewAction string

const (
	ActionApprove     ReviewAction = "approve"
	ActionReject      ReviewAction = "reject"
	ActionCorrect     ReviewAction = "correct"
	ActionSnooze      ReviewAction = "snooze"
	ActionReassign    ReviewAction = "reassign"
	ActionComment     ReviewAction = "comment"
	ActionRequestInfo ReviewAction = "request_info"
)

// ReviewStatus is the outcome a reviewer left on a line item. Empty
// means nobody has looked at it yet.
type ReviewStatus string

const (
	ReviewApproved  ReviewStatus = "approved"
	ReviewRejected  ReviewStatus = "rejected"
	ReviewCorrected ReviewStatus = "corrected"
	ReviewNeedsInfo ReviewStatus = "needs_info"
)

// Valid reports whether the action is one of the known values
func (a ReviewAction) Valid() bool {
	switch a {
	case ActionApprove, ActionReject, ActionCorrect, ActionSnooze,
		ActionReassign, ActionComment, ActionRequestInfo:
		return true
	}
	return false
}

// Reviewable is the polymorphic envelope the review queue serves.
// ID has the form "{type}:{entity}:{pk}".
type Reviewable struct {
	ID          string                 `json:"id"`
	Type        ReviewableType         `json:"type"`
	Entity      Entity                 `json:"entity"`
	PK          uuid.UUID              `json:"pk"`
	Title       string                 `json:"title"`
	Description string                 `json:"description,omitempty"`
	Vendor      string                 `json:"vendor,omitempty"`
	Confidence  float64                `json:"confidence"`
	Priority    int                    `json:"priority"`
	Actions     []ReviewAction         `json:"actions"`
	Context     map[string]interface{} `json:"context,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// ReviewableID composes the queue identifier for a record
func ReviewableID(typ ReviewableType, entity Entity, pk uuid.UUID) string {
	return fmt.Sprintf("%s:%s:%s", typ, entity, pk)
}

// ParseReviewableID splits a queue identifier back into its parts
func ParseReviewableID(id string) (ReviewableType, Entity, uuid.UUID, error) {
	parts := strings.SplitN(id, ":", 3)
	if len(parts) != 3 {
		return "", "", uuid.Nil, fmt.Errorf("malformed reviewable id %q", id)
	}

	entity, err := ParseEntity(parts[1])
	if err != nil {
		return "", "", uuid.Nil, fmt.Errorf("malformed reviewable id %q: %w", id, err)
	}

	pk, err := uuid.Parse(parts[2])
	if err != nil {
		return "", "", uuid.Nil, fmt.Errorf("malformed reviewable id %q: %w", id, err)
	}

	return ReviewableType(parts[0]), entity, pk, nil
}

// ReviewRequest is the payload for acting on a reviewable
type ReviewRequest struct {
	Action      ReviewAction `json:"action"`
	Notes       string       `json:"notes,omitempty"`
	Category    string       `json:"category,omitempty"`     // for correct
	AccountCode string       `json:"account_code,omitempty"` // for correct
	SnoozeUntil *time.Time   `json:"snooze_until,omitempty"` // for snooze
	AssignTo    string       `json:"assign_to,omitempty"`    // for reassign
	Reviewer    string       `json:"reviewer,omitempty"`
}

// ReviewActivity is one audit row in shared.review_activity
type ReviewActivity struct {
	ID           int64        `json:"id"`
	ReviewableID string       `json:"reviewable_id"`
	Entity       Entity       `json:"entity"`
	Action       ReviewAction `json:"action"`
	Reviewer     string       `json:"reviewer,omitempty"`
	Notes        string       `json:"notes,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// ConfidenceBands buckets pending items by categorization confidence
type ConfidenceBands struct {
	Low    int `json:"below_080"`
	Medium int `json:"between_080_090"`
	High   int `json:"above_090"`
}

// ReviewMetrics summarizes the state of the review queue
type ReviewMetrics struct {
	PendingByEntity  map[Entity]int  `json:"pending_by_entity"`
	PendingByType    map[string]int  `json:"pending_by_type"`
	Bands            ConfidenceBands `json:"confidence_bands"`
	ActionsToday     int             `json:"actions_today"`
	EstimatedMinutes int             `json:"estimated_review_minutes"`
}
