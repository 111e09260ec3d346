package models

import (
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Per-profile resync outcomes.
const (
	SyncStatusOK      = "ok"
	SyncStatusSkipped = "skipped"
	SyncStatusError   = "error"
)

// Resync modes as reported to callers.
const (
	SyncModeSingle = "single"
	SyncModeCron   = "cron"
)

type SyncResult struct {
	UserID        string  `bson:"user_id" json:"userId"`
	Status        string  `bson:"status" json:"status"` // ok|skipped|error
	Role          Role    `bson:"role,omitempty" json:"role,omitempty"`
	TierID        *string `bson:"tier_id,omitempty" json:"tierId,omitempty"`
	PatreonStatus *string `bson:"patreon_status,omitempty" json:"patreonStatus,omitempty"`
	Reason        string  `bson:"reason,omitempty" json:"reason,omitempty"`
	Error         string  `bson:"error,omitempty" json:"error,omitempty"`
}

// MarshalJSON emits the shape for the result's status: ok results always carry
// role, tierId and patreonStatus (null when absent), skipped ones a reason,
// errors an error.
func (r SyncResult) MarshalJSON() ([]byte, error) {
	switch r.Status {
	case SyncStatusOK:
		return json.Marshal(struct {
			UserID        string  `json:"userId"`
			Status        string  `json:"status"`
			Role          Role    `json:"role"`
			TierID        *string `json:"tierId"`
			PatreonStatus *string `json:"patreonStatus"`
		}{r.UserID, r.Status, r.Role, r.TierID, r.PatreonStatus})
	case SyncStatusSkipped:
		return json.Marshal(struct {
			UserID string `json:"userId"`
			Status string `json:"status"`
			Reason string `json:"reason"`
		}{r.UserID, r.Status, r.Reason})
	default:
		return json.Marshal(struct {
			UserID string `json:"userId"`
			Status string `json:"status"`
			Error  string `json:"error"`
		}{r.UserID, r.Status, r.Error})
	}
}

type SyncRun struct {
	ID      primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	RunID   string             `bson:"run_id" json:"run_id"`
	Mode    string             `bson:"mode" json:"mode"`       // single|cron
	Trigger string             `bson:"trigger" json:"trigger"` // cron|admin|user|scheduler|cli|websocket

	Processed int `bson:"processed" json:"processed"`
	OK        int `bson:"ok" json:"ok"`
	Skipped   int `bson:"skipped" json:"skipped"`
	Errors    int `bson:"errors" json:"errors"`

	Results []SyncResult `bson:"results" json:"results"`

	StartedAt  time.Time `bson:"started_at" json:"started_at"`
	FinishedAt time.Time `bson:"finished_at" json:"finished_at"`
	ExpiresAt  time.Time `bson:"expires_at" json:"-"` // TTL index
}
