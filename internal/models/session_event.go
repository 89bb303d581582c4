package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	EventTransition       = "transition"
	EventDuplicateAnswer  = "duplicate_answer"
	EventDispatchFailed   = "dispatch_failed"
	EventDispatchStuck    = "dispatch_stuck"
	EventEvaluationLate   = "evaluation_overdue"
	EventRoomReleaseError = "room_release_failed"
)

// SessionEvent is one entry of the per-session audit trail.
type SessionEvent struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SessionID  string             `bson:"session_id" json:"session_id"`
	Type       string             `bson:"type" json:"type"`
	FromStatus SessionStatus      `bson:"from_status,omitempty" json:"from_status,omitempty"`
	ToStatus   SessionStatus      `bson:"to_status,omitempty" json:"to_status,omitempty"`
	Detail     string             `bson:"detail,omitempty" json:"detail,omitempty"`
	At         time.Time          `bson:"at" json:"at"`
}
