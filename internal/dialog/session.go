package dialog

import (
	"broadcastbot/internal/content"
)

// State is a dialog step. The zero value is idle.
type State string

const (
	StateIdle               State = ""
	StateComposing          State = "composing"
	StateConfirming         State = "confirming"
	StateSending            State = "sending"
	StateChoosingSchedule   State = "choosing_schedule"
	StateEnteringCustomTime State = "entering_custom_time"
	StateAwaitingUserID     State = "awaiting_user_id"
	StateAwaitingRoleChoice State = "awaiting_role_choice"
)

// Session is the per-chat dialog state. OwnerID is the user who started the
// flow; presses from anyone else are ignored.
type Session struct {
	State   State            `json:"state"`
	OwnerID int64            `json:"owner_id"`
	Payload *content.Payload `json:"payload,omitempty"`
	// TargetUserID is the user whose role is being changed.
	TargetUserID int64 `json:"target_user_id,omitempty"`
}
