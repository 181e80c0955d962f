package hub

import (
	"encoding/json"
	"strings"
)

const (
	ActionJoinBusiness  = "join_business"
	ActionJoinUser      = "join_user"
	ActionLeaveBusiness = "leave_business"
	ActionLeaveUser     = "leave_user"
)

// ControlMessage is an inbound room-membership command from a realtime
// client.
type ControlMessage struct {
	Action     string `json:"action"`
	BusinessID string `json:"business_id"`
	UserID     string `json:"user_id"`
}

// ParseControl decodes a client control frame. Returns false for anything
// that is not a well-formed membership command; unknown frames are ignored
// by the session loop rather than treated as errors.
func ParseControl(raw []byte) (ControlMessage, bool) {
	var msg ControlMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ControlMessage{}, false
	}
	msg.Action = strings.TrimSpace(msg.Action)
	msg.BusinessID = strings.TrimSpace(msg.BusinessID)
	msg.UserID = strings.TrimSpace(msg.UserID)

	switch msg.Action {
	case ActionJoinBusiness, ActionLeaveBusiness:
		if msg.BusinessID == "" {
			return ControlMessage{}, false
		}
	case ActionJoinUser, ActionLeaveUser:
		if msg.UserID == "" {
			return ControlMessage{}, false
		}
	default:
		return ControlMessage{}, false
	}
	return msg, true
}
