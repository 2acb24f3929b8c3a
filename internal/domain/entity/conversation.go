package entity

import "time"

// Counterpart roles on the platform.
const (
	RoleFarmer      = "farmer"
	RoleMerchant    = "merchant"
	RoleTransporter = "transporter"
	RoleUnknown     = "unknown"
)

// Origin marks which side of a merge a conversation entry came from. It is
// only consulted during reconciliation and never rendered or persisted.
const (
	OriginLocal  = "local"
	OriginRemote = "remote"
)

// Conversation is one counterpart the current user has exchanged messages
// with. CounterpartID is unique within a user's conversation set and never
// equals the owning user's own id.
type Conversation struct {
	CounterpartID string    `json:"counterpart_id"`
	DisplayName   string    `json:"display_name"`
	AvatarURL     string    `json:"avatar_url,omitempty"`
	Role          string    `json:"role"`
	LastMessage   string    `json:"last_message,omitempty"`
	LastMessageAt time.Time `json:"last_message_at"`
	UnreadCount   int       `json:"unread_count"`

	Origin string `json:"-"`
	// Clock is the controller's logical clock value at the entry's latest
	// local mutation. A remote snapshot may not overwrite an entry whose
	// Clock is newer than the snapshot's issue point.
	Clock uint64 `json:"-"`
}

func NormalizeRole(role string) string {
	switch role {
	case RoleFarmer, RoleMerchant, RoleTransporter:
		return role
	default:
		return RoleUnknown
	}
}
