package remote

import "encoding/json"

// EventKind identifies a push event. The set is closed: the node never
// emits a kind outside the constants below, and consumers switch on it
// exhaustively.
type EventKind string

const (
	EventOrganizationCreated EventKind = "organization_created"
	EventOrganizationUpdated EventKind = "organization_updated"
	EventOrganizationDeleted EventKind = "organization_deleted"

	EventGroupCreated EventKind = "group_created"
	EventGroupUpdated EventKind = "group_updated"
	EventGroupDeleted EventKind = "group_deleted"

	EventProjectCreated EventKind = "project_created"
	EventProjectUpdated EventKind = "project_updated"
	EventProjectDeleted EventKind = "project_deleted"

	EventMemberJoined      EventKind = "member_joined"
	EventMemberLeft        EventKind = "member_left"
	EventMemberRoleChanged EventKind = "member_role_changed"

	EventFileUploaded EventKind = "file_uploaded"
	EventFileDeleted  EventKind = "file_deleted"
	EventFileShared   EventKind = "file_shared"

	EventPeerConnected        EventKind = "peer_connected"
	EventPeerDisconnected     EventKind = "peer_disconnected"
	EventNetworkStatusChanged EventKind = "network_status_changed"
)

// PushEvent is an asynchronous notification from the node describing a
// change to subscribed state. Only the fields relevant to Kind are set.
type PushEvent struct {
	Kind EventKind `json:"kind"`

	// Entity events: the affected entity id and, for create/update, its
	// serialized payload.
	EntityID string          `json:"entity_id,omitempty"`
	Entity   json.RawMessage `json:"entity,omitempty"`

	// Member events.
	UserID string `json:"user_id,omitempty"`
	Role   string `json:"role,omitempty"`

	// File events.
	Path string `json:"path,omitempty"`

	// Peer events.
	PeerID  string `json:"peer_id,omitempty"`
	Address string `json:"address,omitempty"`

	// Network status events.
	Status *Status `json:"status,omitempty"`

	Timestamp int64 `json:"timestamp,omitempty"`
}

// IsConnectivity reports whether the event is handled by the engine itself
// rather than handed to the consumer.
func (e PushEvent) IsConnectivity() bool {
	switch e.Kind {
	case EventPeerConnected, EventPeerDisconnected, EventNetworkStatusChanged:
		return true
	}
	return false
}
