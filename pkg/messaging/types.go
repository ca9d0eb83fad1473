package messaging

import "time"

// NodeUpdateMessage is the platform-agnostic rendering of one node state
// change — the payload a chat-backed subscriber receives for every record
// the core hands to the Notifier.
type NodeUpdateMessage struct {
	LaunchID  string
	NodeID    string
	State     string // e.g. "PENDING", "RUNNING", "FAILED"
	StateDesc string
	Site      string
	PublicIP  string
	CreatedAt time.Time
}
