package messaging

import "fmt"

// StateEmoji returns the emoji prefix for a given node state, the chat
// analogue of the core's state vocabulary.
func StateEmoji(state string) string {
	switch state {
	case "FAILED", "NODE_DISAPPEARED":
		return "\U0001F534" // red circle
	case "REQUESTED", "PENDING":
		return "\U0001F7E1" // yellow circle
	case "STARTED", "RUNNING":
		return "\U0001F7E2" // green circle
	case "TERMINATING", "TERMINATED":
		return "⚪" // white circle
	default:
		return "⚪"
	}
}

// Summary builds a one-line text summary for a node update, used both as
// the chat message body and as the fallback text for clients that don't
// render rich formatting.
func Summary(msg NodeUpdateMessage) string {
	s := fmt.Sprintf("%s node %s (launch %s) -> %s", StateEmoji(msg.State), msg.NodeID, msg.LaunchID, msg.State)
	if msg.StateDesc != "" {
		s += ": " + msg.StateDesc
	}
	if msg.PublicIP != "" {
		s += fmt.Sprintf(" [%s]", msg.PublicIP)
	}
	return s
}
