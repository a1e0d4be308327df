package chat

import "fmt"

// Kind discriminates the message and room variants.
type Kind int

const (
	// Direct is a one-to-one conversation. Only Direct rooms carry read receipts.
	Direct Kind = iota + 1
	// Group is a room inside a group space.
	Group
)

func (k Kind) String() string {
	switch k {
	case Direct:
		return "direct"
	case Group:
		return "group"
	default:
		return "unknown"
	}
}

// RoomRef identifies a room. GroupID is zero for Direct rooms.
type RoomRef struct {
	Kind    Kind
	GroupID int64
	RoomID  int64
}

// DirectRoom returns the reference of direct room id.
func DirectRoom(id int64) RoomRef { return RoomRef{Kind: Direct, RoomID: id} }

// GroupRoom returns the reference of room id in group groupID.
func GroupRoom(groupID, id int64) RoomRef { return RoomRef{Kind: Group, GroupID: groupID, RoomID: id} }

// IsZero reports whether no room is selected.
func (r RoomRef) IsZero() bool { return r.Kind == 0 || r.RoomID == 0 }

func (r RoomRef) String() string {
	switch r.Kind {
	case Direct:
		return fmt.Sprintf("direct/%d", r.RoomID)
	case Group:
		return fmt.Sprintf("group/%d/%d", r.GroupID, r.RoomID)
	default:
		return "none"
	}
}

func (r RoomRef) base(prefix string) string {
	switch r.Kind {
	case Direct:
		return fmt.Sprintf("%s/direct/%d", prefix, r.RoomID)
	case Group:
		return fmt.Sprintf("%s/chat/%d/%d", prefix, r.GroupID, r.RoomID)
	default:
		return ""
	}
}

// Topic is the broker destination carrying the room's message and read events.
func (r RoomRef) Topic() string { return r.base("/topic") }

// TypingTopic is the broker destination carrying typing events.
func (r RoomRef) TypingTopic() string { return r.base("/topic") + "/typing" }

// SendDestination is where outbound messages are published.
func (r RoomRef) SendDestination() string { return r.base("/app") + "/send" }

// TypingStartDestination is where typing-start is published.
func (r RoomRef) TypingStartDestination() string { return r.base("/app") + "/typing/start" }

// TypingStopDestination is where typing-stop is published.
func (r RoomRef) TypingStopDestination() string { return r.base("/app") + "/typing/stop" }

// ReadDestination is where mark-read is published.
func (r RoomRef) ReadDestination() string { return r.base("/app") + "/read" }
