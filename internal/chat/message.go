package chat

import (
	"strings"
	"time"

	"forum-client/internal/api"
)

// ContentType tags the body of a message.
type ContentType string

const (
	Text  ContentType = "TEXT"
	Image ContentType = "IMAGE"
	File  ContentType = "FILE"
)

func parseContentType(s string) ContentType {
	switch ContentType(strings.ToUpper(s)) {
	case Image:
		return Image
	case File:
		return File
	default:
		return Text
	}
}

// Sender identifies a message author.
type Sender struct {
	Username        string
	Nickname        string
	DisplayName     string
	ProfileImageURL string
}

// Name returns the best display name available.
func (s Sender) Name() string {
	switch {
	case s.DisplayName != "":
		return s.DisplayName
	case s.Nickname != "":
		return s.Nickname
	default:
		return s.Username
	}
}

// Attachment is the file reference of an IMAGE or FILE message.
type Attachment struct {
	URL  string
	Name string
	Size int64
}

// DirectFields are present on Direct messages only.
type DirectFields struct {
	Read bool
}

// GroupFields are present on Group messages only.
type GroupFields struct {
	ReplyTo       int64
	SenderIsAdmin bool
}

// Message is a chat message. Kind selects which of Direct or Group is set.
type Message struct {
	Kind        Kind
	ID          int64
	Room        RoomRef
	Sender      Sender
	ContentType ContentType
	Text        string
	Attachment  *Attachment
	CreatedAt   time.Time

	Direct *DirectFields
	Group  *GroupFields
}

// IsRead reports the read flag. Group messages have none and report false.
func (m Message) IsRead() bool {
	switch m.Kind {
	case Direct:
		return m.Direct != nil && m.Direct.Read
	case Group:
		return false
	default:
		return false
	}
}

// Summary is a one-line rendering for logs and the terminal client.
func (m Message) Summary() string {
	switch m.ContentType {
	case Image:
		if m.Attachment != nil {
			return "[image] " + m.Attachment.Name
		}
		return "[image]"
	case File:
		if m.Attachment != nil {
			return "[file] " + m.Attachment.Name
		}
		return "[file]"
	default:
		return m.Text
	}
}

// FromDirect converts a direct message DTO.
func FromDirect(d api.DirectMessage) Message {
	m := Message{
		Kind: Direct,
		ID:   d.ID,
		Room: DirectRoom(d.ChatRoomID),
		Sender: Sender{
			Username:        d.Username,
			Nickname:        d.Nickname,
			DisplayName:     d.DisplayName,
			ProfileImageURL: d.ProfileImageURL,
		},
		ContentType: parseContentType(d.MessageType),
		Text:        d.Message,
		CreatedAt:   d.CreatedTime.Time,
		Direct:      &DirectFields{Read: d.IsRead},
	}
	if d.FileURL != "" {
		m.Attachment = &Attachment{URL: d.FileURL, Name: d.FileName, Size: d.FileSize}
	}
	return m
}

// FromGroup converts a group message DTO. The DTO does not carry its room, so room is given.
func FromGroup(room RoomRef, g api.GroupMessage) Message {
	m := Message{
		Kind: Group,
		ID:   g.ID,
		Room: room,
		Sender: Sender{
			Username:        g.Username,
			Nickname:        g.Nickname,
			ProfileImageURL: g.ProfileImageURL,
		},
		ContentType: parseContentType(g.MessageType),
		Text:        g.Message,
		CreatedAt:   g.CreatedTime.Time,
		Group:       &GroupFields{ReplyTo: g.ReplyToMessageID, SenderIsAdmin: g.SenderIsAdmin()},
	}
	if g.FileURL != "" {
		m.Attachment = &Attachment{URL: g.FileURL, Name: g.FileName, Size: g.FileSize}
	}
	return m
}
