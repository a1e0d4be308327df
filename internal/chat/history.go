package chat

import (
	"context"
	"fmt"

	"forum-client/internal/api"
)

// RESTHistory implements History over the direct and group chat services.
type RESTHistory struct {
	Direct *api.DirectChatService
	Group  *api.GroupChatService
}

// NewRESTHistory returns a History backed by c.
func NewRESTHistory(c api.Client) *RESTHistory {
	return &RESTHistory{Direct: api.NewDirectChatService(c), Group: api.NewGroupChatService(c)}
}

// Fetch loads the first page of room's messages.
func (h *RESTHistory) Fetch(ctx context.Context, room RoomRef, size int) ([]Message, error) {
	switch room.Kind {
	case Direct:
		page, err := h.Direct.ListMessages(ctx, room.RoomID, 0, size)
		if err != nil {
			return nil, err
		}
		out := make([]Message, 0, len(page.Content))
		for _, d := range page.Content {
			m := FromDirect(d)
			m.Room = room
			out = append(out, m)
		}
		return out, nil
	case Group:
		list, err := h.Group.ListMessages(ctx, room.GroupID, room.RoomID, 0, size)
		if err != nil {
			return nil, err
		}
		out := make([]Message, 0, len(list))
		for _, g := range list {
			out = append(out, FromGroup(room, g))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("chat: fetch: invalid room %v", room)
	}
}

// Post sends text over REST.
func (h *RESTHistory) Post(ctx context.Context, room RoomRef, text string) error {
	switch room.Kind {
	case Direct:
		_, err := h.Direct.SendMessage(ctx, room.RoomID, api.SendDirectMessage{Message: text})
		return err
	case Group:
		_, err := h.Group.SendMessage(ctx, room.GroupID, room.RoomID, api.SendGroupMessage{Message: text})
		return err
	default:
		return fmt.Errorf("chat: post: invalid room %v", room)
	}
}
