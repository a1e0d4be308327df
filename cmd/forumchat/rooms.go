package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"forum-client/internal/api"
	"forum-client/internal/chat"
	"forum-client/internal/tui"
)

// roomSource lists the user's direct rooms followed by the chat rooms of each group in groupIDs.
func roomSource(c api.Client, groupIDs []int64) tui.RoomSource {
	direct := api.NewDirectChatService(c)
	group := api.NewGroupChatService(c)
	return func(ctx context.Context) ([]tui.RoomItem, error) {
		rooms, err := direct.ListRooms(ctx)
		if err != nil {
			return nil, fmt.Errorf("list direct rooms: %w", err)
		}
		items := make([]tui.RoomItem, 0, len(rooms))
		for _, r := range rooms {
			items = append(items, directItem(r))
		}
		for _, gid := range groupIDs {
			grooms, err := group.ListRooms(ctx, gid)
			if err != nil {
				return nil, fmt.Errorf("list rooms of group %d: %w", gid, err)
			}
			for _, r := range grooms {
				items = append(items, tui.RoomItem{
					Ref:     chat.GroupRoom(gid, r.ID),
					Name:    fmt.Sprintf("#%s (group %d)", r.Name, gid),
					Preview: r.Description,
				})
			}
		}
		return items, nil
	}
}

func directItem(r api.DirectRoom) tui.RoomItem {
	name := r.OtherNickname
	if name == "" {
		name = r.OtherUsername
	}
	return tui.RoomItem{
		Ref:     chat.DirectRoom(r.ID),
		Name:    name,
		Preview: r.LastMessage,
		Unread:  r.UnreadCount,
	}
}

// openWith resolves a username to its direct room, creating the room when needed.
func openWith(ctx context.Context, c api.Client, username string) (tui.RoomItem, error) {
	info, err := api.NewFollowService(c).UserInfo(ctx, username)
	if err != nil {
		return tui.RoomItem{}, fmt.Errorf("look up %s: %w", username, err)
	}
	room, err := api.NewDirectChatService(c).GetOrCreateRoom(ctx, info.ID)
	if err != nil {
		return tui.RoomItem{}, fmt.Errorf("open room with %s: %w", username, err)
	}
	item := directItem(room)
	if item.Name == "" {
		item.Name = username
	}
	return item, nil
}

// parseGroups reads a comma separated list of group ids.
func parseGroups(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid group id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
