package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"forum-client/internal/gateway"
)

// DefaultMessagePage is the page size used to load a room's history.
const DefaultMessagePage = 100

// DirectRoom is a one-to-one chat room.
type DirectRoom struct {
	ID                   int64  `json:"id"`
	OtherUserID          int64  `json:"otherUserId"`
	OtherUsername        string `json:"otherUsername"`
	OtherNickname        string `json:"otherNickname"`
	OtherProfileImageURL string `json:"otherProfileImageUrl"`
	LastMessage          string `json:"lastMessage"`
	LastMessageTime      Time   `json:"lastMessageTime"`
	UnreadCount          int    `json:"unreadCount"`
}

// DirectMessage is a direct chat message as returned by REST and pushed over the live channel.
type DirectMessage struct {
	Type            string `json:"type,omitempty"`
	ID              int64  `json:"id"`
	ChatRoomID      int64  `json:"chatRoomId"`
	Message         string `json:"message"`
	Username        string `json:"username"`
	Nickname        string `json:"nickname"`
	DisplayName     string `json:"displayName"`
	ProfileImageURL string `json:"profileImageUrl"`
	CreatedTime     Time   `json:"createdTime"`
	MessageType     string `json:"messageType"`
	FileURL         string `json:"fileUrl,omitempty"`
	FileName        string `json:"fileName,omitempty"`
	FileSize        int64  `json:"fileSize,omitempty"`
	IsRead          bool   `json:"isRead"`
}

// SendDirectMessage is the body of a direct message send.
type SendDirectMessage struct {
	Message     string `json:"message"`
	MessageType string `json:"messageType,omitempty"`
	FileURL     string `json:"fileUrl,omitempty"`
	FileName    string `json:"fileName,omitempty"`
	FileSize    int64  `json:"fileSize,omitempty"`
}

// DirectChatService covers /chat/direct.
type DirectChatService struct {
	c Client
}

// NewDirectChatService returns a DirectChatService.
func NewDirectChatService(c Client) *DirectChatService {
	return &DirectChatService{c: c}
}

// ListRooms returns the signed-in user's direct rooms.
func (s *DirectChatService) ListRooms(ctx context.Context) ([]DirectRoom, error) {
	return call[[]DirectRoom](ctx, s.c, http.MethodGet, "/chat/direct/rooms", nil)
}

// GetOrCreateRoom returns the direct room with otherUserID, creating it if needed.
func (s *DirectChatService) GetOrCreateRoom(ctx context.Context, otherUserID int64) (DirectRoom, error) {
	return call[DirectRoom](ctx, s.c, http.MethodPost, "/chat/direct/rooms", map[string]int64{"otherUserId": otherUserID})
}

// ListMessages returns one page of a room's messages, newest page first as served.
func (s *DirectChatService) ListMessages(ctx context.Context, roomID int64, page, size int) (Page[DirectMessage], error) {
	return call[Page[DirectMessage]](ctx, s.c, http.MethodGet, fmt.Sprintf("/chat/direct/rooms/%d/messages", roomID), nil,
		gateway.WithQuery(pageQuery(page, size)))
}

// SendMessage posts a message over REST.
func (s *DirectChatService) SendMessage(ctx context.Context, roomID int64, msg SendDirectMessage) (DirectMessage, error) {
	if msg.MessageType == "" {
		msg.MessageType = "TEXT"
	}
	return call[DirectMessage](ctx, s.c, http.MethodPost, fmt.Sprintf("/chat/direct/rooms/%d/messages", roomID), msg)
}

// GroupRoom is a chat room inside a group.
type GroupRoom struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	ProfileImageURL string `json:"profileImageUrl"`
	IsAdminRoom     bool   `json:"isAdminRoom"`
	CreatedTime     Time   `json:"createdTime"`
}

// GroupMessage is a group chat message.
type GroupMessage struct {
	ID               int64  `json:"id"`
	Message          string `json:"message"`
	Username         string `json:"username"`
	Nickname         string `json:"nickname"`
	ProfileImageURL  string `json:"profileImageUrl"`
	IsAdmin          bool   `json:"isAdmin"`
	Admin            bool   `json:"admin"`
	CreatedTime      Time   `json:"createdTime"`
	MessageType      string `json:"messageType,omitempty"`
	FileURL          string `json:"fileUrl,omitempty"`
	FileName         string `json:"fileName,omitempty"`
	FileSize         int64  `json:"fileSize,omitempty"`
	ReplyToMessageID int64  `json:"replyToMessageId,omitempty"`
}

// SenderIsAdmin reports the admin flag under either of its serialized names.
func (m GroupMessage) SenderIsAdmin() bool { return m.IsAdmin || m.Admin }

// SendGroupMessage is the body of a group message send.
type SendGroupMessage struct {
	Message          string `json:"message"`
	MessageType      string `json:"messageType,omitempty"`
	FileURL          string `json:"fileUrl,omitempty"`
	FileName         string `json:"fileName,omitempty"`
	FileSize         int64  `json:"fileSize,omitempty"`
	ReplyToMessageID int64  `json:"replyToMessageId,omitempty"`
}

// GroupChatService covers /group/{g}/chat-rooms.
type GroupChatService struct {
	c Client
}

// NewGroupChatService returns a GroupChatService.
func NewGroupChatService(c Client) *GroupChatService {
	return &GroupChatService{c: c}
}

// ListRooms returns the chat rooms of a group.
func (s *GroupChatService) ListRooms(ctx context.Context, groupID int64) ([]GroupRoom, error) {
	return call[[]GroupRoom](ctx, s.c, http.MethodGet, fmt.Sprintf("/group/%d/chat-rooms", groupID), nil)
}

// ListMessages returns one page of a group room's messages.
func (s *GroupChatService) ListMessages(ctx context.Context, groupID, roomID int64, page, size int) ([]GroupMessage, error) {
	return call[[]GroupMessage](ctx, s.c, http.MethodGet, fmt.Sprintf("/group/%d/chat-rooms/%d/messages", groupID, roomID), nil,
		gateway.WithQuery(pageQuery(page, size)))
}

// SendMessage posts a message to a group room over REST.
func (s *GroupChatService) SendMessage(ctx context.Context, groupID, roomID int64, msg SendGroupMessage) (GroupMessage, error) {
	if msg.MessageType == "" {
		msg.MessageType = "TEXT"
	}
	return call[GroupMessage](ctx, s.c, http.MethodPost, fmt.Sprintf("/group/%d/chat-rooms/%d/messages", groupID, roomID), msg)
}

func pageQuery(page, size int) url.Values {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = DefaultMessagePage
	}
	return url.Values{"page": {strconv.Itoa(page)}, "size": {strconv.Itoa(size)}}
}
