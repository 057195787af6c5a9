package service

import (
	"sort"

	"clipshare/internal/models"
	"clipshare/internal/store"
	"clipshare/internal/ws"
)

// RoomService 把历史存储与在线成员拼成对外的房间视图。
// 房间“存在”指至少有一条历史或一个在线连接。
type RoomService struct {
	store *store.Store
	hub   *ws.Hub
}

func NewRoomService(s *store.Store, hub *ws.Hub) *RoomService {
	return &RoomService{store: s, hub: hub}
}

// RoomDTO 是对外输出的房间数据。
type RoomDTO struct {
	RoomID       string `json:"roomId"`
	Online       int    `json:"online"`
	MessageCount int    `json:"messageCount"`
	TotalSize    int64  `json:"totalSize"`
}

func (s *RoomService) describe(roomID string) RoomDTO {
	info := s.store.Info(roomID)
	return RoomDTO{
		RoomID:       roomID,
		Online:       s.hub.Online(roomID),
		MessageCount: info.MessageCount,
		TotalSize:    info.TotalSize,
	}
}

// Get 返回单个房间的状态。
func (s *RoomService) Get(roomID string) (*RoomDTO, error) {
	dto := s.describe(roomID)
	if dto.Online == 0 && dto.MessageCount == 0 {
		return nil, ErrRoomNotFound
	}
	return &dto, nil
}

// List 返回全部存在的房间，按 roomId 排序。
func (s *RoomService) List() []RoomDTO {
	seen := make(map[string]struct{})
	for _, id := range s.store.Rooms() {
		seen[id] = struct{}{}
	}
	for _, id := range s.hub.Rooms() {
		seen[id] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]RoomDTO, 0, len(ids))
	for _, id := range ids {
		dto := s.describe(id)
		if dto.Online == 0 && dto.MessageCount == 0 {
			continue
		}
		out = append(out, dto)
	}
	return out
}

// Messages 返回房间当前历史，未知房间返回空列表。
func (s *RoomService) Messages(roomID string) []models.StoredMessage {
	return s.store.History(roomID)
}

// ClearMessages 清空房间历史，不影响在线成员。
func (s *RoomService) ClearMessages(roomID string) {
	s.store.Clear(roomID)
}
