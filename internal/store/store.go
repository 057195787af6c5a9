package store

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"clipshare/internal/metrics"
	"clipshare/internal/models"

	"github.com/google/uuid"
)

const (
	DefaultMaxMessages       = 5
	DefaultMaxSize     int64 = 100 * 1024 * 1024
)

// Store 按房间保存有上限的滚动历史，房间在第一次写入时懒创建。
// 不同房间之间只在查找 map 时短暂竞争读锁。
type Store struct {
	mu          sync.RWMutex
	rooms       map[string]*history
	maxMessages int
	maxSize     int64

	now   func() time.Time
	newID func() string
}

type history struct {
	mu        sync.Mutex
	messages  []models.StoredMessage
	totalSize int64

	// dead 表示该条目已被 Clear 从 map 中摘除，持有旧指针的写入方需要重新查找。
	dead bool
}

func New(maxMessages int, maxSize int64) *Store {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Store{
		rooms:       make(map[string]*history),
		maxMessages: maxMessages,
		maxSize:     maxSize,
		now:         time.Now,
		newID:       newMessageID,
	}
}

// newMessageID 使用 UUIDv7：毫秒时间戳前缀加随机位，高频写入下也不会碰撞。
func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Size 返回 draft 的计费大小，即其 JSON 编码的字节数。
// id、timestamp、size 三个服务端字段不计入。
func Size(d models.Draft) int64 {
	b, err := json.Marshal(d)
	if err != nil {
		return int64(len(d.Content))
	}
	return int64(len(b))
}

func (s *Store) entry(roomID string) *history {
	s.mu.RLock()
	h := s.rooms[roomID]
	s.mu.RUnlock()
	if h != nil {
		return h
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h = s.rooms[roomID]
	if h != nil {
		return h
	}
	h = &history{}
	s.rooms[roomID] = h
	return h
}

// Append 为 draft 分配 id 和时间戳后追加到房间末尾，然后从最旧的一条开始淘汰，
// 直到条数和总大小都满足上限。刚写入的这一条永远不会被淘汰：
// 单条就超过 maxSize 时，历史里只剩它一条，总大小暂时高于上限。
func (s *Store) Append(roomID string, d models.Draft) models.StoredMessage {
	size := Size(d)
	for {
		h := s.entry(roomID)
		h.mu.Lock()
		if h.dead {
			h.mu.Unlock()
			continue
		}
		msg := models.StoredMessage{
			ID:        s.newID(),
			Timestamp: s.now().UnixMilli(),
			Type:      d.Type,
			Content:   d.Content,
			Size:      size,
			Filename:  d.Filename,
			Filesize:  d.Filesize,
			Filetype:  d.Filetype,
		}
		h.messages = append(h.messages, msg)
		h.totalSize += size

		evicted := 0
		for len(h.messages) > 1 && (len(h.messages) > s.maxMessages || h.totalSize > s.maxSize) {
			h.totalSize -= h.messages[0].Size
			h.messages[0] = models.StoredMessage{}
			h.messages = h.messages[1:]
			evicted++
		}
		h.mu.Unlock()

		metrics.MessagesStoredTotal.WithLabelValues(d.Type).Inc()
		if evicted > 0 {
			metrics.HistoryEvictionsTotal.Add(float64(evicted))
		}
		return msg
	}
}

// History 返回房间当前历史的副本（旧的在前），未知房间返回空切片。
func (s *Store) History(roomID string) []models.StoredMessage {
	s.mu.RLock()
	h := s.rooms[roomID]
	s.mu.RUnlock()
	if h == nil {
		return []models.StoredMessage{}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]models.StoredMessage, len(h.messages))
	copy(out, h.messages)
	return out
}

// Clear 丢弃房间的全部历史并回收条目。
func (s *Store) Clear(roomID string) {
	s.mu.Lock()
	h := s.rooms[roomID]
	delete(s.rooms, roomID)
	s.mu.Unlock()
	if h == nil {
		return
	}
	h.mu.Lock()
	h.dead = true
	h.messages = nil
	h.totalSize = 0
	h.mu.Unlock()
}

// Info 返回房间的条数和总大小，未知房间返回零值。
func (s *Store) Info(roomID string) models.RoomInfo {
	s.mu.RLock()
	h := s.rooms[roomID]
	s.mu.RUnlock()
	if h == nil {
		return models.RoomInfo{}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return models.RoomInfo{MessageCount: len(h.messages), TotalSize: h.totalSize}
}

// Rooms 列出所有持有历史的房间 id，按字典序排列。
func (s *Store) Rooms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
