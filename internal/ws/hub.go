package ws

import (
	"errors"
	"sync"

	"clipshare/internal/metrics"

	"github.com/rs/zerolog/log"
)

var (
	ErrConnClosed     = errors.New("connection closed")
	ErrSendBufferFull = errors.New("send buffer full")
	ErrEmptyRoomID    = errors.New("empty room id")
)

// Conn 是 Hub 看到的连接，生命周期归传输层所有，Hub 只持有引用。
type Conn interface {
	ID() string
	Send(data []byte) error
	Close() error
}

// Hub 维护房间到在线连接集合的映射，以及每条连接当前所在的房间。
// 房间在第一次 Join 时懒创建，最后一个成员离开后删除。
//
// 锁顺序：session.mu -> Room.mu -> Hub.mu，Hub.mu 从不在持有时再去拿 Room.mu。
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	smu      sync.Mutex
	sessions map[string]*session
}

// Room 是一个房间的成员集合，mu 同时用于串行化该房间的广播。
type Room struct {
	id      string
	mu      sync.Mutex
	clients map[string]Conn
	dead    bool
}

type session struct {
	mu     sync.Mutex
	conn   Conn
	room   string
	closed bool
}

func NewHub() *Hub {
	return &Hub{
		rooms:    make(map[string]*Room),
		sessions: make(map[string]*session),
	}
}

// Register 登记一条新连接，之后才能 Join。
func (h *Hub) Register(c Conn) {
	h.smu.Lock()
	h.sessions[c.ID()] = &session{conn: c}
	n := len(h.sessions)
	h.smu.Unlock()
	metrics.WsConnections.Inc()
	log.Debug().Str("conn", c.ID()).Int("connections", n).Msg("connection registered")
}

// Unregister 在连接关闭时调用：离开当前房间并注销。
// 对从未 Register 或从未 Join 的连接是安全的空操作，可以重复调用。
func (h *Hub) Unregister(c Conn) {
	h.smu.Lock()
	s := h.sessions[c.ID()]
	delete(h.sessions, c.ID())
	h.smu.Unlock()
	if s == nil {
		return
	}
	metrics.WsConnections.Dec()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.room != "" {
		h.removeMember(s.room, c.ID())
		s.room = ""
	}
}

func (h *Hub) session(id string) *session {
	h.smu.Lock()
	defer h.smu.Unlock()
	return h.sessions[id]
}

// Join 把连接移入 roomID：已在其他房间时先离开。重复加入同一房间不会产生重复成员。
// onJoin 在持有房间锁期间执行，期间该房间不会有广播插入，
// 调用方可以借此发送与成员关系一致的历史快照。
func (h *Hub) Join(c Conn, roomID string, onJoin func()) error {
	if roomID == "" {
		return ErrEmptyRoomID
	}
	s := h.session(c.ID())
	if s == nil {
		return ErrConnClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrConnClosed
	}
	if s.room != "" && s.room != roomID {
		h.removeMember(s.room, c.ID())
		s.room = ""
	}

	r := h.acquire(roomID)
	r.clients[c.ID()] = c
	count := len(r.clients)
	s.room = roomID
	if onJoin != nil {
		onJoin()
	}
	r.mu.Unlock()

	log.Info().Str("room", roomID).Str("conn", c.ID()).Int("members", count).Msg("joined room")
	return nil
}

// Leave 让连接离开当前房间，连接本身保持登记状态。
func (h *Hub) Leave(c Conn) {
	s := h.session(c.ID())
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == "" {
		return
	}
	h.removeMember(s.room, c.ID())
	s.room = ""
}

// RoomOf 返回连接当前所在的房间。
func (h *Hub) RoomOf(c Conn) (string, bool) {
	s := h.session(c.ID())
	if s == nil {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room, s.room != ""
}

// Members 返回调用时刻房间成员的快照。
func (h *Hub) Members(roomID string) []Conn {
	r := h.lookup(roomID)
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Conn, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// Publish 在持有房间锁的情况下调用 build 生成帧，并投递给此刻的全部成员。
// 同一房间的多次 Publish 严格串行，成员收到的顺序与 build 的执行顺序一致。
// 单个成员发送失败只记录日志，不影响其他成员；返回成功投递的数量。
func (h *Hub) Publish(roomID string, build func() ([]byte, error)) (int, error) {
	r := h.acquire(roomID)
	defer r.mu.Unlock()

	data, err := build()
	if err != nil {
		h.reapLocked(r)
		return 0, err
	}
	delivered := 0
	for id, c := range r.clients {
		if err := c.Send(data); err != nil {
			metrics.SendDroppedTotal.Inc()
			log.Warn().Err(err).Str("room", roomID).Str("conn", id).Msg("broadcast send failed")
			continue
		}
		delivered++
	}
	h.reapLocked(r)
	return delivered, nil
}

// Online 返回房间在线连接数量。
func (h *Hub) Online(roomID string) int {
	r := h.lookup(roomID)
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Rooms 返回当前至少有一个成员的房间 id。
func (h *Hub) Rooms() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		ids = append(ids, id)
	}
	return ids
}

// Stats 返回房间数和房间内连接总数。
func (h *Hub) Stats() (rooms, clients int) {
	h.mu.RLock()
	snapshot := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		snapshot = append(snapshot, r)
	}
	h.mu.RUnlock()

	for _, r := range snapshot {
		r.mu.Lock()
		if !r.dead {
			rooms++
			clients += len(r.clients)
		}
		r.mu.Unlock()
	}
	return rooms, clients
}

// CloseAll 关闭所有已登记的连接，用于优雅停服；各连接的关闭路径会负责注销。
func (h *Hub) CloseAll() {
	h.smu.Lock()
	conns := make([]Conn, 0, len(h.sessions))
	for _, s := range h.sessions {
		conns = append(conns, s.conn)
	}
	h.smu.Unlock()

	for _, c := range conns {
		if err := c.Close(); err != nil {
			log.Debug().Err(err).Str("conn", c.ID()).Msg("close connection")
		}
	}
}

func (h *Hub) lookup(roomID string) *Room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[roomID]
}

// acquire 返回已加锁且仍然有效的房间，不存在时创建。
func (h *Hub) acquire(roomID string) *Room {
	for {
		r := h.lookup(roomID)
		if r == nil {
			h.mu.Lock()
			r = h.rooms[roomID]
			if r == nil {
				r = &Room{id: roomID, clients: make(map[string]Conn)}
				h.rooms[roomID] = r
				metrics.ActiveRooms.Inc()
			}
			h.mu.Unlock()
		}
		r.mu.Lock()
		if !r.dead {
			return r
		}
		r.mu.Unlock()
	}
}

func (h *Hub) removeMember(roomID, connID string) {
	r := h.lookup(roomID)
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dead {
		return
	}
	delete(r.clients, connID)
	log.Info().Str("room", roomID).Str("conn", connID).Int("members", len(r.clients)).Msg("left room")
	h.reapLocked(r)
}

// reapLocked 在房间已空时将其标记失效并从 map 中删除，调用方须持有 r.mu。
func (h *Hub) reapLocked(r *Room) {
	if r.dead || len(r.clients) > 0 {
		return
	}
	r.dead = true
	h.mu.Lock()
	if h.rooms[r.id] == r {
		delete(h.rooms, r.id)
		metrics.ActiveRooms.Dec()
	}
	h.mu.Unlock()
	log.Debug().Str("room", r.id).Msg("room emptied")
}
