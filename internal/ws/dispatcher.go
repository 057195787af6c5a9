package ws

import (
	"encoding/json"
	"errors"
	"fmt"

	"clipshare/internal/metrics"
	"clipshare/internal/models"

	"github.com/rs/zerolog/log"
)

// HistoryStore 是 Dispatcher 依赖的房间历史存储。
type HistoryStore interface {
	Append(roomID string, d models.Draft) models.StoredMessage
	History(roomID string) []models.StoredMessage
}

// Dispatcher 解码入站帧，修改房间成员与历史，并把结果发给对应的连接。
// 同一连接的帧由其读循环逐条交给 Handle；不同连接可以并发调用。
type Dispatcher struct {
	hub   *Hub
	store HistoryStore
}

func NewDispatcher(hub *Hub, store HistoryStore) *Dispatcher {
	return &Dispatcher{hub: hub, store: store}
}

// OnOpen 登记新连接并发送欢迎消息。
func (d *Dispatcher) OnOpen(c Conn) {
	d.hub.Register(c)
	d.send(c, models.ConnectedEvent{Type: models.TypeConnected, Message: models.ConnectedGreeting})
}

// OnClose 由传输层在连接断开时调用，从不 panic，未加入房间的连接也可以调用。
func (d *Dispatcher) OnClose(c Conn) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("conn", c.ID()).Interface("panic", r).Msg("recovered in close path")
		}
	}()
	d.hub.Unregister(c)
}

// Handle 处理一条入站帧。协议错误只回给发送方，连接保持打开，状态不变。
func (d *Dispatcher) Handle(c Conn, data []byte) {
	var in models.InboundMessage
	if err := json.Unmarshal(data, &in); err != nil {
		log.Debug().Err(err).Str("conn", c.ID()).Msg("undecodable frame")
		d.reject(c, "invalid_format", models.ErrMsgInvalidFormat)
		return
	}

	switch {
	case in.Type == models.TypeJoin:
		d.join(c, in.RoomID)
	case models.IsContentType(in.Type):
		d.publish(c, in)
	default:
		log.Debug().Str("conn", c.ID()).Str("type", in.Type).Msg("unknown message type")
		d.reject(c, "unknown_type", models.ErrMsgUnknownType)
	}
}

// Reject 向发送方回一条错误，供传输层在限流等场景复用。
func (d *Dispatcher) Reject(c Conn, message string) {
	d.reject(c, "transport", message)
}

func (d *Dispatcher) join(c Conn, roomID string) {
	err := d.hub.Join(c, roomID, func() {
		d.send(c, models.JoinedEvent{
			Type:    models.TypeJoined,
			RoomID:  roomID,
			Message: fmt.Sprintf("Joined room %s", roomID),
		})
		d.send(c, models.SyncEvent{Type: models.TypeSync, Messages: d.store.History(roomID)})
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrEmptyRoomID):
		d.reject(c, "room_required", models.ErrMsgRoomRequired)
	default:
		log.Debug().Err(err).Str("conn", c.ID()).Msg("join on closed connection")
	}
}

func (d *Dispatcher) publish(c Conn, in models.InboundMessage) {
	roomID, ok := d.hub.RoomOf(c)
	if !ok {
		d.reject(c, "not_joined", models.ErrMsgJoinFirst)
		return
	}

	draft := in.Draft()
	var stored models.StoredMessage
	delivered, err := d.hub.Publish(roomID, func() ([]byte, error) {
		stored = d.store.Append(roomID, draft)
		return json.Marshal(models.NewMessageEvent{Type: models.TypeNewMessage, Message: stored})
	})
	if err != nil {
		log.Error().Err(err).Str("room", roomID).Str("conn", c.ID()).Msg("encode new_message")
		return
	}
	log.Info().
		Str("room", roomID).
		Str("conn", c.ID()).
		Str("type", stored.Type).
		Int64("size", stored.Size).
		Int("delivered", delivered).
		Msg("content stored")
}

func (d *Dispatcher) reject(c Conn, reason, message string) {
	metrics.ProtocolErrorsTotal.WithLabelValues(reason).Inc()
	d.send(c, models.ErrorEvent{Type: models.TypeError, Message: message})
}

func (d *Dispatcher) send(c Conn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("conn", c.ID()).Msg("encode event")
		return
	}
	if err := c.Send(b); err != nil {
		metrics.SendDroppedTotal.Inc()
		log.Warn().Err(err).Str("conn", c.ID()).Msg("send failed")
	}
}
