package ws

import (
	"net/http"
	"sync"
	"time"

	"clipshare/internal/config"
	"clipshare/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Client 是一条 WebSocket 连接，读写各由一个 goroutine 负责。
// 出站帧先进入有界队列，慢连接只会丢自己的帧，不会拖住广播方。
type Client struct {
	id         string
	remote     string
	conn       *websocket.Conn
	dispatcher *Dispatcher
	limiter    *rate.Limiter
	readLimit  int64

	mu     sync.RWMutex
	send   chan []byte
	closed bool
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Serve 升级 HTTP 请求并在当前 goroutine 中运行读循环，直到连接断开。
func Serve(d *Dispatcher, cfg config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Str("remote", c.ClientIP()).Msg("websocket upgrade")
			return
		}
		client := newClient(uuid.NewString(), c.ClientIP(), conn, d, cfg)
		log.Info().Str("conn", client.id).Str("remote", client.remote).Msg("client connected")

		d.OnOpen(client)
		go client.writePump()
		client.readPump()
	}
}

func newClient(id, remote string, conn *websocket.Conn, d *Dispatcher, cfg config.Config) *Client {
	c := &Client{
		id:         id,
		remote:     remote,
		conn:       conn,
		dispatcher: d,
		readLimit:  cfg.ReadLimit,
		send:       make(chan []byte, cfg.SendBuffer),
	}
	if cfg.MsgRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.MsgRate), cfg.MsgBurst)
	}
	return c
}

func (c *Client) ID() string { return c.id }

// Send 非阻塞入队，队列满或连接已关闭时返回错误。
func (c *Client) Send(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close 关闭底层连接，读循环随之退出并走正常的断开流程。
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) readPump() {
	defer func() {
		c.dispatcher.OnClose(c)
		c.shutdown()
		_ = c.conn.Close()
		log.Info().Str("conn", c.id).Str("remote", c.remote).Msg("client disconnected")
	}()
	if c.readLimit > 0 {
		c.conn.SetReadLimit(c.readLimit)
	}
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Warn().Err(err).Str("conn", c.id).Msg("read")
			}
			return
		}
		if c.limiter != nil && !c.limiter.Allow() {
			c.dispatcher.Reject(c, models.ErrMsgRateLimited)
			continue
		}
		c.dispatcher.Handle(c, data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				log.Debug().Err(err).Str("conn", c.id).Msg("next writer")
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				log.Debug().Err(err).Str("conn", c.id).Msg("write")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
