package models

// 消息类型，入站与出站共用同一个 type 字段。
const (
	TypeJoin  = "join"
	TypeText  = "text"
	TypeImage = "image"
	TypeFile  = "file"

	TypeConnected  = "connected"
	TypeJoined     = "joined"
	TypeSync       = "sync"
	TypeNewMessage = "new_message"
	TypeError      = "error"
)

// 返回给客户端的协议错误文案，前端依赖这些字符串，不要随意修改。
const (
	ErrMsgJoinFirst     = "Please join a room first"
	ErrMsgUnknownType   = "Unknown message type"
	ErrMsgInvalidFormat = "Invalid message format"
	ErrMsgRoomRequired  = "Room ID is required"
	ErrMsgRateLimited   = "Too many messages, slow down"

	ConnectedGreeting = "Connected to clipShare server"
)

// IsContentType 判断是否为需要入库并广播的内容消息。
func IsContentType(t string) bool {
	return t == TypeText || t == TypeImage || t == TypeFile
}

// Draft 是尚未入库的内容，size 按其 JSON 编码长度计算。
type Draft struct {
	Type     string `json:"type"`
	Content  string `json:"content"`
	Filename string `json:"filename,omitempty"`
	Filesize int64  `json:"filesize,omitempty"`
	Filetype string `json:"filetype,omitempty"`
}

// StoredMessage 入库后不可变，淘汰时整条移除。
type StoredMessage struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	Size      int64  `json:"size"`
	Filename  string `json:"filename,omitempty"`
	Filesize  int64  `json:"filesize,omitempty"`
	Filetype  string `json:"filetype,omitempty"`
}

// InboundMessage 覆盖客户端可能发送的全部字段。
type InboundMessage struct {
	Type     string `json:"type"`
	RoomID   string `json:"roomId"`
	Content  string `json:"content"`
	Filename string `json:"filename"`
	Filesize int64  `json:"filesize"`
	Filetype string `json:"filetype"`
}

// Draft 取出内容消息中需要保存的部分，join 等字段被丢弃。
func (in InboundMessage) Draft() Draft {
	d := Draft{Type: in.Type, Content: in.Content}
	if in.Type == TypeFile {
		d.Filename = in.Filename
		d.Filesize = in.Filesize
		d.Filetype = in.Filetype
	}
	return d
}

type ConnectedEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type JoinedEvent struct {
	Type    string `json:"type"`
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

type SyncEvent struct {
	Type     string          `json:"type"`
	Messages []StoredMessage `json:"messages"`
}

type NewMessageEvent struct {
	Type    string        `json:"type"`
	Message StoredMessage `json:"message"`
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// RoomInfo 是房间历史的容量快照。
type RoomInfo struct {
	MessageCount int   `json:"messageCount"`
	TotalSize    int64 `json:"totalSize"`
}
