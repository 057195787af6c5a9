package ws

import (
	"encoding/json"
	"testing"

	"clipshare/internal/models"
	"clipshare/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// event 覆盖所有出站事件字段，便于断言。
type event struct {
	Type     string                 `json:"type"`
	Message  json.RawMessage        `json:"message"`
	RoomID   string                 `json:"roomId"`
	Messages []models.StoredMessage `json:"messages"`
}

func decodeAll(t *testing.T, frames [][]byte) []event {
	t.Helper()
	out := make([]event, 0, len(frames))
	for _, f := range frames {
		var e event
		require.NoError(t, json.Unmarshal(f, &e))
		out = append(out, e)
	}
	return out
}

func (e event) text() string {
	var s string
	_ = json.Unmarshal(e.Message, &s)
	return s
}

func (e event) stored(t *testing.T) models.StoredMessage {
	t.Helper()
	var m models.StoredMessage
	require.NoError(t, json.Unmarshal(e.Message, &m))
	return m
}

type fixture struct {
	hub   *Hub
	store *store.Store
	d     *Dispatcher
}

func newFixture() *fixture {
	hub := NewHub()
	st := store.New(store.DefaultMaxMessages, store.DefaultMaxSize)
	return &fixture{hub: hub, store: st, d: NewDispatcher(hub, st)}
}

// open 打开连接并丢弃欢迎消息。
func (f *fixture) open(id string) *mockConn {
	c := newMockConn(id)
	f.d.OnOpen(c)
	c.reset()
	return c
}

func (f *fixture) handle(c Conn, v any) {
	b, _ := json.Marshal(v)
	f.d.Handle(c, b)
}

func TestDispatcher_OnOpenSendsConnected(t *testing.T) {
	f := newFixture()
	c := newMockConn("c1")

	f.d.OnOpen(c)

	events := decodeAll(t, c.getSent())
	require.Len(t, events, 1)
	assert.Equal(t, models.TypeConnected, events[0].Type)
	assert.Equal(t, models.ConnectedGreeting, events[0].text())
}

func TestDispatcher_JoinSendsJoinedThenSync(t *testing.T) {
	f := newFixture()
	m1 := f.store.Append("beta", models.Draft{Type: models.TypeText, Content: "one"})
	m2 := f.store.Append("beta", models.Draft{Type: models.TypeText, Content: "two"})
	c := f.open("c1")

	f.handle(c, map[string]string{"type": "join", "roomId": "beta"})

	events := decodeAll(t, c.getSent())
	require.Len(t, events, 2)
	assert.Equal(t, models.TypeJoined, events[0].Type)
	assert.Equal(t, "beta", events[0].RoomID)
	assert.Equal(t, "Joined room beta", events[0].text())
	assert.Equal(t, models.TypeSync, events[1].Type)
	assert.Equal(t, []models.StoredMessage{m1, m2}, events[1].Messages)
}

func TestDispatcher_JoinUnknownRoomSyncsEmptyList(t *testing.T) {
	f := newFixture()
	c := f.open("c1")

	f.handle(c, map[string]string{"type": "join", "roomId": "fresh"})

	frames := c.getSent()
	require.Len(t, frames, 2)
	assert.JSONEq(t, `{"type":"sync","messages":[]}`, string(frames[1]))
	assert.Empty(t, f.store.Rooms(), "join must not create history")
}

func TestDispatcher_JoinWithoutRoomID(t *testing.T) {
	f := newFixture()
	c := f.open("c1")

	f.handle(c, map[string]string{"type": "join"})

	events := decodeAll(t, c.getSent())
	require.Len(t, events, 1)
	assert.Equal(t, models.TypeError, events[0].Type)
	assert.Equal(t, models.ErrMsgRoomRequired, events[0].text())
	assert.Empty(t, f.hub.Rooms())
}

func TestDispatcher_TextBroadcastToAllMembers(t *testing.T) {
	f := newFixture()
	a := f.open("a")
	b := f.open("b")
	outsider := f.open("outsider")
	f.handle(a, map[string]string{"type": "join", "roomId": "alpha"})
	f.handle(b, map[string]string{"type": "join", "roomId": "alpha"})
	f.handle(outsider, map[string]string{"type": "join", "roomId": "gamma"})
	a.reset()
	b.reset()
	outsider.reset()

	f.handle(a, map[string]string{"type": "text", "content": "hello"})

	for _, c := range []*mockConn{a, b} {
		events := decodeAll(t, c.getSent())
		require.Len(t, events, 1, c.id)
		assert.Equal(t, models.TypeNewMessage, events[0].Type)
		msg := events[0].stored(t)
		assert.Equal(t, models.TypeText, msg.Type)
		assert.Equal(t, "hello", msg.Content)
		assert.NotEmpty(t, msg.ID)
		assert.NotZero(t, msg.Timestamp)
		assert.Equal(t, store.Size(models.Draft{Type: models.TypeText, Content: "hello"}), msg.Size)
	}
	assert.Empty(t, outsider.getSent())

	history := f.store.History("alpha")
	require.Len(t, history, 1)
	assert.Equal(t, decodeAll(t, b.getSent())[0].stored(t), history[0])
}

func TestDispatcher_ImageAndFile(t *testing.T) {
	f := newFixture()
	c := f.open("c1")
	f.handle(c, map[string]string{"type": "join", "roomId": "alpha"})
	c.reset()

	f.handle(c, map[string]any{"type": "image", "content": "data:image/png;base64,iVBORw0KGgo="})
	f.handle(c, map[string]any{
		"type":     "file",
		"filename": "notes.txt",
		"filesize": 5,
		"filetype": "text/plain",
		"content":  "data:text/plain;base64,aGVsbG8=",
	})

	events := decodeAll(t, c.getSent())
	require.Len(t, events, 2)

	img := events[0].stored(t)
	assert.Equal(t, models.TypeImage, img.Type)
	assert.Empty(t, img.Filename)

	file := events[1].stored(t)
	assert.Equal(t, models.TypeFile, file.Type)
	assert.Equal(t, "notes.txt", file.Filename)
	assert.Equal(t, int64(5), file.Filesize)
	assert.Equal(t, "text/plain", file.Filetype)
	assert.Equal(t, "data:text/plain;base64,aGVsbG8=", file.Content)
}

func TestDispatcher_ProtocolErrors(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  string
	}{
		{name: "content before join", frame: `{"type":"text","content":"hi"}`, want: models.ErrMsgJoinFirst},
		{name: "image before join", frame: `{"type":"image","content":"data:,"}`, want: models.ErrMsgJoinFirst},
		{name: "file before join", frame: `{"type":"file","filename":"a","content":"data:,"}`, want: models.ErrMsgJoinFirst},
		{name: "unknown type", frame: `{"type":"bogus"}`, want: models.ErrMsgUnknownType},
		{name: "missing type", frame: `{"content":"hi"}`, want: models.ErrMsgUnknownType},
		{name: "not json", frame: `not json`, want: models.ErrMsgInvalidFormat},
		{name: "wrong field type", frame: `{"type":"file","filesize":"big"}`, want: models.ErrMsgInvalidFormat},
		{name: "json array", frame: `[1,2]`, want: models.ErrMsgInvalidFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			c := f.open("c1")

			f.d.Handle(c, []byte(tt.frame))

			events := decodeAll(t, c.getSent())
			require.Len(t, events, 1)
			assert.Equal(t, models.TypeError, events[0].Type)
			assert.Equal(t, tt.want, events[0].text())
			assert.Empty(t, f.store.Rooms(), "no history may be created")
			assert.Empty(t, f.hub.Rooms())
		})
	}
}

func TestDispatcher_UnknownTypeWhileJoinedDoesNotBroadcast(t *testing.T) {
	f := newFixture()
	a := f.open("a")
	b := f.open("b")
	f.handle(a, map[string]string{"type": "join", "roomId": "alpha"})
	f.handle(b, map[string]string{"type": "join", "roomId": "alpha"})
	a.reset()
	b.reset()

	f.handle(a, map[string]string{"type": "bogus"})

	require.Len(t, a.getSent(), 1)
	assert.Empty(t, b.getSent())
	assert.Empty(t, f.store.History("alpha"))
}

func TestDispatcher_SwitchRoomKeepsHistory(t *testing.T) {
	f := newFixture()
	a := f.open("a")
	b := f.open("b")
	f.handle(a, map[string]string{"type": "join", "roomId": "alpha"})
	f.handle(b, map[string]string{"type": "join", "roomId": "alpha"})
	f.handle(a, map[string]string{"type": "text", "content": "stay"})

	f.handle(a, map[string]string{"type": "join", "roomId": "beta"})
	b.reset()
	f.handle(a, map[string]string{"type": "text", "content": "moved"})

	assert.Empty(t, b.getSent())
	require.Len(t, f.store.History("alpha"), 1)
	assert.Equal(t, "stay", f.store.History("alpha")[0].Content)
	require.Len(t, f.store.History("beta"), 1)
	assert.Equal(t, "moved", f.store.History("beta")[0].Content)
}

func TestDispatcher_OnCloseLeavesRoom(t *testing.T) {
	f := newFixture()
	a := f.open("a")
	b := f.open("b")
	f.handle(a, map[string]string{"type": "join", "roomId": "alpha"})
	f.handle(b, map[string]string{"type": "join", "roomId": "alpha"})
	f.handle(a, map[string]string{"type": "text", "content": "kept"})

	f.d.OnClose(a)
	f.d.OnClose(a)

	assert.Equal(t, 1, f.hub.Online("alpha"))
	assert.Len(t, f.store.History("alpha"), 1)

	f.d.OnClose(b)
	assert.Zero(t, f.hub.Online("alpha"))
	assert.Len(t, f.store.History("alpha"), 1, "history outlives membership")
}

func TestDispatcher_OnCloseNeverJoined(t *testing.T) {
	f := newFixture()
	c := f.open("c1")

	assert.NotPanics(t, func() { f.d.OnClose(c) })
	assert.NotPanics(t, func() { f.d.OnClose(newMockConn("never-opened")) })

	rooms, clients := f.hub.Stats()
	assert.Zero(t, rooms)
	assert.Zero(t, clients)
	assert.Empty(t, f.store.Rooms())
}

func TestDispatcher_Reject(t *testing.T) {
	f := newFixture()
	c := f.open("c1")

	f.d.Reject(c, models.ErrMsgRateLimited)

	events := decodeAll(t, c.getSent())
	require.Len(t, events, 1)
	assert.Equal(t, models.TypeError, events[0].Type)
	assert.Equal(t, models.ErrMsgRateLimited, events[0].text())
}

func TestDispatcher_HistoryCappedAtFive(t *testing.T) {
	f := newFixture()
	c := f.open("c1")
	f.handle(c, map[string]string{"type": "join", "roomId": "alpha"})
	for i := 0; i < 7; i++ {
		f.handle(c, map[string]string{"type": "text", "content": string(rune('a' + i))})
	}

	late := f.open("late")
	f.handle(late, map[string]string{"type": "join", "roomId": "alpha"})

	events := decodeAll(t, late.getSent())
	require.Len(t, events, 2)
	require.Len(t, events[1].Messages, 5)
	assert.Equal(t, "c", events[1].Messages[0].Content)
	assert.Equal(t, "g", events[1].Messages[4].Content)
}
