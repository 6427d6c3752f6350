package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/RichardoC/voz/internal/session"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// bridge serialises writes to one page connection.
type bridge struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	logger *zap.Logger
}

func (b *bridge) write(v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return b.conn.WriteMessage(websocket.TextMessage, data)
}

func (b *bridge) close(reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	return multierr.Combine(
		b.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)),
		b.conn.Close(),
	)
}

// Session upgrades to a WebSocket and runs one call over it. The page
// forwards voice SDK events and its own controls; voz replies with SDK
// commands and view updates. Query parameters: chat_id, resume=1,
// captions=1, autostart=1.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade session", zap.Error(err))
		return
	}
	b := &bridge{conn: conn, logger: h.logger}

	var (
		voice session.Voice
		feed  *session.Feed
	)
	if h.opts.DesignMode {
		voice = session.NewSimulator(h.opts.DesignInterval, session.DemoScript())
	} else {
		feed = session.NewFeed(32, func(c session.Command) error { return b.write(c) })
		voice = feed
	}

	call := session.NewCall(voice, h.store, h.logger, session.Options{
		AssistantID: h.opts.AssistantID,
		ChatID:      q.Get("chat_id"),
		Resume:      q.Get("resume") == "1",
		Captions:    q.Get("captions") == "1",
		MinDuration: h.opts.MinDuration,
		Recapper:    h.recap,
		Publish: func(u session.Update) {
			if err := b.write(u); err != nil {
				h.logger.Debug("dropped update", zap.String("type", u.Type), zap.Error(err))
			}
		},
	})
	logger := h.logger.With(zap.String("chatID", call.ChatID()))
	logger.Info("session opened", zap.Bool("designMode", h.opts.DesignMode))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := call.Run(ctx); err != nil && err != context.Canceled {
			logger.Warn("call ended with error", zap.Error(err))
		}
	}()
	go func() {
		<-call.Done()
		if feed != nil {
			feed.Close()
		}
		if err := b.close("call ended"); err != nil {
			logger.Debug("close after call end", zap.Error(err))
		}
	}()

	if q.Get("autostart") == "1" {
		call.Start()
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		ev, ok := session.Decode(data)
		if !ok {
			logger.Debug("ignoring malformed frame", zap.Int("bytes", len(data)))
			continue
		}
		if feed != nil {
			// controls travel with SDK events so an end never overtakes a final transcript
			feed.Push(ev)
			continue
		}
		if ev.Kind == session.KindControl {
			control(call, ev.Action)
		}
	}

	if feed != nil {
		feed.Close()
	} else {
		call.End()
	}
	<-call.Done()
	logger.Info("session closed")
}

func control(call *session.Call, action string) {
	switch action {
	case session.ActionStart:
		call.Start()
	case session.ActionEnd:
		call.End()
	case session.ActionMute:
		call.SetMuted(true)
	case session.ActionUnmute:
		call.SetMuted(false)
	}
}
