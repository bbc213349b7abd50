package web

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/rg1989/local-ai-voice-chat/internal/session"
	"github.com/rg1989/local-ai-voice-chat/pkg/audio"
	"github.com/rg1989/local-ai-voice-chat/pkg/provider/tts"
)

// maxMessageBytes bounds a single WebSocket message. Microphone frames are a
// few kilobytes; text commands are smaller still.
const maxMessageBytes = 1 << 20

// event is the JSON envelope for every server-to-client message.
type event struct {
	Type       string `json:"type"`
	Status     string `json:"status,omitempty"`
	Text       string `json:"text,omitempty"`
	Token      string `json:"token,omitempty"`
	Audio      string `json:"audio,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// command is the JSON envelope for client text messages. Binary messages are
// raw 16-bit little-endian PCM and bypass this struct.
type command struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Voice string `json:"voice,omitempty"`
}

// handleChat upgrades to WebSocket and runs one voice session for the
// lifetime of the connection.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxMessageBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events := &socketEvents{ctx: ctx, conn: conn, cancel: cancel}
	sess, err := s.sessions.NewSession(ctx, events, r.URL.Query().Get("conversation"))
	if err != nil {
		slog.Warn("session setup failed", "error", err)
		conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}
	defer s.sessions.Release(context.WithoutCancel(ctx), sess)
	defer conn.Close(websocket.StatusNormalClosure, "session closed")

	slog.Info("chat session started",
		"conversation_id", sess.ConversationID(),
		"remote", r.RemoteAddr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := sess.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("session loop failed", "error", err)
			cancel()
		}
	}()

	s.readLoop(ctx, conn, sess)
	cancel()
	<-done
	slog.Info("chat session ended", "conversation_id", sess.ConversationID())
}

// readLoop consumes client messages until the connection drops or ctx ends.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sess *session.Session) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure &&
				websocket.CloseStatus(err) != websocket.StatusGoingAway {
				slog.Debug("websocket read ended", "error", err)
			}
			return
		}

		switch typ {
		case websocket.MessageBinary:
			sess.PushAudio(audio.PCM16ToFloat32(data))
		case websocket.MessageText:
			s.dispatchCommand(ctx, sess, data)
		}
	}
}

func (s *Server) dispatchCommand(ctx context.Context, sess *session.Session, data []byte) {
	var cmd command
	if err := json.Unmarshal(data, &cmd); err != nil {
		slog.Warn("malformed command", "error", err)
		return
	}

	switch cmd.Type {
	case "text":
		// A text turn runs the full LLM+TTS pipeline; keep the read loop
		// responsive so the client can still cancel or clear.
		go func() {
			if err := sess.HandleText(ctx, cmd.Text); err != nil {
				slog.Warn("text turn rejected", "error", err)
			}
		}()
	case "clear_history":
		sess.ClearHistory(ctx)
	case "set_voice":
		sess.SetVoice(cmd.Voice)
	default:
		slog.Warn("unknown command", "type", cmd.Type)
	}
}

// socketEvents delivers session events to the browser as JSON messages.
// Writes are serialized; a failed write cancels the session context so the
// audio loop stops feeding a dead connection.
type socketEvents struct {
	ctx    context.Context
	conn   *websocket.Conn
	cancel context.CancelFunc

	mu sync.Mutex
}

var _ session.Events = (*socketEvents)(nil)

func (e *socketEvents) Status(status session.Status) {
	e.send(event{Type: "status", Status: string(status)})
}

func (e *socketEvents) Transcription(text string) {
	e.send(event{Type: "transcription", Text: text})
}

func (e *socketEvents) ResponseToken(token string) {
	e.send(event{Type: "response_token", Token: token})
}

func (e *socketEvents) ResponseEnd() {
	e.send(event{Type: "response_end"})
}

func (e *socketEvents) Audio(seg *tts.Segment) {
	e.send(event{
		Type:       "audio",
		Audio:      base64.StdEncoding.EncodeToString(audio.Float32ToPCM16(seg.Samples)),
		SampleRate: seg.SampleRate,
	})
}

func (e *socketEvents) send(ev event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("encoding event failed", "type", ev.Type, "error", err)
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx.Err() != nil {
		return
	}
	if err := e.conn.Write(e.ctx, websocket.MessageText, data); err != nil {
		if e.ctx.Err() == nil {
			slog.Warn("event write failed, closing session", "type", ev.Type, "error", err)
		}
		e.cancel()
	}
}
