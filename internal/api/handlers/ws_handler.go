package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/yoockh/yoointerview/internal/models"
	"github.com/yoockh/yoointerview/internal/providers/room"
	"github.com/yoockh/yoointerview/internal/services"
	"github.com/yoockh/yoointerview/internal/utils"
)

// WSHandler carries answer audio in and session status out. Candidates
// authenticate with the room token returned by begin.
type WSHandler struct {
	sessions    services.InterviewService
	buffers     services.BufferService
	tokens      room.TokenValidator
	redis       *redis.Client
	audioStream string
	upgrader    websocket.Upgrader
}

func NewWSHandler(sessions services.InterviewService, buffers services.BufferService, tokens room.TokenValidator, rdb *redis.Client, audioStream string, allowedOrigins []string) *WSHandler {
	if audioStream == "" {
		audioStream = "audio:stream"
	}
	return &WSHandler{
		sessions:    sessions,
		buffers:     buffers,
		tokens:      tokens,
		redis:       rdb,
		audioStream: audioStream,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	allow := map[string]bool{}
	for _, o := range allowed {
		if o = strings.TrimSpace(o); o != "" {
			allow[o] = true
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || len(allow) == 0 || allow["*"] || allow[origin]
	}
}

type wsClientMsg struct {
	Type        string `json:"type"`
	QuestionID  string `json:"question_id"`
	ChunkIndex  int64  `json:"chunk_index"`
	AudioBase64 string `json:"audio_base64"`
	AudioURL    string `json:"audio_url"`
	Language    string `json:"language"`
	IsFinal     bool   `json:"is_final"`
}

type wsServerMsg struct {
	Type       string     `json:"type"`
	Status     string     `json:"status,omitempty"`
	Code       utils.Code `json:"code,omitempty"`
	Message    string     `json:"message,omitempty"`
	QuestionID string     `json:"question_id,omitempty"`
	ChunkIndex int64      `json:"chunk_index,omitempty"`
}

type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) writeText(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.c.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.c.WriteMessage(websocket.TextMessage, b)
}

func (w *wsConn) writeJSON(m wsServerMsg) error {
	b, _ := json.Marshal(m)
	return w.writeText(b)
}

func (w *wsConn) fail(code utils.Code, message string) {
	_ = w.writeJSON(wsServerMsg{Type: "error", Code: code, Message: message})
}

func roomToken(c *gin.Context) string {
	if t := c.Query("token"); t != "" {
		return t
	}
	return strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
}

func (h *WSHandler) SessionWS(c *gin.Context) {
	const op = "WSHandler.SessionWS"

	sessionID := c.Param("session_id")
	raw := roomToken(c)
	if raw == "" {
		writeError(c, utils.E(utils.CodeUnauthorized, op, "missing room token", nil))
		return
	}
	claims, err := h.tokens.ValidateToken(c.Request.Context(), raw)
	if err != nil {
		writeError(c, utils.E(utils.CodeUnauthorized, op, "invalid room token", err))
		return
	}
	if claims.SessionID != sessionID {
		writeError(c, utils.E(utils.CodeForbidden, op, "token was issued for another session", nil))
		return
	}

	sess, err := h.sessions.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	if sess.Status != models.StatusInProgress {
		writeError(c, utils.E(utils.CodeSessionNotActive, op, "session is not in progress", nil))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	wc := &wsConn{c: conn}
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	pubsub := h.redis.Subscribe(ctx, "session:"+sessionID+":response", services.StatusChannel(sessionID))
	defer pubsub.Close()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})

		for {
			_, data, rerr := conn.ReadMessage()
			if rerr != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			var msg wsClientMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				wc.fail(utils.CodeInvalidArgument, "invalid json")
				continue
			}

			switch msg.Type {
			case "audio_chunk":
				if !h.acceptChunk(ctx, wc, sessionID, msg) {
					return
				}
			case "ping":
				_ = wc.writeJSON(wsServerMsg{Type: "pong"})
			default:
				wc.fail(utils.CodeInvalidArgument, "unknown message type")
			}
		}
	}()

	ch := pubsub.Channel()
	for {
		select {
		case <-readDone:
			return
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			if werr := wc.writeText([]byte(m.Payload)); werr != nil {
				return
			}
		}
	}
}

// sessionGone reports whether err means the session no longer takes audio.
func sessionGone(err error) bool {
	switch utils.CodeOf(err) {
	case utils.CodeSessionExpired, utils.CodeSessionAbandoned, utils.CodeSessionNotActive,
		utils.CodeAlreadyCompleted, utils.CodeNotFound:
		return true
	}
	return false
}

// acceptChunk stores and queues one chunk. It returns false when the stream
// should be closed.
func (h *WSHandler) acceptChunk(ctx context.Context, wc *wsConn, sessionID string, msg wsClientMsg) bool {
	if err := h.sessions.AdmitAudioChunk(ctx, sessionID, msg.QuestionID); err != nil {
		ae := toAPIError(err)
		wc.fail(ae.Code, ae.Message)
		return !sessionGone(err)
	}

	in := services.AudioChunkInput{
		SessionID:  sessionID,
		QuestionID: msg.QuestionID,
		ChunkIndex: msg.ChunkIndex,
		Language:   msg.Language,
	}
	if msg.AudioBase64 != "" {
		in.AudioBase64 = &msg.AudioBase64
	}
	if msg.AudioURL != "" {
		in.AudioURL = &msg.AudioURL
	}

	if _, err := h.buffers.InsertAudioChunk(ctx, in); err != nil {
		ae := toAPIError(err)
		wc.fail(ae.Code, ae.Message)
		return true
	}

	fields := map[string]any{
		"session_id":  sessionID,
		"question_id": msg.QuestionID,
		"chunk_index": strconv.FormatInt(msg.ChunkIndex, 10),
		"is_final":    strconv.FormatBool(msg.IsFinal),
		"language":    msg.Language,
		"ts_unix":     strconv.FormatInt(time.Now().UTC().Unix(), 10),
	}
	if in.AudioBase64 != nil {
		fields["audio_base64"] = *in.AudioBase64
	}
	if in.AudioURL != nil {
		fields["audio_url"] = *in.AudioURL
	}

	if err := h.redis.XAdd(ctx, &redis.XAddArgs{Stream: h.audioStream, Values: fields}).Err(); err != nil {
		wc.fail(utils.CodeUnavailable, "failed to enqueue audio")
		return true
	}
	_ = wc.writeJSON(wsServerMsg{
		Type:       "chunk_status",
		Status:     models.ChunkPending,
		Message:    "audio chunk queued",
		QuestionID: msg.QuestionID,
		ChunkIndex: msg.ChunkIndex,
	})
	return true
}
