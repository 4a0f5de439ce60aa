package handlers

import (
	"context"
	"encoding/json"
	"log"
	"messenger/api/middleware"
	"messenger/apperrors"
	"messenger/services"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsReadLimit      = 64 * 1024
	wsCommandTimeout = 10 * time.Second
)

var (
	// wsPongWait - сколько ждать любого кадра от клиента, прежде чем считать соединение мертвым
	wsPongWait = 60 * time.Second
	// wsPingPeriod должен быть меньше wsPongWait
	wsPingPeriod = wsPongWait * 9 / 10

	// wsHandlers - обработчики живых соединений, CloseSessions ждет их завершения
	wsHandlers sync.WaitGroup
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSCommand - входящая команда клиента
type WSCommand struct {
	Command   string          `json:"command"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type wsTargetPayload struct {
	UserID    int64  `json:"user_id"`
	GroupID   int64  `json:"group_id"`
	MessageID int64  `json:"message_id"`
	Content   string `json:"content"`
}

type wsErrorPayload struct {
	Command   string `json:"command"`
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code"`
	Error     string `json:"error"`
}

type wsAckPayload struct {
	Command   string `json:"command"`
	RequestID string `json:"request_id,omitempty"`
	Result    any    `json:"result,omitempty"`
}

func sendFrame(s *services.Session, event string, payload any) {
	frame, err := json.Marshal(services.Frame{Event: event, Payload: payload})
	if err != nil {
		log.Printf("ERROR: failed to marshal %s frame: %v", event, err)
		return
	}
	if err := s.Send(frame); err != nil {
		services.Debugf("session %s write failed: %v", s.ID, err)
	}
}

// CloseSessions закрывает все живые сессии инстанса и ждет, пока их обработчики
// снимут пользователей с учета. Вызывается до остановки http-сервера.
func CloseSessions(ctx context.Context) error {
	closed := presenceService.Registry().CloseAll()
	done := make(chan struct{})
	go func() {
		wsHandlers.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Printf("Closed %d websocket sessions", closed)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// keepAlive пингует клиента, пока не закрыт done
func keepAlive(s *services.Session, period time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := s.Ping(); err != nil {
				services.Debugf("session %s ping failed: %v", s.ID, err)
				return
			}
		}
	}
}

// WSHandler - живая сессия: push-события и команды SendMessage, SendGroupMessage, MarkRead,
// MarkMessageRead, Typing, StopTyping, Ping
func WSHandler(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Println("WebSocket upgrade error:", err)
		return
	}
	wsHandlers.Add(1)
	defer wsHandlers.Done()
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)
	pongWait := wsPongWait
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	session := services.NewSession(userID, conn)
	sendFrame(session, "Connected", gin.H{"session_id": session.ID, "user_id": userID})

	presence := presenceService
	connectCtx, cancel := context.WithTimeout(context.Background(), wsCommandTimeout)
	presence.Connect(connectCtx, session)
	cancel()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), wsCommandTimeout)
		defer cancel()
		presence.Disconnect(ctx, session)
	}()

	done := make(chan struct{})
	defer close(done)
	go keepAlive(session, wsPingPeriod, done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Println("WebSocket read error:", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		var cmd WSCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			sendFrame(session, "Error", wsErrorPayload{Code: "INVALID_INPUT", Error: "malformed command"})
			continue
		}
		handleCommand(session, cmd)
	}
}

func handleCommand(s *services.Session, cmd WSCommand) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), wsCommandTimeout)
	defer cancel()

	var p wsTargetPayload
	if len(cmd.Payload) > 0 {
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			sendFrame(s, "Error", wsErrorPayload{Command: cmd.Command, RequestID: cmd.RequestID, Code: "INVALID_INPUT", Error: "malformed payload"})
			return
		}
	}

	var result any
	var err error
	operation := "ws_" + cmd.Command
	switch cmd.Command {
	case "Ping":
		sendFrame(s, "Pong", wsAckPayload{Command: cmd.Command, RequestID: cmd.RequestID})
		return
	case "SendMessage":
		result, err = dialogService.SendMessage(ctx, s.UserID, p.UserID, p.Content)
	case "SendGroupMessage":
		result, err = groupService.SendGroupMessage(ctx, p.GroupID, s.UserID, p.Content)
	case "MarkRead":
		result, err = dialogService.MarkRead(ctx, s.UserID, p.UserID)
	case "MarkMessageRead":
		result, err = dialogService.MarkMessageRead(ctx, s.UserID, p.MessageID)
	case "Typing":
		err = presenceService.Typing(ctx, s.UserID, p.UserID)
	case "StopTyping":
		err = presenceService.StopTyping(ctx, s.UserID, p.UserID)
	default:
		operation = "ws_unknown"
		err = apperrors.InvalidInput("unknown command " + cmd.Command)
	}

	middleware.RecordChatOperation(operation, started, err)
	if err != nil {
		sendFrame(s, "Error", wsErrorPayload{
			Command:   cmd.Command,
			RequestID: cmd.RequestID,
			Code:      apperrors.PublicCode(err),
			Error:     apperrors.PublicMessage(err),
		})
		return
	}
	sendFrame(s, "Ack", wsAckPayload{Command: cmd.Command, RequestID: cmd.RequestID, Result: result})
}
