package http

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"quizhub/internal/app"
	"quizhub/internal/domain"
)

// WSHandler runs one attempt over a websocket: start, content, submit and result
// messages share the connection's identity.
type WSHandler struct {
	service  *app.AttemptService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.AttemptService) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type startPayload struct {
	QuizID     string `json:"quizId"`
	AccessCode string `json:"accessCode"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

// ServeWS upgrades the request. The identity comes from the usual headers, or from
// the userId, sessionId, name and email query parameters for browser clients.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	identity := requestIdentity(r, q.Get("name"), q.Get("email"))
	if identity.UserID == "" {
		identity.UserID = q.Get("userId")
	}
	if identity.SessionID == "" {
		identity.SessionID = q.Get("sessionId")
	}
	identity = identity.Normalize()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	out := newOutbox(16, func(msg outboundMessage[any]) error { return conn.WriteJSON(msg) }, func(err error) {
		log.Error().Err(err).Msg("ws write error")
		// Unblocks the pending read so the handler returns.
		_ = conn.Close()
	})
	fail := func(err error) {
		_, body := errorResponse(err)
		out.emit("error", body)
	}

	var attemptID string
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if inbound.Type != "start" && attemptID == "" {
			fail(&domain.ValidationError{Field: "type", Reason: "start an attempt first"})
			continue
		}

		switch inbound.Type {
		case "start":
			var payload startPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				fail(&domain.ValidationError{Field: "payload", Reason: "invalid start payload"})
				continue
			}
			handle, err := h.service.StartAttempt(r.Context(), app.StartRequest{
				QuizID:     payload.QuizID,
				Identity:   identity,
				AccessCode: payload.AccessCode,
			})
			if err != nil {
				fail(err)
				continue
			}
			attemptID = handle.ID
			out.emit("started", handle)
		case "content":
			content, err := h.service.GetAttemptContent(r.Context(), attemptID, identity)
			if err != nil {
				fail(err)
				continue
			}
			out.emit("content", content)
		case "submit":
			var payload submitRequest
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				fail(&domain.ValidationError{Field: "payload", Reason: "invalid submit payload"})
				continue
			}
			result, err := h.service.SubmitAnswers(r.Context(), attemptID, identity, payload.answers())
			if err != nil {
				fail(err)
				continue
			}
			out.emit("result", result)
		case "result":
			result, err := h.service.GetResult(r.Context(), attemptID, identity)
			if err != nil {
				fail(err)
				continue
			}
			out.emit("result", result)
		default:
			fail(&domain.ValidationError{Field: "type", Reason: "unsupported message type"})
		}
	}

	out.close()
}

// outbox serializes writes to the connection on one goroutine. After a write
// fails, emitted messages are dropped instead of blocking the reader.
type outbox struct {
	send chan outboundMessage[any]
	done chan struct{}
}

func newOutbox(size int, write func(outboundMessage[any]) error, onError func(error)) *outbox {
	o := &outbox{send: make(chan outboundMessage[any], size), done: make(chan struct{})}
	go func() {
		defer close(o.done)
		for msg := range o.send {
			if err := write(msg); err != nil {
				onError(err)
				return
			}
		}
	}()
	return o
}

func (o *outbox) emit(msgType string, payload any) {
	select {
	case o.send <- outboundMessage[any]{Type: msgType, Payload: payload}:
	case <-o.done:
	}
}

// close flushes pending messages and waits for the writer to stop.
func (o *outbox) close() {
	close(o.send)
	<-o.done
}
