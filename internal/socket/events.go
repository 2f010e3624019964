// ABOUTME: Routing of inbound client events: room membership and typing indicators
// ABOUTME: Rejections are answered on the sender's connection with an error frame

package socket

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/2389/switchboard/internal/auth"
	"github.com/2389/switchboard/internal/metrics"
	"github.com/2389/switchboard/internal/rooms"
	"github.com/2389/switchboard/internal/store"
	"github.com/2389/switchboard/internal/typing"
)

const lookupTimeout = 5 * time.Second

// conversationRequest is the body every inbound event carries.
type conversationRequest struct {
	ConversationID string `json:"conversationId"`
}

type conversationAck struct {
	ConversationID string `json:"conversationId"`
}

// ErrorPayload is the body of an error frame.
type ErrorPayload struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

// TypingUsersPayload is the body of typing_users_list.
type TypingUsersPayload struct {
	ConversationID string         `json:"conversationId"`
	Users          []typing.Entry `json:"users"`
}

// rejection is a client-visible failure.
type rejection string

func (r rejection) Error() string { return string(r) }

const (
	errMalformed      rejection = "malformed frame"
	errMissingID      rejection = "conversationId is required"
	errUnknownEvent   rejection = "unknown event"
	errNotFound       rejection = "conversation not found"
	errNotParticipant rejection = "not a participant of this conversation"
	errNotJoined      rejection = "join the conversation first"
	errLookupFailed   rejection = "conversation lookup failed"
)

func (h *Handler) dispatch(ctx context.Context, conn *rooms.Connection, data []byte) {
	var frame rooms.Frame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
		h.reject(conn, frame.Event, errMalformed)
		return
	}

	var req conversationRequest
	if len(frame.Data) > 0 {
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			h.reject(conn, frame.Event, errMalformed)
			return
		}
	}
	req.ConversationID = strings.TrimSpace(req.ConversationID)

	var err error
	switch frame.Event {
	case EventJoinConversation, EventLeaveConversation, EventTypingStart, EventTypingStop, EventGetTypingUsers:
		if req.ConversationID == "" {
			err = errMissingID
			break
		}
		err = h.route(ctx, conn, frame.Event, req.ConversationID)
	default:
		err = errUnknownEvent
	}

	if err != nil {
		h.reject(conn, frame.Event, err)
		return
	}
	metrics.InboundEvents.WithLabelValues(frame.Event, "ok").Inc()
}

func (h *Handler) route(ctx context.Context, conn *rooms.Connection, event, conversationID string) error {
	room := rooms.ConversationRoom(conversationID)
	id := conn.Identity

	switch event {
	case EventJoinConversation:
		if err := h.authorizeJoin(ctx, &id, conversationID); err != nil {
			return err
		}
		h.rooms.Join(conn, room)
		h.rooms.Send(conn, EventJoinedConversation, conversationAck{ConversationID: conversationID})

	case EventLeaveConversation:
		h.typing.Stop(conversationID, id.ID, conn.ID)
		h.rooms.Leave(conn, room)
		h.rooms.Send(conn, EventLeftConversation, conversationAck{ConversationID: conversationID})

	case EventTypingStart:
		if !h.rooms.InRoom(conn, room) {
			return errNotJoined
		}
		h.typing.Start(conversationID, id.ID, id.Name, conn.ID)

	case EventTypingStop:
		h.typing.Stop(conversationID, id.ID, conn.ID)

	case EventGetTypingUsers:
		if !h.rooms.InRoom(conn, room) {
			return errNotJoined
		}
		h.rooms.Send(conn, EventTypingUsersList, TypingUsersPayload{
			ConversationID: conversationID,
			Users:          h.typing.List(conversationID),
		})
	}
	return nil
}

// authorizeJoin lets staff join any existing conversation and visitors only
// the conversations that list them.
func (h *Handler) authorizeJoin(ctx context.Context, id *auth.Identity, conversationID string) error {
	lctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	conv, err := h.store.GetConversation(lctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return errNotFound
	}
	if err != nil {
		h.logger.Error("conversation lookup failed", "conversation_id", conversationID, "error", err)
		return errLookupFailed
	}
	if !id.IsStaff() && !conv.HasParticipant(id.ID) {
		return errNotParticipant
	}
	return nil
}

func (h *Handler) reject(conn *rooms.Connection, event string, err error) {
	var r rejection
	if !errors.As(err, &r) {
		r = rejection(err.Error())
	}
	label := event
	if err == errUnknownEvent || err == errMalformed {
		label = "unknown"
	}
	metrics.InboundEvents.WithLabelValues(label, "rejected").Inc()
	h.logger.Debug("rejected client event", "conn_id", conn.ID, "event", event, "reason", string(r))
	h.rooms.Send(conn, EventError, ErrorPayload{Event: event, Message: string(r)})
}
