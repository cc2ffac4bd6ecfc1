// Copyright 2013 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Small attachments may travel inline.
	maxMessageSize = 1 << 20

	// Time allowed to send the Authenticate event after connecting.
	authTimeout = 30 * time.Second
)

var (
	newline = []byte{'\n'}
	space   = []byte{' '}
)

// Incoming request types.
const (
	SendMessage            = 1
	MarkRead               = 2
	Authenticate           = 5
	SubscribeConversations = 6
	SubscribeMessages      = 7
	Unsubscribe            = 8
)

// Outgoing event types.
const (
	ConversationsSnapshot = 20
	MessagesSnapshot      = 21
	Ack                   = 22
	Failure               = 23
)

type IncomingAttachment struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

type IncomingEvent struct {
	ConversationId string              `json:"conversationId,omitempty"`
	RequestType    int                 `json:"requestType,omitempty"`
	Text           string              `json:"text,omitempty"`
	Attachment     *IncomingAttachment `json:"attachment,omitempty"`
	Token          string              `json:"token,omitempty"`
	// Target of Unsubscribe: "conversations", "messages" or empty for both.
	Target string `json:"target,omitempty"`
}

// OutgoingEvent is pushed to the peer. A snapshot event without its list
// field carries an empty list.
type OutgoingEvent struct {
	RequestType    int            `json:"requestType"`
	ConversationId string         `json:"conversationId,omitempty"`
	Message        *Message       `json:"message,omitempty"`
	Conversations  []Conversation `json:"conversations,omitempty"`
	Messages       []Message      `json:"messages,omitempty"`
	Marked         int            `json:"marked,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// TokenVerifier checks an ID token and returns the uid it was issued to.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (string, error)
}

// Client is a middleman between the ws connection and the chat service.
type Client struct {
	Hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan []byte

	// ID of the user
	id string

	chatService ChatService
	users       UserService
	verifier    TokenVerifier

	mu            sync.Mutex
	closed        bool
	viewer        *Viewer
	conversations *Subscription[[]Conversation]
	messages      *Subscription[[]Message]
}

func NewClient(hub *Hub, conn *websocket.Conn, send chan []byte, id string, chatService ChatService, users UserService, verifier TokenVerifier) *Client {
	return &Client{
		Hub:         hub,
		conn:        conn,
		send:        send,
		id:          id,
		chatService: chatService,
		users:       users,
		verifier:    verifier,
	}
}

// ReadPump pumps messages from the ws connection to the chat service.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.cancelSubscriptions("")
		c.Hub.Unregister(c)
		// WritePump flushes queued events and closes the connection.
		c.shutdown()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Warn().Err(err).Msg("unable to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// If user does not authenticate within allotted time then disconnect Client
	disconnectTimer := time.AfterFunc(authTimeout, func() {
		if c.currentViewer() == nil {
			c.fail("", errors.New("did not authenticate within 30 seconds"))
			c.shutdown()
		}
	})
	defer disconnectTimer.Stop()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("participant_id", c.id).Msg("websocket closed unexpectedly")
			}
			return
		}
		message = bytes.TrimSpace(bytes.Replace(message, newline, space, -1))

		var incomingEvent IncomingEvent
		if err := json.Unmarshal(message, &incomingEvent); err != nil {
			c.fail("", errors.New("could not process message"))
			continue
		}

		viewer := c.currentViewer()
		if viewer == nil {
			if incomingEvent.RequestType != Authenticate {
				c.fail(incomingEvent.ConversationId, errors.New("not authenticated"))
				continue
			}
			if err := c.authenticate(ctx, incomingEvent.Token); err != nil {
				c.fail("", err)
				return
			}
			disconnectTimer.Stop()
			c.emit(OutgoingEvent{RequestType: Ack})
			continue
		}

		c.handle(ctx, *viewer, incomingEvent)
	}
}

func (c *Client) authenticate(ctx context.Context, token string) error {
	uid, err := c.verifier.VerifyIDToken(ctx, token)
	if err != nil {
		return errors.New("token not valid")
	}
	if uid != c.id {
		return errors.New("token does not match client uid")
	}
	viewer, err := c.users.Viewer(ctx, uid)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.viewer = &viewer
	c.mu.Unlock()
	return nil
}

func (c *Client) handle(ctx context.Context, viewer Viewer, event IncomingEvent) {
	switch event.RequestType {
	case SendMessage:
		sender, err := c.actingParticipant(ctx, viewer, event.ConversationId)
		if err != nil {
			c.fail(event.ConversationId, err)
			return
		}
		var upload *Upload
		if event.Attachment != nil {
			upload = &Upload{Name: event.Attachment.Name, Bytes: event.Attachment.Data}
		}
		msg, err := c.chatService.SendMessage(ctx, event.ConversationId, sender, event.Text, upload)
		if err != nil {
			c.fail(event.ConversationId, err)
			return
		}
		c.emit(OutgoingEvent{RequestType: Ack, ConversationId: event.ConversationId, Message: &msg})
	case MarkRead:
		reader, err := c.actingParticipant(ctx, viewer, event.ConversationId)
		if err != nil {
			c.fail(event.ConversationId, err)
			return
		}
		marked, err := c.chatService.MarkConversationRead(ctx, event.ConversationId, reader)
		if err != nil {
			c.fail(event.ConversationId, err)
			return
		}
		c.emit(OutgoingEvent{RequestType: Ack, ConversationId: event.ConversationId, Marked: marked})
	case SubscribeConversations:
		sub, err := c.chatService.SubscribeConversations(ctx, viewer)
		if err != nil {
			c.fail("", err)
			return
		}
		c.mu.Lock()
		previous := c.conversations
		c.conversations = sub
		c.mu.Unlock()
		if previous != nil {
			previous.Cancel()
		}
		go forward(c, sub, func(conversations []Conversation) OutgoingEvent {
			return OutgoingEvent{RequestType: ConversationsSnapshot, Conversations: conversations}
		})
	case SubscribeMessages:
		if _, err := c.chatService.GetConversation(ctx, viewer, event.ConversationId); err != nil {
			c.fail(event.ConversationId, err)
			return
		}
		sub, err := c.chatService.SubscribeMessages(ctx, event.ConversationId)
		if err != nil {
			c.fail(event.ConversationId, err)
			return
		}
		// Opening a conversation replaces the previously open one.
		c.mu.Lock()
		previous := c.messages
		c.messages = sub
		c.mu.Unlock()
		if previous != nil {
			previous.Cancel()
		}
		conversationId := event.ConversationId
		go forward(c, sub, func(messages []Message) OutgoingEvent {
			return OutgoingEvent{RequestType: MessagesSnapshot, ConversationId: conversationId, Messages: messages}
		})
	case Unsubscribe:
		c.cancelSubscriptions(event.Target)
		c.emit(OutgoingEvent{RequestType: Ack})
	default:
		c.fail(event.ConversationId, errors.New("unknown request type"))
	}
}

func (c *Client) actingParticipant(ctx context.Context, viewer Viewer, conversationId string) (string, error) {
	conv, err := c.chatService.GetConversation(ctx, viewer, conversationId)
	if err != nil {
		return "", err
	}
	return ActingParticipant(conv, viewer), nil
}

// forward relays snapshots until the subscription ends. A failed stream is
// reported to the peer once and is not re-established.
func forward[T any](c *Client, sub *Subscription[T], toEvent func(T) OutgoingEvent) {
	for snapshot := range sub.Updates() {
		c.emit(toEvent(snapshot))
	}
	if err := sub.Err(); err != nil {
		c.fail("", err)
	}
}

func (c *Client) cancelSubscriptions(target string) {
	c.mu.Lock()
	var cancels []func()
	if (target == "" || target == "conversations") && c.conversations != nil {
		cancels = append(cancels, c.conversations.Cancel)
		c.conversations = nil
	}
	if (target == "" || target == "messages") && c.messages != nil {
		cancels = append(cancels, c.messages.Cancel)
		c.messages = nil
	}
	c.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

func (c *Client) currentViewer() *Viewer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewer
}

func (c *Client) emit(event OutgoingEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("could not encode outgoing event")
		return
	}
	c.deliver(payload)
}

func (c *Client) fail(conversationId string, err error) {
	c.emit(OutgoingEvent{RequestType: Failure, ConversationId: conversationId, Error: err.Error()})
}

// deliver queues payload for WritePump. A client that cannot keep up is dropped.
func (c *Client) deliver(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
	default:
		log.Warn().Str("participant_id", c.id).Msg("client send buffer full, closing connection")
		c.closed = true
		close(c.send)
	}
}

// shutdown closes the send channel, which makes WritePump close the socket.
func (c *Client) shutdown() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
	c.cancelSubscriptions("")
}

// WritePump pumps messages from the client to the ws connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The channel was closed.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			// Add queued events to the current ws message.
			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				_, _ = w.Write(newline)
				_, _ = w.Write(next)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
