package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"messagingService/pkg/api"
	myMiddleware "messagingService/pkg/middleware"

	jsonPatch "github.com/evanphx/json-patch/v5"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  8092,
	WriteBufferSize: 8092,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type newConversation struct {
	CounterpartId string   `json:"counterpartId"`
	Kind          api.Kind `json:"kind"`
}

type conversationCreated struct {
	Id string `json:"id"`
}

type newMessage struct {
	Text       string                  `json:"text"`
	Attachment *api.IncomingAttachment `json:"attachment,omitempty"`
}

type readState struct {
	UnreadCount int64 `json:"unreadCount"`
}

type readResult struct {
	Marked int `json:"marked"`
}

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps the error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, api.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, api.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, api.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, api.ErrUploadFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("unable to encode response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		message = http.StatusText(status)
	}
	writeJSON(w, status, errorBody{Error: message})
}

func (s *Server) viewer(r *http.Request) (api.Viewer, error) {
	// UID from Access Token contained in Authorization header
	return s.userService.Viewer(r.Context(), myMiddleware.UID(r.Context()))
}

func (s *Server) CreateConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := myMiddleware.UID(r.Context())

		var body newConversation
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&body); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", api.ErrInvalidArgument, err))
			return
		}

		id, err := s.chatService.FindOrCreateDirectConversation(r.Context(), uid, body.CounterpartId, body.Kind)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, conversationCreated{Id: id})
	}
}

func (s *Server) CreateSupportConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewer, err := s.viewer(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if viewer.Role != api.RoleClient {
			writeError(w, r, fmt.Errorf("%w: only clients can open a support conversation", api.ErrForbidden))
			return
		}

		id, err := s.chatService.FindOrCreateSupportConversation(r.Context(), viewer.Id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, conversationCreated{Id: id})
	}
}

func (s *Server) GetConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewer, err := s.viewer(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		sub, err := s.chatService.SubscribeConversations(r.Context(), viewer)
		if err != nil {
			writeError(w, r, err)
			return
		}
		conversations, err := sub.First(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, conversations)
	}
}

func (s *Server) GetConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewer, err := s.viewer(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		conversation, err := s.chatService.GetConversation(r.Context(), viewer, chi.URLParam(r, "conversationId"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, conversation)
	}
}

func (s *Server) GetMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewer, err := s.viewer(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		messages, err := s.chatService.ListMessages(r.Context(), viewer, chi.URLParam(r, "conversationId"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, messages)
	}
}

func (s *Server) SendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conversationId := chi.URLParam(r, "conversationId")

		viewer, err := s.viewer(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		conversation, err := s.chatService.GetConversation(r.Context(), viewer, conversationId)
		if err != nil {
			writeError(w, r, err)
			return
		}

		text, upload, err := s.readMessage(w, r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		sender := api.ActingParticipant(conversation, viewer)
		message, err := s.chatService.SendMessage(r.Context(), conversationId, sender, text, upload)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, message)
	}
}

// readMessage accepts either a JSON body or a multipart form with "text" and "file".
func (s *Server) readMessage(w http.ResponseWriter, r *http.Request) (string, *api.Upload, error) {
	limit := s.maxAttachmentBytes + 1<<20
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(limit); err != nil {
			return "", nil, fmt.Errorf("%w: %v", api.ErrInvalidArgument, err)
		}
		text := r.FormValue("text")

		file, header, err := r.FormFile("file")
		if errors.Is(err, http.ErrMissingFile) {
			return text, nil, nil
		}
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", api.ErrInvalidArgument, err)
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", api.ErrInvalidArgument, err)
		}
		return text, &api.Upload{Name: header.Filename, Bytes: data}, nil
	}

	var body newMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return "", nil, fmt.Errorf("%w: %v", api.ErrInvalidArgument, err)
	}
	var upload *api.Upload
	if body.Attachment != nil {
		upload = &api.Upload{Name: body.Attachment.Name, Bytes: body.Attachment.Data}
	}
	return body.Text, upload, nil
}

func (s *Server) MarkConversationAsRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conversationId := chi.URLParam(r, "conversationId")

		viewer, err := s.viewer(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		conversation, err := s.chatService.GetConversation(r.Context(), viewer, conversationId)
		if err != nil {
			writeError(w, r, err)
			return
		}

		marked, err := s.chatService.MarkConversationRead(r.Context(), conversationId, api.ActingParticipant(conversation, viewer))
		if err != nil {
			writeError(w, r, err)
			return
		}
		log.Debug().Str("conversation_id", conversationId).Int("marked", marked).Msg("marked conversation as read")
		writeJSON(w, http.StatusOK, readResult{Marked: marked})
	}
}

// UpdateConversation applies an RFC 6902 patch to the caller's read state.
// The only change a participant can make is resetting its own unread counter.
func (s *Server) UpdateConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conversationId := chi.URLParam(r, "conversationId")

		patchJSON, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", api.ErrInvalidArgument, err))
			return
		}
		patch, err := jsonPatch.DecodePatch(patchJSON)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", api.ErrInvalidArgument, err))
			return
		}

		viewer, err := s.viewer(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		conversation, err := s.chatService.GetConversation(r.Context(), viewer, conversationId)
		if err != nil {
			writeError(w, r, err)
			return
		}
		participant := api.ActingParticipant(conversation, viewer)

		current, err := json.Marshal(readState{UnreadCount: conversation.UnreadCount[participant]})
		if err != nil {
			writeError(w, r, err)
			return
		}
		patched, err := patch.Apply(current)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", api.ErrInvalidArgument, err))
			return
		}
		var next readState
		if err := json.Unmarshal(patched, &next); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", api.ErrInvalidArgument, err))
			return
		}
		if next.UnreadCount != 0 {
			writeError(w, r, fmt.Errorf("%w: unreadCount can only be reset to 0", api.ErrInvalidArgument))
			return
		}

		if _, err := s.chatService.MarkConversationRead(r.Context(), conversationId, participant); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) ServeWs(hub *api.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := r.URL.Query().Get("uid")
		if uid == "" {
			http.Error(w, "uid in query param required", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		client := api.NewClient(hub, conn, make(chan []byte, 256), uid, s.chatService, s.userService, s.verifier)
		if !hub.Add(client) {
			_ = conn.Close()
			return
		}
		log.Debug().Str("participant_id", uid).Msg("connected to websocket")

		// Allow collection of memory referenced by the caller by doing all work in
		// new goroutines.
		go client.WritePump()
		go client.ReadPump()
	}
}
