package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/RichardoC/voz/internal/session"
	"github.com/RichardoC/voz/internal/store"
	"github.com/RichardoC/voz/internal/title"
)

// Options carries the voice settings the page and the session bridge need.
type Options struct {
	APIKey         string
	AssistantID    string
	DesignMode     bool
	DesignInterval time.Duration
	MinDuration    time.Duration
}

type Handler struct {
	store  *store.Store
	recap  session.Recapper
	opts   Options
	logger *zap.Logger
}

func NewHandler(st *store.Store, recap session.Recapper, opts Options, logger *zap.Logger) *Handler {
	return &Handler{
		store:  st,
		recap:  recap,
		opts:   opts,
		logger: logger,
	}
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/config", h.GetConfig)
	mux.HandleFunc("/api/conversations", h.GetConversations)
	mux.HandleFunc("/api/conversations/delete", h.DeleteConversation)
	mux.HandleFunc("/api/conversations/update", h.UpdateConversation)
	mux.HandleFunc("/api/messages", h.GetMessages)
	mux.HandleFunc("/api/title", h.SynthesizeTitle)
	mux.HandleFunc("/api/session", h.Session)
}

type CreateConversationRequest struct {
	Title string `json:"title"`
}

type UpdateConversationRequest struct {
	Title string `json:"title"`
}

type ConfigResponse struct {
	APIKey      string `json:"apiKey,omitempty"`
	AssistantID string `json:"assistantId,omitempty"`
	DesignMode  bool   `json:"designMode"`
}

type TitleResponse struct {
	Title string `json:"title"`
}

// GetConfig tells the page how to initialise the voice SDK.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := ConfigResponse{DesignMode: h.opts.DesignMode}
	if !h.opts.DesignMode {
		resp.APIKey = h.opts.APIKey
		resp.AssistantID = h.opts.AssistantID
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetConversations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		conversations := h.store.List()

		h.logger.Debug("Retrieved conversations",
			zap.Int("count", len(conversations)),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path))

		h.writeJSON(w, http.StatusOK, conversations)

	case http.MethodPost:
		var req CreateConversationRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "Invalid request body", http.StatusBadRequest)
				return
			}
		}

		conversation := h.store.Create(strings.TrimSpace(req.Title))
		h.writeJSON(w, http.StatusCreated, conversation)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	convID := r.URL.Query().Get("conversation_id")
	if convID == "" {
		http.Error(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}

	h.writeJSON(w, http.StatusOK, h.store.ListMessages(convID))
}

func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	convID := r.URL.Query().Get("conversation_id")
	if convID == "" {
		http.Error(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}

	h.store.Remove(convID)
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) UpdateConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	convID := r.URL.Query().Get("conversation_id")
	if convID == "" {
		http.Error(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}

	var req UpdateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	newTitle := strings.TrimSpace(req.Title)
	if newTitle == "" {
		http.Error(w, "Title is required", http.StatusBadRequest)
		return
	}

	if _, ok := h.store.Get(convID); !ok {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}
	h.store.Rename(convID, newTitle)
	w.WriteHeader(http.StatusOK)
}

// SynthesizeTitle previews the title that would be derived from two utterances.
func (h *Handler) SynthesizeTitle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	h.writeJSON(w, http.StatusOK, TitleResponse{Title: title.Synthesize(q.Get("user"), q.Get("assistant"))})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
