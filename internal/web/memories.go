package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rg1989/local-ai-voice-chat/internal/storage"
)

// memoryJSON is the wire shape of a persistent memory.
type memoryJSON struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toMemoryJSON(m storage.Memory) memoryJSON {
	return memoryJSON{
		ID:        m.ID,
		Content:   m.Content,
		Tags:      m.Tags,
		CreatedAt: m.CreatedAt,
	}
}

// handleListMemories returns all memories, newest first. With a "q" query
// parameter the store's relevance search is used instead.
func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	store := s.sessions.Memories()
	if store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "memory store not configured"})
		return
	}

	var (
		mems []storage.Memory
		err  error
	)
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		mems, err = store.SearchMemories(r.Context(), q, limit)
	} else {
		mems, err = store.ListMemories(r.Context())
	}
	if err != nil {
		slog.Error("listing memories failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "memory store unavailable"})
		return
	}

	out := make([]memoryJSON, 0, len(mems))
	for _, m := range mems {
		out = append(out, toMemoryJSON(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"memories": out})
}

// handleCreateMemory stores an explicit user fact for prompt injection.
func (s *Server) handleCreateMemory(w http.ResponseWriter, r *http.Request) {
	store := s.sessions.Memories()
	if store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "memory store not configured"})
		return
	}

	var req struct {
		Content string   `json:"content"`
		Tags    []string `json:"tags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content must not be empty"})
		return
	}

	mem, err := store.AddMemory(r.Context(), req.Content, "", req.Tags)
	if err != nil {
		slog.Error("storing memory failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "memory store unavailable"})
		return
	}
	writeJSON(w, http.StatusCreated, toMemoryJSON(*mem))
}

// handleDeleteMemory removes a stored memory by ID.
func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	store := s.sessions.Memories()
	if store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "memory store not configured"})
		return
	}

	id := r.PathValue("id")
	if err := store.DeleteMemory(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such memory"})
			return
		}
		slog.Error("deleting memory failed", "memory_id", id, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "memory store unavailable"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
