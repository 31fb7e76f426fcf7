package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/hupe1980/freza/core"
	"github.com/hupe1980/freza/engine"
	"github.com/hupe1980/freza/memory"
)

type chatRequest struct {
	Message  string `json:"message"`
	Agent    string `json:"agent"`
	ThreadID string `json:"thread_id"`
	Channel  string `json:"channel"`
}

type chatResponse struct {
	InstanceID string `json:"instance_id"`
	ThreadID   string `json:"thread_id"`
	Agent      string `json:"agent"`
	Status     string `json:"status"`
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("invalid json: %v", err)})
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "empty message"})
		return
	}
	channel := strings.TrimSpace(req.Channel)
	if channel == "" {
		channel = s.opts.Channel
	}

	res, err := s.engine.StartInvocation(r.Context(), engine.StartRequest{
		Agent:    strings.TrimSpace(req.Agent),
		Message:  req.Message,
		ThreadID: strings.TrimSpace(req.ThreadID),
		Channel:  channel,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, chatResponse{
		InstanceID: res.InstanceID,
		ThreadID:   res.ThreadID,
		Agent:      res.Agent,
		Status:     "started",
	})
}

func (s *Server) handleInstances(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.ListActiveInstances())
}

func (s *Server) handleInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := s.engine.GetInstance(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.engine.Stop(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"instance_id": id, "status": "stopping"})
}

func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.ListThreads(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	if list == nil {
		list = []core.ThreadSummary{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleThread(w http.ResponseWriter, r *http.Request) {
	th, err := s.engine.GetThread(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, th)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Catalog().Agents())
}

func (s *Server) handleChannels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Catalog().Channels())
}

type memoryResponse struct {
	Agent   string   `json:"agent"`
	Content string   `json:"content"`
	Matches []string `json:"matches,omitempty"`
}

func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	agent := strings.TrimSpace(r.URL.Query().Get("agent"))
	if agent == "" {
		agent = core.DefaultAgent
	}
	if err := core.ValidateName(agent); err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, ok := s.engine.Catalog().Agent(agent); !ok {
		s.writeError(w, r, core.NewNotFound("agent", agent))
		return
	}

	content, err := s.engine.Memory().ReadLongTerm(agent)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := memoryResponse{Agent: agent, Content: content}
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		resp.Matches = memory.SearchLines(content, q, 50)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleShortTerm(w http.ResponseWriter, r *http.Request) {
	states, err := s.engine.Memory().ListShortTerm()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if states == nil {
		states = []core.ShortTermState{}
	}
	writeJSON(w, http.StatusOK, states)
}
