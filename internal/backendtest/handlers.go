package backendtest

import (
	"net/http"
	"strconv"
	"time"

	"github.com/luxzg/discoverctl/internal/model"
)

func (s *Server) handleUserLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Secret   string `json:"secret"`
	}
	if err := decode(r, &req); err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Username != Username || req.Secret != UserSecret {
		respondErr(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	s.mu.Lock()
	csrf := s.newSession(w, UserCookie, s.sessions)
	info := s.sessionInfo(csrf)
	s.mu.Unlock()
	respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleUserSession(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	csrf, ok := s.cookieSession(r, UserCookie, s.sessions)
	info := s.sessionInfo(csrf)
	s.mu.Unlock()
	if !ok {
		respondErr(w, http.StatusUnauthorized, "sign in required")
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleUserLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(UserCookie); err == nil {
		s.mu.Lock()
		delete(s.sessions, c.Value)
		s.mu.Unlock()
	}
	clearCookie(w, UserCookie)
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	s.mu.Lock()
	delay := s.feedDelay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	n := min(limit, len(s.pool))
	items := append([]model.Item{}, s.pool[:n]...)
	s.mu.Unlock()
	respondJSON(w, http.StatusOK, map[string]any{"items": items})
}

// removeLocked drops id from the unread pool.
func (s *Server) removeLocked(id int64) bool {
	for i, it := range s.pool {
		if it.ID == id {
			s.pool = append(s.pool[:i], s.pool[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Server) handleSeen(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []int64 `json:"ids"`
	}
	if err := decode(r, &req); err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSeen {
		respondErr(w, http.StatusInternalServerError, "mark seen failed")
		return
	}
	for _, id := range req.IDs {
		s.removeLocked(id)
		s.seen = append(s.seen, id)
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRefresh {
		respondErr(w, http.StatusInternalServerError, "search backend unavailable")
		return
	}
	if s.ingestErr != "" {
		respondErr(w, http.StatusConflict, s.ingestErr)
		return
	}
	s.pool = append(s.pool, s.refillPool...)
	s.refillPool = nil
	s.state.LastCompletedAt = time.Now().UTC()
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     int64  `json:"id"`
		Action string `json:"action"`
	}
	if err := decode(r, &req); err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Action != "up" && req.Action != "down" {
		respondErr(w, http.StatusBadRequest, "action must be up or down")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failActions[req.ID] {
		respondErr(w, http.StatusInternalServerError, "action failed")
		return
	}
	s.removeLocked(req.ID)
	s.actions[req.ID] = req.Action
	if req.Action == "down" {
		s.hidden++
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleDontShow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID      int64   `json:"id"`
		Pattern string  `json:"pattern"`
		Penalty float64 `json:"penalty"`
	}
	if err := decode(r, &req); err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Penalty <= 0 {
		req.Penalty = 10
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failActions[req.ID] {
		respondErr(w, http.StatusInternalServerError, "action failed")
		return
	}
	s.removeLocked(req.ID)
	s.actions[req.ID] = "dontshow"
	s.rules = append(s.rules, model.Rule{ID: s.nextID, Pattern: req.Pattern, Penalty: req.Penalty, Enabled: true})
	s.nextID++
	s.hidden++
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID int64 `json:"id"`
	}
	if err := decode(r, &req); err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failActions[req.ID] {
		respondErr(w, http.StatusInternalServerError, "click failed")
		return
	}
	s.clicks = append(s.clicks, req.ID)
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// --- admin ---

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Secret string `json:"secret"`
	}
	if err := decode(r, &req); err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Secret != AdminSecret {
		respondErr(w, http.StatusUnauthorized, "invalid admin secret")
		return
	}
	s.mu.Lock()
	csrf := s.newSession(w, AdminCookie, s.admins)
	info := s.sessionInfo(csrf)
	s.mu.Unlock()
	respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleAdminSession(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	csrf, ok := s.cookieSession(r, AdminCookie, s.admins)
	info := s.sessionInfo(csrf)
	s.mu.Unlock()
	if !ok {
		respondErr(w, http.StatusUnauthorized, "sign in required")
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleAdminLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(AdminCookie); err == nil {
		s.mu.Lock()
		delete(s.admins, c.Value)
		s.mu.Unlock()
	}
	clearCookie(w, AdminCookie)
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statusFail {
		respondErr(w, http.StatusInternalServerError, "status unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"ingest": map[string]any{
			"state":           s.state,
			"last_message":    s.lastMsg,
			"last_message_at": time.Now().UTC(),
		},
		"counts": model.Counts{
			Unread: len(s.pool),
			Seen:   len(s.seen),
			Hidden: s.hidden,
		},
		"dedupe_hidden_total": 0,
	})
}

func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := map[string]model.TopicStats{}
	for _, t := range s.topics {
		stats[strconv.FormatInt(t.ID, 10)] = model.TopicStats{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": s.topics, "topic_stats": stats})
}

func (s *Server) handleUpsertTopic(w http.ResponseWriter, r *http.Request) {
	var req model.Topic
	if err := decode(r, &req); err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Weight == 0 {
		req.Weight = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.topics {
		if req.ID != 0 && t.ID == req.ID {
			s.topics[i] = req
			respondJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	}
	if req.ID == 0 {
		req.ID = s.nextID
		s.nextID++
	}
	s.topics = append(s.topics, req)
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleDeleteTopic(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.topics {
		if t.ID == id {
			s.topics = append(s.topics[:i], s.topics[i+1:]...)
			break
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	respondJSON(w, http.StatusOK, map[string]any{"items": s.rules})
}

func (s *Server) handleUpsertRule(w http.ResponseWriter, r *http.Request) {
	var req model.Rule
	if err := decode(r, &req); err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Penalty == 0 {
		req.Penalty = 5
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, rule := range s.rules {
		if req.ID != 0 && rule.ID == req.ID {
			s.rules[i] = req
			respondJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	}
	if req.ID == 0 {
		req.ID = s.nextID
		s.nextID++
	}
	s.rules = append(s.rules, req)
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, rule := range s.rules {
		if rule.ID == id {
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			break
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.ingestErr != "" {
		msg := s.ingestErr
		s.mu.Unlock()
		respondErr(w, http.StatusConflict, msg)
		return
	}
	if s.state.Running {
		s.mu.Unlock()
		respondErr(w, http.StatusConflict, BusyMessage)
		return
	}
	block, entered := s.ingestBlock, s.ingestEnter
	s.state.Running = true
	s.state.CurrentSource = "manual"
	s.state.StartedAt = time.Now().UTC()
	s.mu.Unlock()

	if block != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}

	s.mu.Lock()
	now := time.Now().UTC()
	s.state.Running = false
	s.state.LastSource = s.state.CurrentSource
	s.state.CurrentSource = ""
	s.state.LastDurationMS = now.Sub(s.state.StartedAt).Milliseconds()
	s.state.LastCompletedAt = now
	s.lastMsg = "ingestion completed"
	s.pool = append(s.pool, s.refillPool...)
	s.refillPool = nil
	s.mu.Unlock()
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleDedupe(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":                  true,
		"stats":               model.DedupeStats{SameRunHidden: 2, HistoricalHidden: 1},
		"dedupe_hidden_total": 3,
	})
}
