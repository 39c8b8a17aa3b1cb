// Package backendtest is an in-process fake of the discover backend for
// tests. It keeps an unread pool, topics, rules and a scheduler state, and
// counts every call by route.
package backendtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/luxzg/discoverctl/internal/constants"
	"github.com/luxzg/discoverctl/internal/model"
)

const (
	UserCookie  = "discover_session"
	AdminCookie = "discover_admin"

	Username    = "alice"
	UserSecret  = "user-secret"
	AdminSecret = "admin-secret"

	CooldownMessage = "ingestion just completed; wait a few seconds before starting again"
	BusyMessage     = "ingestion already running"
)

type Server struct {
	*httptest.Server

	mu       sync.Mutex
	calls    map[string]int
	sessions map[string]string // cookie value -> csrf token
	admins   map[string]string

	pool       []model.Item
	refillPool []model.Item
	seen       []int64
	actions    map[int64]string
	clicks     []int64
	topics     []model.Topic
	rules      []model.Rule
	nextID     int64
	state      model.IngestState
	lastMsg    string
	hidden     int

	// DefaultPenalty is returned as hide_rule_default_penalty.
	DefaultPenalty float64
	// SecretQuery additionally accepts the admin secret as this query
	// parameter.
	SecretQuery string

	failSeen    bool
	failRefresh bool
	failActions map[int64]bool
	forceStatus int
	ingestErr   string
	ingestBlock chan struct{}
	ingestEnter chan struct{}
	statusFail  bool
	feedDelay   time.Duration

	holdWant    int
	holdN       int
	holdAll     chan struct{}
	holdRelease chan struct{}
}

func New() *Server {
	s := &Server{
		calls:          map[string]int{},
		sessions:       map[string]string{},
		admins:         map[string]string{},
		actions:        map[int64]string{},
		failActions:    map[int64]bool{},
		DefaultPenalty: 7,
		nextID:         1,
	}
	s.Server = httptest.NewServer(s.routes())
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.count)

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", s.handleUserLogin)
		r.Get("/session", s.handleUserSession)
		r.Post("/logout", s.handleUserLogout)
		r.Group(func(r chi.Router) {
			r.Use(s.hold, s.requireUser)
			r.Get("/feed", s.handleFeed)
			r.Post("/feed/seen", s.handleSeen)
			r.Post("/feed/refresh", s.handleRefresh)
			r.Post("/articles/action", s.handleAction)
			r.Post("/articles/dontshow", s.handleDontShow)
			r.Post("/articles/click", s.handleClick)
		})
	})

	r.Route("/admin/api", func(r chi.Router) {
		r.Post("/login", s.handleAdminLogin)
		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/session", s.handleAdminSession)
			r.Post("/logout", s.handleAdminLogout)
			r.Get("/status", s.handleStatus)
			r.Get("/topics", s.handleTopics)
			r.Post("/topics", s.handleUpsertTopic)
			r.Delete("/topics", s.handleDeleteTopic)
			r.Get("/rules", s.handleRules)
			r.Post("/rules", s.handleUpsertRule)
			r.Delete("/rules", s.handleDeleteRule)
			r.Post("/ingest", s.handleIngest)
			r.Post("/dedupe", s.handleDedupe)
		})
	})
	return r
}

func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[r.Method+" "+r.URL.Path]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

// Calls returns how often "METHOD /path" was requested.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// TotalCalls counts every request received.
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

// --- knobs ---

// AddItems appends items to the unread pool, assigning ids when zero.
func (s *Server) AddItems(items ...model.Item) []model.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range items {
		items[i] = s.assign(items[i])
	}
	s.pool = append(s.pool, items...)
	return items
}

// RefillOnRefresh makes the next successful refresh add items to the pool.
func (s *Server) RefillOnRefresh(items ...model.Item) []model.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range items {
		items[i] = s.assign(items[i])
	}
	s.refillPool = append(s.refillPool, items...)
	return items
}

func (s *Server) assign(it model.Item) model.Item {
	if it.ID == 0 {
		it.ID = s.nextID
	}
	if it.ID >= s.nextID {
		s.nextID = it.ID + 1
	}
	if it.Title == "" {
		it.Title = "Item " + strconv.FormatInt(it.ID, 10)
	}
	if it.SourceDomain == "" {
		it.SourceDomain = "example.com"
	}
	if it.URL == "" {
		it.URL = "https://" + it.SourceDomain + "/" + strconv.FormatInt(it.ID, 10)
	}
	return it
}

func (s *Server) FailSeen(v bool)    { s.set(func() { s.failSeen = v }) }
func (s *Server) FailRefresh(v bool) { s.set(func() { s.failRefresh = v }) }
func (s *Server) FailStatus(v bool)  { s.set(func() { s.statusFail = v }) }

func (s *Server) FailAction(id int64) { s.set(func() { s.failActions[id] = true }) }

// ForceStatus answers every authenticated request with code; 0 disables.
func (s *Server) ForceStatus(code int) { s.set(func() { s.forceStatus = code }) }

// IngestConflict answers manual ingest with 409 and msg; "" disables.
func (s *Server) IngestConflict(msg string) { s.set(func() { s.ingestErr = msg }) }

// BlockIngest makes manual ingest report running and wait until release is
// closed. entered receives once the run has started.
func (s *Server) BlockIngest() (entered <-chan struct{}, release chan<- struct{}) {
	e := make(chan struct{}, 1)
	r := make(chan struct{})
	s.set(func() { s.ingestBlock, s.ingestEnter = r, e })
	return e, r
}

// HoldActions parks item action requests until release is closed. all is
// closed once n of them are waiting.
func (s *Server) HoldActions(n int) (all <-chan struct{}, release chan<- struct{}) {
	a := make(chan struct{})
	r := make(chan struct{})
	s.set(func() { s.holdWant, s.holdN, s.holdAll, s.holdRelease = n, 0, a, r })
	return a, r
}

func (s *Server) hold(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		release := s.holdRelease
		if release != nil && r.URL.Path == "/api/articles/action" {
			s.holdN++
			if s.holdN == s.holdWant {
				close(s.holdAll)
			}
		} else {
			release = nil
		}
		s.mu.Unlock()
		if release != nil {
			<-release
		}
		next.ServeHTTP(w, r)
	})
}

// DelayFeed slows every feed read.
func (s *Server) DelayFeed(d time.Duration) { s.set(func() { s.feedDelay = d }) }

func (s *Server) SetIngestState(st model.IngestState) { s.set(func() { s.state = st }) }

// ExpireSessions drops every cookie session.
func (s *Server) ExpireSessions() {
	s.set(func() {
		s.sessions = map[string]string{}
		s.admins = map[string]string{}
	})
}

func (s *Server) set(fn func()) {
	s.mu.Lock()
	fn()
	s.mu.Unlock()
}

// Seen returns every id marked seen, in order.
func (s *Server) Seen() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.seen...)
}

func (s *Server) Action(id int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actions[id]
}

func (s *Server) Clicks() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.clicks...)
}

func (s *Server) Rules() []model.Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Rule(nil), s.rules...)
}

func (s *Server) Topics() []model.Topic {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Topic(nil), s.topics...)
}

// --- helpers ---

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondErr(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, map[string]string{"error": msg})
}

func decode(r *http.Request, out any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func mutating(r *http.Request) bool {
	return r.Method != http.MethodGet && r.Method != http.MethodHead && r.Method != http.MethodOptions
}

func (s *Server) sessionInfo(csrf string) map[string]any {
	return map[string]any{
		"ok":                        true,
		"csrf_token":                csrf,
		"hide_rule_default_penalty": s.DefaultPenalty,
	}
}

func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		forced := s.forceStatus
		csrf, ok := s.cookieSession(r, UserCookie, s.sessions)
		s.mu.Unlock()
		if forced != 0 {
			respondErr(w, forced, http.StatusText(forced))
			return
		}
		if !ok {
			respondErr(w, http.StatusUnauthorized, "sign in required")
			return
		}
		if mutating(r) && r.Header.Get(constants.CSRFHeader) != csrf {
			respondErr(w, http.StatusForbidden, "invalid csrf token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		forced := s.forceStatus
		csrf, ok := s.cookieSession(r, AdminCookie, s.admins)
		query := s.SecretQuery
		s.mu.Unlock()
		if forced != 0 {
			respondErr(w, forced, http.StatusText(forced))
			return
		}

		secret := r.Header.Get(constants.DefaultSecretHeader)
		if secret == "" && query != "" {
			secret = r.URL.Query().Get(query)
		}
		if strings.TrimSpace(secret) != "" {
			if secret != AdminSecret {
				respondErr(w, http.StatusUnauthorized, "invalid admin secret")
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		if !ok {
			respondErr(w, http.StatusUnauthorized, "sign in required")
			return
		}
		if mutating(r) && r.Header.Get(constants.CSRFHeader) != csrf {
			respondErr(w, http.StatusForbidden, "invalid csrf token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// cookieSession must be called with s.mu held.
func (s *Server) cookieSession(r *http.Request, name string, table map[string]string) (string, bool) {
	c, err := r.Cookie(name)
	if err != nil {
		return "", false
	}
	csrf, ok := table[c.Value]
	return csrf, ok
}

func (s *Server) newSession(w http.ResponseWriter, name string, table map[string]string) string {
	token, csrf := uuid.NewString(), uuid.NewString()
	table[token] = csrf
	http.SetCookie(w, &http.Cookie{Name: name, Value: token, Path: "/", HttpOnly: true, MaxAge: 3600})
	return csrf
}

func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{Name: name, Value: "", Path: "/", MaxAge: -1})
}
