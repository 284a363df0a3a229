// Package mediawikitest runs an in-memory api.php good enough for the login,
// token, logevents, page info and edit calls the reconciler makes.
package mediawikitest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"wikimoves/internal/mediawiki"
)

const (
	APIPath    = "/w/api.php"
	LoginToken = "logintoken+\\"
	CSRFToken  = "csrftoken+\\"

	sessionCookie = "mw_session"
)

// Request is one recorded call.
type Request struct {
	Method string
	Params url.Values
}

func (r Request) Is(action, key string) bool {
	return r.Params.Get("action") == action && (key == "" || r.Params.Has(key))
}

type Server struct {
	*httptest.Server

	mu sync.Mutex
	// Users maps user name to password.
	Users map[string]string
	// LogEvents per namespace, newest first.
	LogEvents map[int][]mediawiki.LogEvent
	// LogPageSize caps entries per logevents response; 0 returns everything.
	LogPageSize int
	// Pages known to the wiki, by title. Any other title is missing.
	Pages map[string]mediawiki.Page
	// Status, when set for an action key ("logevents", "pages", "edit",
	// "login", "tokens"), makes that call fail with the code.
	Status map[string]int
	// EditError, when set, is returned as an API error from action=edit.
	EditError string

	requests []Request
	edits    []url.Values
	nextRev  int64
}

func NewServer() *Server {
	s := &Server{
		Users:     map[string]string{},
		LogEvents: map[int][]mediawiki.LogEvent{},
		Pages:     map[string]mediawiki.Page{},
		Status:    map[string]int{},
		nextRev:   1000,
	}
	r := chi.NewRouter()
	r.Get(APIPath, s.handle)
	r.Post(APIPath, s.handle)
	s.Server = httptest.NewServer(r)
	return s
}

func (s *Server) APIURL() string { return s.URL + APIPath }

// AddPage registers an existing page; redirect marks it as a redirect.
func (s *Server) AddPage(title string, redirect bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Pages[title] = mediawiki.Page{
		PageID:   int64(len(s.Pages) + 1),
		Title:    title,
		Redirect: mediawiki.Flag(redirect),
	}
}

func (s *Server) AddMove(ns int, from, to, timestamp string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LogEvents[ns] = append(s.LogEvents[ns], mediawiki.LogEvent{
		LogID:     int64(len(s.LogEvents[ns]) + 1),
		NS:        ns,
		Title:     from,
		Type:      "move",
		Action:    "move",
		User:      "Mover",
		Timestamp: timestamp,
		Params:    mediawiki.LogParams{TargetNS: ns, TargetTitle: to},
	})
}

func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Count returns how many recorded requests satisfy match.
func (s *Server) Count(match func(Request) bool) int {
	n := 0
	for _, r := range s.Requests() {
		if match(r) {
			n++
		}
	}
	return n
}

func (s *Server) Edits() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.edits...)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p := r.Form

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, Request{Method: r.Method, Params: p})

	key := actionKey(p)
	if code, ok := s.Status[key]; ok {
		w.WriteHeader(code)
		return
	}

	switch key {
	case "login_token":
		writeJSON(w, map[string]any{"query": map[string]any{"tokens": map[string]any{"logintoken": LoginToken}}})
	case "login":
		s.login(w, p)
	case "tokens":
		tok := "+\\"
		if s.hasSession(r) {
			tok = CSRFToken
		}
		writeJSON(w, map[string]any{"query": map[string]any{"tokens": map[string]any{"csrftoken": tok}}})
	case "logevents":
		s.logEvents(w, p)
	case "pages":
		s.pages(w, p)
	case "siteinfo":
		writeJSON(w, map[string]any{"query": map[string]any{"general": map[string]any{"sitename": "Test"}}})
	case "edit":
		s.edit(w, p, s.hasSession(r))
	default:
		writeJSON(w, map[string]any{"error": map[string]any{"code": "badvalue", "info": "unsupported request"}})
	}
}

func actionKey(p url.Values) string {
	switch p.Get("action") {
	case "login":
		return "login"
	case "edit":
		return "edit"
	case "query":
		switch {
		case p.Get("meta") == "tokens" && p.Get("type") == "login":
			return "login_token"
		case p.Get("meta") == "tokens":
			return "tokens"
		case p.Get("meta") == "siteinfo":
			return "siteinfo"
		case p.Get("list") == "logevents":
			return "logevents"
		case p.Has("titles") || p.Has("pageids"):
			return "pages"
		}
	}
	return ""
}

func (s *Server) hasSession(r *http.Request) bool {
	c, err := r.Cookie(sessionCookie)
	return err == nil && c.Value != ""
}

func (s *Server) login(w http.ResponseWriter, p url.Values) {
	name := p.Get("lgname")
	want, ok := s.Users[name]
	if !ok || want != p.Get("lgpassword") || p.Get("lgtoken") != LoginToken {
		writeJSON(w, map[string]any{"login": map[string]any{"result": "Failed", "reason": "Incorrect username or password entered."}})
		return
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: name, Path: "/"})
	writeJSON(w, map[string]any{"login": map[string]any{"result": "Success", "lguserid": 1, "lgname": name}})
}

func (s *Server) logEvents(w http.ResponseWriter, p url.Values) {
	ns, _ := strconv.Atoi(p.Get("lenamespace"))
	all := s.LogEvents[ns]
	offset, _ := strconv.Atoi(p.Get("lecontinue"))
	if offset > len(all) {
		offset = len(all)
	}
	end := len(all)
	if s.LogPageSize > 0 && offset+s.LogPageSize < end {
		end = offset + s.LogPageSize
	}
	resp := map[string]any{
		"query": map[string]any{"logevents": append([]mediawiki.LogEvent{}, all[offset:end]...)},
	}
	if end < len(all) {
		resp["continue"] = map[string]string{"lecontinue": strconv.Itoa(end), "continue": "-||"}
	}
	writeJSON(w, resp)
}

// pages mimics formatversion=1: missing titles get ids -1, -2, ... per
// request, so two batches reuse the same negative keys.
func (s *Server) pages(w http.ResponseWriter, p url.Values) {
	out := map[string]any{}
	missing := 0
	for _, title := range strings.Split(p.Get("titles"), "|") {
		if title == "" {
			continue
		}
		page, ok := s.Pages[title]
		if !ok {
			missing++
			out[strconv.Itoa(-missing)] = map[string]any{"ns": 0, "title": title, "missing": ""}
			continue
		}
		entry := map[string]any{"pageid": page.PageID, "ns": page.NS, "title": page.Title}
		if page.Redirect {
			entry["redirect"] = ""
		}
		out[strconv.FormatInt(page.PageID, 10)] = entry
	}
	writeJSON(w, map[string]any{"batchcomplete": "", "query": map[string]any{"pages": out}})
}

func (s *Server) edit(w http.ResponseWriter, p url.Values, session bool) {
	if p.Get("assert") == "user" && !session {
		writeJSON(w, map[string]any{"error": map[string]any{"code": "assertuserfailed", "info": "You are no longer logged in."}})
		return
	}
	if p.Get("token") != CSRFToken || !session {
		writeJSON(w, map[string]any{"error": map[string]any{"code": "badtoken", "info": "Invalid CSRF token."}})
		return
	}
	if s.EditError != "" {
		writeJSON(w, map[string]any{"error": map[string]any{"code": s.EditError, "info": "edit refused"}})
		return
	}
	s.edits = append(s.edits, p)
	s.nextRev++
	writeJSON(w, map[string]any{"edit": map[string]any{
		"result":   "Success",
		"title":    p.Get("title"),
		"newrevid": s.nextRev,
	}})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
