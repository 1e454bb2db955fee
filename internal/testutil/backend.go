package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

// Element — задача в формате бэкенда.
type Element struct {
	ID            string  `json:"id"`
	Text          string  `json:"text"`
	Importance    string  `json:"importance"`
	Deadline      *int64  `json:"deadline,omitempty"`
	Done          bool    `json:"done"`
	Color         *string `json:"color,omitempty"`
	CreatedAt     int64   `json:"created_at"`
	ChangedAt     int64   `json:"changed_at"`
	LastUpdatedBy string  `json:"last_updated_by"`
}

// Backend — in-memory бэкенд списка дел с проверкой ревизии и авторизации.
type Backend struct {
	Server *httptest.Server

	mu       sync.Mutex
	token    string
	revision int64
	items    []Element
	failures []int
	requests map[string]int
	headers  []http.Header
	delay    time.Duration
}

func NewBackend(t *testing.T, token string) *Backend {
	t.Helper()

	b := &Backend{
		token:    token,
		requests: make(map[string]int),
	}

	r := chi.NewRouter()
	r.Use(b.middleware)
	r.Get("/list", b.list)
	r.Patch("/list", b.replace)
	r.Post("/list", b.add)
	r.Get("/list/{id}", b.get)
	r.Put("/list/{id}", b.update)
	r.Delete("/list/{id}", b.delete)

	b.Server = httptest.NewServer(r)
	t.Cleanup(b.Server.Close)
	return b
}

func (b *Backend) URL() string { return b.Server.URL }

// Seed задает содержимое списка и ревизию.
func (b *Backend) Seed(revision int64, items ...Element) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revision = revision
	b.items = append([]Element(nil), items...)
}

func (b *Backend) Revision() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.revision
}

func (b *Backend) Items() []Element {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Element(nil), b.items...)
}

// FailNext заставляет следующие запросы вернуть указанные коды.
func (b *Backend) FailNext(codes ...int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = append(b.failures, codes...)
}

// SetDelay задерживает ответ на каждый запрос.
func (b *Backend) SetDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delay = d
}

// Requests — число запросов по ключу "METHOD /path-pattern".
func (b *Backend) Requests(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests[key]
}

func (b *Backend) LastHeader() http.Header {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.headers) == 0 {
		return nil
	}
	return b.headers[len(b.headers)-1]
}

func (b *Backend) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		key := r.Method + " /list"
		if r.URL.Path != "/list" {
			key += "/{id}"
		}
		b.requests[key]++
		b.headers = append(b.headers, r.Header.Clone())
		delay := b.delay

		if b.token != "" && r.Header.Get("Authorization") != "OAuth "+b.token {
			b.mu.Unlock()
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if len(b.failures) > 0 {
			code := b.failures[0]
			b.failures = b.failures[1:]
			b.mu.Unlock()
			http.Error(w, http.StatusText(code), code)
			return
		}
		b.mu.Unlock()

		if delay > 0 {
			time.Sleep(delay)
		}
		next.ServeHTTP(w, r)
	})
}

// checkRevision вызывается под мьютексом.
func (b *Backend) checkRevision(w http.ResponseWriter, r *http.Request) bool {
	known, err := strconv.ParseInt(r.Header.Get("X-Last-Known-Revision"), 10, 64)
	if err != nil || known != b.revision {
		http.Error(w, "unsynchronized data", http.StatusBadRequest)
		return false
	}
	return true
}

func (b *Backend) indexOf(id string) int {
	for i, e := range b.items {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (b *Backend) list(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	writeJSON(w, map[string]any{"status": "ok", "list": b.items, "revision": b.revision})
}

func (b *Backend) get(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.indexOf(chi.URLParam(r, "id"))
	if i < 0 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"status": "ok", "element": b.items[i], "revision": b.revision})
}

func (b *Backend) replace(w http.ResponseWriter, r *http.Request) {
	var req struct {
		List []Element `json:"list"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.checkRevision(w, r) {
		return
	}
	b.items = req.List
	b.revision++
	writeJSON(w, map[string]any{"status": "ok", "list": b.items, "revision": b.revision})
}

func (b *Backend) add(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Element Element `json:"element"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.checkRevision(w, r) {
		return
	}
	if b.indexOf(req.Element.ID) >= 0 {
		http.Error(w, "duplicate id", http.StatusBadRequest)
		return
	}
	b.items = append(b.items, req.Element)
	b.revision++
	writeJSON(w, map[string]any{"status": "ok", "element": req.Element, "revision": b.revision})
}

func (b *Backend) update(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Element Element `json:"element"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.checkRevision(w, r) {
		return
	}
	i := b.indexOf(chi.URLParam(r, "id"))
	if i < 0 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	b.items[i] = req.Element
	b.revision++
	writeJSON(w, map[string]any{"status": "ok", "element": req.Element, "revision": b.revision})
}

func (b *Backend) delete(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.checkRevision(w, r) {
		return
	}
	i := b.indexOf(chi.URLParam(r, "id"))
	if i < 0 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	removed := b.items[i]
	b.items = append(b.items[:i], b.items[i+1:]...)
	b.revision++
	writeJSON(w, map[string]any{"status": "ok", "element": removed, "revision": b.revision})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}
