// Package backendtest runs an in-process stand-in for the hosted backend:
// auth token issuance, filtered table reads, write-through mutations, object
// storage PUTs, and a realtime websocket feed. Tests point the real clients
// at it instead of stubbing them out.
package backendtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"
)

const signingSecret = "backendtest-signing-secret-0123456789abcdef"

type user struct {
	id           string
	email        string
	passwordHash []byte
	metadata     map[string]string
}

// Server is the fake backend. Zero-value behavior: signups return an active
// session immediately; set DeferConfirmation to emulate email confirmation.
type Server struct {
	httpServer *httptest.Server

	mu                sync.Mutex
	users             map[string]*user // by email
	refreshTokens     map[string]string // refresh token -> email
	tables            map[string][]map[string]any
	objects           map[string][]byte // "bucket/path" -> content
	seq               int
	uploadStatus      int // non-zero forces this status on uploads
	DeferConfirmation bool

	wsMu    sync.Mutex
	wsConns []*wsClient

	upgrader websocket.Upgrader
}

// wsClient serializes writes; the reply loop and PushChange share the
// connection.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// New starts the fake backend on an ephemeral port.
func New() *Server {
	s := &Server{
		users:         make(map[string]*user),
		refreshTokens: make(map[string]string),
		tables:        make(map[string][]map[string]any),
		objects:       make(map[string][]byte),
	}

	r := mux.NewRouter()
	r.HandleFunc("/auth/v1/signup", s.handleSignup).Methods(http.MethodPost)
	r.HandleFunc("/auth/v1/token", s.handleToken).Methods(http.MethodPost)
	r.HandleFunc("/auth/v1/logout", s.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/rest/v1/{table}", s.handleTable)
	r.PathPrefix("/storage/v1/object/public/").HandlerFunc(s.handlePublicObject).Methods(http.MethodGet)
	r.PathPrefix("/storage/v1/object/").HandlerFunc(s.handleUpload).Methods(http.MethodPut)
	r.HandleFunc("/realtime/v1/websocket", s.handleWebsocket)

	s.httpServer = httptest.NewServer(r)
	return s
}

func (s *Server) URL() string     { return s.httpServer.URL }
func (s *Server) AnonKey() string { return "anon-test-key" }

func (s *Server) Close() {
	s.wsMu.Lock()
	for _, c := range s.wsConns {
		c.conn.Close()
	}
	s.wsMu.Unlock()
	s.httpServer.Close()
}

// FailUploads forces every storage PUT to answer with the given status.
func (s *Server) FailUploads(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadStatus = status
}

// Seed inserts a row directly, bypassing the HTTP surface.
func (s *Server) Seed(table string, row map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(table, row)
}

// Rows returns a snapshot of a table.
func (s *Server) Rows(table string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, len(s.tables[table]))
	copy(out, s.tables[table])
	return out
}

// Object returns an uploaded object's bytes, if present.
func (s *Server) Object(bucket, path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[bucket+"/"+path]
	return b, ok
}

// RegisterUser creates an identity out of band and returns its id.
func (s *Server) RegisterUser(email, password string, metadata map[string]string) string {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &user{id: uuid.NewString(), email: email, passwordHash: hash, metadata: metadata}
	s.users[email] = u
	return u.id
}

// --- auth ---

func (s *Server) issueSession(u *user) map[string]any {
	claims := jwt.MapClaims{
		"sub":           u.id,
		"email":         u.email,
		"user_metadata": u.metadata,
		"role":          "authenticated",
		"exp":           time.Now().Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	access, _ := token.SignedString([]byte(signingSecret))

	refresh := uuid.NewString()
	s.refreshTokens[refresh] = u.email

	return map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"expires_in":    3600,
		"user": map[string]any{
			"id":            u.id,
			"email":         u.email,
			"user_metadata": u.metadata,
		},
	}
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string            `json:"email"`
		Password string            `json:"password"`
		Data     map[string]string `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[req.Email]; exists {
		http.Error(w, `{"msg":"user already registered"}`, http.StatusUnprocessableEntity)
		return
	}
	hash, _ := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
	u := &user{id: uuid.NewString(), email: req.Email, passwordHash: hash, metadata: req.Data}
	s.users[req.Email] = u

	if s.DeferConfirmation {
		writeJSON(w, map[string]any{"user": map[string]any{"id": u.id, "email": u.email}})
		return
	}
	writeJSON(w, s.issueSession(u))
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	grant := r.URL.Query().Get("grant_type")
	var req struct {
		Email        string `json:"email"`
		Password     string `json:"password"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch grant {
	case "password":
		u, ok := s.users[req.Email]
		if !ok || bcrypt.CompareHashAndPassword(u.passwordHash, []byte(req.Password)) != nil {
			http.Error(w, `{"msg":"invalid login credentials"}`, http.StatusBadRequest)
			return
		}
		writeJSON(w, s.issueSession(u))
	case "refresh_token":
		email, ok := s.refreshTokens[req.RefreshToken]
		if !ok {
			http.Error(w, `{"msg":"invalid refresh token"}`, http.StatusBadRequest)
			return
		}
		delete(s.refreshTokens, req.RefreshToken)
		writeJSON(w, s.issueSession(s.users[email]))
	default:
		http.Error(w, "unsupported grant", http.StatusBadRequest)
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// --- tables ---

func (s *Server) handleTable(w http.ResponseWriter, r *http.Request) {
	table := mux.Vars(r)["table"]

	switch r.Method {
	case http.MethodGet:
		s.handleSelect(w, r, table)
	case http.MethodPost:
		s.handleInsert(w, r, table)
	case http.MethodPatch:
		s.handlePatch(w, r, table)
	case http.MethodDelete:
		s.handleDelete(w, r, table)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request, table string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []map[string]any
	for _, row := range s.tables[table] {
		if matchesQuery(row, r.URL.Query()) {
			out = append(out, row)
		}
	}

	if order := r.URL.Query().Get("order"); order != "" {
		col, dir, _ := strings.Cut(order, ".")
		desc := dir == "desc"
		sort.SliceStable(out, func(i, j int) bool {
			a := fmt.Sprint(out[i][col])
			b := fmt.Sprint(out[j][col])
			if desc {
				return a > b
			}
			return a < b
		})
	}

	if out == nil {
		out = []map[string]any{}
	}
	writeJSON(w, out)
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request, table string) {
	var row map[string]any
	if err := json.NewDecoder(r.Body).Decode(&row); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	merge := strings.Contains(r.Header.Get("Prefer"), "merge-duplicates")
	if merge {
		s.upsertLocked(table, row)
	} else {
		s.insertLocked(table, row)
	}
	s.mu.Unlock()
	w.WriteHeader(http.StatusCreated)
	s.PushChange(table, "INSERT")
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request, table string) {
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	for _, row := range s.tables[table] {
		if matchesQuery(row, r.URL.Query()) {
			for k, v := range patch {
				row[k] = v
			}
		}
	}
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
	s.PushChange(table, "UPDATE")
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, table string) {
	s.mu.Lock()
	var kept []map[string]any
	for _, row := range s.tables[table] {
		if !matchesQuery(row, r.URL.Query()) {
			kept = append(kept, row)
		}
	}
	s.tables[table] = kept
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
	s.PushChange(table, "DELETE")
}

func (s *Server) insertLocked(table string, row map[string]any) {
	if _, ok := row["id"]; !ok {
		row["id"] = uuid.NewString()
	}
	if _, ok := row["created_at"]; !ok {
		s.seq++
		row["created_at"] = time.Unix(1700000000+int64(s.seq), 0).UTC().Format(time.RFC3339)
	}
	s.tables[table] = append(s.tables[table], row)
}

func (s *Server) upsertLocked(table string, row map[string]any) {
	id, _ := row["id"].(string)
	for _, existing := range s.tables[table] {
		if existing["id"] == id {
			for k, v := range row {
				existing[k] = v
			}
			return
		}
	}
	s.insertLocked(table, row)
}

// matchesQuery applies eq. filters and the or=(...) disjunction from the
// request's query parameters.
func matchesQuery(row map[string]any, q map[string][]string) bool {
	for key, vals := range q {
		switch key {
		case "select", "order":
			continue
		case "or":
			if !matchesOr(row, vals[0]) {
				return false
			}
		default:
			for _, v := range vals {
				if want, ok := strings.CutPrefix(v, "eq."); ok {
					if fmt.Sprint(row[key]) != want {
						return false
					}
				}
			}
		}
	}
	return true
}

func matchesOr(row map[string]any, expr string) bool {
	expr = strings.TrimPrefix(expr, "(")
	expr = strings.TrimSuffix(expr, ")")
	for _, clause := range strings.Split(expr, ",") {
		parts := strings.SplitN(clause, ".", 3)
		if len(parts) != 3 || parts[1] != "eq" {
			continue
		}
		if fmt.Sprint(row[parts[0]]) == parts[2] {
			return true
		}
	}
	return false
}

// --- storage ---

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	status := s.uploadStatus
	s.mu.Unlock()
	if status != 0 {
		http.Error(w, `{"error":"simulated storage failure"}`, status)
		return
	}

	if auth := r.Header.Get("Authorization"); auth == "" || auth == "Bearer "+s.AnonKey() {
		http.Error(w, `{"error":"signature verification failed"}`, http.StatusUnauthorized)
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/storage/v1/object/")
	s.mu.Lock()
	if _, exists := s.objects[key]; exists && r.Header.Get("x-upsert") != "true" {
		s.mu.Unlock()
		http.Error(w, `{"error":"The resource already exists"}`, http.StatusConflict)
		return
	}
	b, err := io.ReadAll(r.Body)
	if err != nil {
		s.mu.Unlock()
		http.Error(w, "read failed", http.StatusInternalServerError)
		return
	}
	s.objects[key] = b
	s.mu.Unlock()
	writeJSON(w, map[string]string{"Key": key})
}

func (s *Server) handlePublicObject(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/storage/v1/object/public/")
	s.mu.Lock()
	b, ok := s.objects[key]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Write(b)
}

// --- realtime ---

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &wsClient{conn: conn}
	s.wsMu.Lock()
	s.wsConns = append(s.wsConns, c)
	s.wsMu.Unlock()

	// Reply to joins and heartbeats so the client keeps the connection warm.
	go func() {
		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg["event"] == "phx_join" || msg["event"] == "heartbeat" {
				c.write(map[string]any{
					"topic":   msg["topic"],
					"event":   "phx_reply",
					"payload": map[string]any{"status": "ok"},
					"ref":     msg["ref"],
				})
			}
		}
	}()
}

// PushChange broadcasts a change notification for a table to every
// websocket subscriber.
func (s *Server) PushChange(table, eventType string) {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	for _, c := range s.wsConns {
		c.write(map[string]any{
			"topic":   "realtime:public:" + table,
			"event":   eventType,
			"payload": map[string]any{"table": table},
			"ref":     "",
		})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
