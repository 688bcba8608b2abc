// Package qbotest provides an in-memory fake of the accounting provider's
// company API and token endpoint, for tests of the adapters and the sync
// engine.
package qbotest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// TokenPath is the token endpoint path served by the fake.
const TokenPath = "/oauth2/v1/tokens/bearer"

var (
	companyPath = regexp.MustCompile(`^/company/([^/]+)/([a-z]+)(?:/([^/]+))?$`)
	queryStmt   = regexp.MustCompile(`^select \* from (\w+) where (\w+) = '((?:[^'\\]|\\.)*)'$`)
)

var entityNames = map[string]string{
	"vendor":   "Vendor",
	"customer": "Customer",
	"bill":     "Bill",
	"invoice":  "Invoice",
	"payment":  "Payment",
}

// Failure is a canned error response consumed by matching requests.
type Failure struct {
	Method string // empty matches any
	Entity string // lowercase entity or "query"; empty matches any
	Status int
	Body   string
	Times  int
}

// Create is a recorded create request.
type Create struct {
	Entity string
	Body   []byte
}

// Server is the fake provider. All methods are safe for concurrent use.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	objects   map[string]map[string]map[string]any // entity -> id -> object
	order     map[string][]string
	creates   []Create
	failures  []*Failure
	nextID    int
	requests  int
	tokenResp func(w http.ResponseWriter)
	tokenHits int
}

// New starts a fake provider. Close it with Server.Close.
func New() *Server {
	s := &Server{
		objects: make(map[string]map[string]map[string]any),
		order:   make(map[string][]string),
		nextID:  100,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))

	return s
}

// APIBase is the base URL to hand to qbo.NewClient.
func (s *Server) APIBase() string {
	return s.URL + "/v3"
}

// TokenURL is the token endpoint URL.
func (s *Server) TokenURL() string {
	return s.URL + TokenPath
}

// Fail queues a canned failure.
func (s *Server) Fail(f Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.Times <= 0 {
		f.Times = 1
	}

	s.failures = append(s.failures, &f)
}

// SetTokenResponse overrides the token endpoint's response.
func (s *Server) SetTokenResponse(fn func(w http.ResponseWriter)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokenResp = fn
}

// Seed stores an existing remote object and returns its id.
func (s *Server) Seed(entity string, obj map[string]any) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.store(strings.ToLower(entity), obj)
}

// Creates returns recorded create bodies for the lowercase entity.
func (s *Server) Creates(entity string) []Create {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Create

	for _, c := range s.creates {
		if c.Entity == entity {
			out = append(out, c)
		}
	}

	return out
}

// CreateOrder returns the entity names of all creates in request order.
func (s *Server) CreateOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.creates))
	for _, c := range s.creates {
		out = append(out, c.Entity)
	}

	return out
}

// Requests returns the number of company API requests served.
func (s *Server) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.requests
}

// TokenRequests returns the number of token endpoint hits.
func (s *Server) TokenRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.tokenHits
}

// Object returns a stored object by entity and id.
func (s *Server) Object(entity, id string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[entity][id]

	return obj, ok
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == TokenPath {
		s.serveToken(w)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v3")

	m := companyPath.FindStringSubmatch(path)
	if m == nil {
		http.NotFound(w, r)
		return
	}

	entity, id := m[2], m[3]

	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests++

	if f := s.takeFailure(r.Method, entity); f != nil {
		w.WriteHeader(f.Status)
		_, _ = io.WriteString(w, f.Body)

		return
	}

	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		writeFault(w, http.StatusUnauthorized, "AuthenticationFault", "3200", "missing bearer token")
		return
	}

	w.Header().Set("intuit_tid", "tid-"+strconv.Itoa(s.requests))

	switch {
	case entity == "query" && r.Method == http.MethodGet:
		s.serveQuery(w, r.URL.Query().Get("query"))
	case id == "" && r.Method == http.MethodPost:
		s.serveCreate(w, r, entity)
	case id != "" && r.Method == http.MethodGet:
		s.serveGet(w, entity, id)
	default:
		http.Error(w, "unsupported", http.StatusMethodNotAllowed)
	}
}

func (s *Server) takeFailure(method, entity string) *Failure {
	for i, f := range s.failures {
		if f.Method != "" && f.Method != method {
			continue
		}

		if f.Entity != "" && f.Entity != entity {
			continue
		}

		f.Times--
		if f.Times <= 0 {
			s.failures = append(s.failures[:i], s.failures[i+1:]...)
		}

		return f
	}

	return nil
}

func (s *Server) serveQuery(w http.ResponseWriter, stmt string) {
	m := queryStmt.FindStringSubmatch(stmt)
	if m == nil {
		writeFault(w, http.StatusBadRequest, "QueryParserError", "4000", "cannot parse query: "+stmt)
		return
	}

	name, field := m[1], m[2]
	value := strings.NewReplacer(`\'`, `'`, `\\`, `\`).Replace(m[3])
	entity := strings.ToLower(name)

	var rows []map[string]any

	for _, id := range s.order[entity] {
		obj := s.objects[entity][id]
		if v, ok := obj[field].(string); ok && v == value {
			rows = append(rows, obj)
		}
	}

	resp := map[string]any{"QueryResponse": map[string]any{}}
	if len(rows) > 0 {
		resp["QueryResponse"] = map[string]any{name: rows, "startPosition": 1, "maxResults": len(rows)}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) serveCreate(w http.ResponseWriter, r *http.Request, entity string) {
	name, ok := entityNames[entity]
	if !ok {
		http.NotFound(w, r)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		writeFault(w, http.StatusBadRequest, "ValidationFault", "2500", "invalid json")
		return
	}

	s.creates = append(s.creates, Create{Entity: entity, Body: body})
	s.store(entity, obj)

	writeJSON(w, http.StatusOK, map[string]any{name: obj})
}

func (s *Server) serveGet(w http.ResponseWriter, entity, id string) {
	obj, ok := s.objects[entity][id]
	if !ok {
		writeFault(w, http.StatusNotFound, "ValidationFault", "610", "Object Not Found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{entityNames[entity]: obj})
}

func (s *Server) serveToken(w http.ResponseWriter) {
	s.mu.Lock()
	s.tokenHits++
	fn := s.tokenResp
	s.mu.Unlock()

	if fn != nil {
		fn(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  fmt.Sprintf("access-%d", s.TokenRequests()),
		"refresh_token": "refresh-rotated",
		"token_type":    "bearer",
		"expires_in":    3600,
	})
}

// store assigns an id and derived fields. Caller holds s.mu.
func (s *Server) store(entity string, obj map[string]any) string {
	s.nextID++
	id := strconv.Itoa(s.nextID)

	obj["Id"] = id
	obj["SyncToken"] = "0"

	if entity == "customer" {
		name, _ := obj["DisplayName"].(string)
		obj["FullyQualifiedName"] = name

		if parent, ok := obj["ParentRef"].(map[string]any); ok {
			pid, _ := parent["value"].(string)
			if p, ok := s.objects["customer"][pid]; ok {
				pname, _ := p["FullyQualifiedName"].(string)
				obj["FullyQualifiedName"] = pname + ":" + name
			}
		}
	}

	if s.objects[entity] == nil {
		s.objects[entity] = make(map[string]map[string]any)
	}

	s.objects[entity][id] = obj
	s.order[entity] = append(s.order[entity], id)

	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeFault(w http.ResponseWriter, status int, faultType, code, msg string) {
	writeJSON(w, status, map[string]any{
		"Fault": map[string]any{
			"Error": []map[string]any{{"Message": msg, "Detail": msg, "code": code}},
			"type":  faultType,
		},
	})
}
