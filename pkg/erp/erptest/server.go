// Package erptest provides an in-memory ERP REST API for tests.
package erptest

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/David-Botos/erp-ingress/pkg/erp"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	OpList   = "list"
	OpGet    = "get"
	OpCreate = "create"
	OpUpdate = "update"
	OpSubmit = "submit"
	OpCancel = "cancel"
)

type failure struct {
	op, doctype string
	field       string
	value       any
	remaining   int // -1 for persistent
	status      int
	message     string
}

// Server is a fake ERP. Documents are kept per doctype in insertion order.
type Server struct {
	*httptest.Server

	APIKey    string
	APISecret string

	mu        sync.Mutex
	docs      map[string][]erp.Doc
	nameField map[string]string
	seq       map[string]int
	failures  []*failure
	calls     map[string]int
}

// NewServer starts a fake ERP accepting the key/secret pair "key"/"secret"
func NewServer() *Server {
	s := &Server{
		APIKey:    "key",
		APISecret: "secret",
		docs:      map[string][]erp.Doc{},
		nameField: map[string]string{},
		seq:       map[string]int{},
		calls:     map[string]int{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Client returns a client with fast retries pointed at the server
func (s *Server) Client(logger *zap.Logger) *erp.Client {
	policy := erp.RetryPolicy{
		MaxRetries:     2,
		BaseDelay:      time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		Statuses:       []int{429, 500, 502, 503, 504},
		AttemptTimeout: 5 * time.Second,
	}
	rt := erp.NewRetryTransport(s.Server.Client().Transport, policy, logger)
	return erp.NewClientWithTransport(s.URL, s.APIKey, s.APISecret, rt, nil, 2, logger)
}

// NameBy names created documents of doctype after the given field
func (s *Server) NameBy(doctype, field string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nameField[doctype] = field
}

// Seed stores documents as they would exist before a run
func (s *Server) Seed(doctype string, docs ...erp.Doc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		doc := copyDoc(d)
		doc["doctype"] = doctype
		if _, ok := doc["name"]; !ok {
			doc["name"] = s.newName(doctype, doc)
		}
		if _, ok := doc["docstatus"]; !ok {
			doc["docstatus"] = 0
		}
		s.docs[doctype] = append(s.docs[doctype], doc)
	}
}

// Docs returns copies of the stored documents of a doctype
func (s *Server) Docs(doctype string) []erp.Doc {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]erp.Doc, 0, len(s.docs[doctype]))
	for _, d := range s.docs[doctype] {
		out = append(out, copyDoc(d))
	}
	return out
}

// Doc returns a copy of one stored document
func (s *Server) Doc(doctype, name string) (erp.Doc, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, d := s.find(doctype, name); d != nil {
		return copyDoc(d), true
	}
	return nil, false
}

// Calls returns how many requests of op reached doctype
func (s *Server) Calls(op, doctype string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op+" "+doctype]
}

// Writes returns the number of create, update, submit and cancel requests
func (s *Server) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, v := range s.calls {
		op := strings.SplitN(k, " ", 2)[0]
		if op == OpCreate || op == OpUpdate || op == OpSubmit || op == OpCancel {
			n += v
		}
	}
	return n
}

// FailNext makes the next n requests of op on doctype answer with status
func (s *Server) FailNext(op, doctype string, n, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, &failure{op: op, doctype: doctype, remaining: n, status: status, message: message})
}

// FailWhen makes every request of op on doctype whose document carries
// field=value answer with status
func (s *Server) FailWhen(op, doctype, field string, value any, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, &failure{op: op, doctype: doctype, field: field, value: value, remaining: -1, status: status, message: message})
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != fmt.Sprintf("token %s:%s", s.APIKey, s.APISecret) {
		writeError(w, http.StatusUnauthorized, "AuthenticationError")
		return
	}

	path := r.URL.EscapedPath()
	switch {
	case path == "/api/method/frappe.auth.get_logged_user":
		writeJSON(w, http.StatusOK, erp.Doc{"message": "Administrator"})

	case path == "/api/method/frappe.client.submit" && r.Method == http.MethodPost:
		s.handleSubmit(w, r)

	case path == "/api/method/frappe.client.cancel" && r.Method == http.MethodPost:
		s.handleCancel(w, r)

	case strings.HasPrefix(path, "/api/resource/"):
		parts := strings.Split(strings.TrimPrefix(path, "/api/resource/"), "/")
		doctype, err := url.PathUnescape(parts[0])
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if len(parts) == 1 {
			switch r.Method {
			case http.MethodGet:
				s.handleList(w, r, doctype)
			case http.MethodPost:
				s.handleCreate(w, r, doctype)
			default:
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			}
			return
		}
		name, err := url.PathUnescape(strings.Join(parts[1:], "/"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		switch r.Method {
		case http.MethodGet:
			s.handleGet(w, doctype, name)
		case http.MethodPut:
			s.handleUpdate(w, r, doctype, name)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}

	default:
		writeError(w, http.StatusNotFound, "no route "+path)
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, doctype string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failing(OpList, doctype, nil, w) {
		return
	}

	q := r.URL.Query()
	var fields []string
	if f := q.Get("fields"); f != "" {
		if err := json.Unmarshal([]byte(f), &fields); err != nil {
			writeError(w, http.StatusBadRequest, "invalid fields")
			return
		}
	}
	var filters [][]any
	if f := q.Get("filters"); f != "" {
		if err := json.Unmarshal([]byte(f), &filters); err != nil {
			writeError(w, http.StatusBadRequest, "invalid filters")
			return
		}
	}
	start, _ := strconv.Atoi(q.Get("limit_start"))
	length, _ := strconv.Atoi(q.Get("limit_page_length"))
	if length <= 0 {
		length = 20
	}

	var matched []erp.Doc
	for _, d := range s.docs[doctype] {
		if matches(d, filters) {
			matched = append(matched, project(d, fields))
		}
	}

	page := []erp.Doc{}
	if start < len(matched) {
		end := start + length
		if end > len(matched) {
			end = len(matched)
		}
		page = matched[start:end]
	}
	writeJSON(w, http.StatusOK, erp.Doc{"data": page})
}

func (s *Server) handleGet(w http.ResponseWriter, doctype, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, d := s.find(doctype, name)
	if s.failing(OpGet, doctype, d, w) {
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("%s %s not found", doctype, name))
		return
	}
	writeJSON(w, http.StatusOK, erp.Doc{"data": copyDoc(d)})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, doctype string) {
	doc, ok := readDoc(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failing(OpCreate, doctype, doc, w) {
		return
	}

	name, _ := doc["name"].(string)
	if name == "" {
		name = s.newName(doctype, doc)
	}
	if _, existing := s.find(doctype, name); existing != nil {
		writeError(w, http.StatusConflict, fmt.Sprintf("DuplicateEntryError: %s %s already exists", doctype, name))
		return
	}

	doc["name"] = name
	doc["doctype"] = doctype
	doc["docstatus"] = 0
	s.docs[doctype] = append(s.docs[doctype], doc)
	writeJSON(w, http.StatusOK, erp.Doc{"data": copyDoc(doc)})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request, doctype, name string) {
	fields, ok := readDoc(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, d := s.find(doctype, name)
	if s.failing(OpUpdate, doctype, d, w) {
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("%s %s not found", doctype, name))
		return
	}
	if erp.DocStatus(d) != 0 {
		writeError(w, http.StatusExpectationFailed, "UpdateAfterSubmitError: Not allowed to change fields after submission")
		return
	}
	for k, v := range fields {
		if k == "name" || k == "doctype" || k == "docstatus" {
			continue
		}
		d[k] = v
	}
	writeJSON(w, http.StatusOK, erp.Doc{"data": copyDoc(d)})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, ok := readDoc(w, r)
	if !ok {
		return
	}
	doc, _ := body["doc"].(map[string]any)
	doctype, _ := doc["doctype"].(string)
	name, _ := doc["name"].(string)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, d := s.find(doctype, name)
	if s.failing(OpSubmit, doctype, d, w) {
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("%s %s not found", doctype, name))
		return
	}
	if erp.DocStatus(d) != 0 {
		writeError(w, http.StatusExpectationFailed, "Cannot submit a document that is not a draft")
		return
	}
	d["docstatus"] = 1
	writeJSON(w, http.StatusOK, erp.Doc{"message": copyDoc(d)})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	body, ok := readDoc(w, r)
	if !ok {
		return
	}
	doctype, _ := body["doctype"].(string)
	name, _ := body["name"].(string)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, d := s.find(doctype, name)
	if s.failing(OpCancel, doctype, d, w) {
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("%s %s not found", doctype, name))
		return
	}
	if erp.DocStatus(d) != 1 {
		writeError(w, http.StatusExpectationFailed, "Cannot cancel a document that is not submitted")
		return
	}
	d["docstatus"] = 2
	writeJSON(w, http.StatusOK, erp.Doc{"message": nil})
}

// failing counts the call and writes an injected failure when one applies.
// Callers hold s.mu.
func (s *Server) failing(op, doctype string, doc erp.Doc, w http.ResponseWriter) bool {
	s.calls[op+" "+doctype]++
	for _, f := range s.failures {
		if f.op != op || f.doctype != doctype || f.remaining == 0 {
			continue
		}
		if f.field != "" && (doc == nil || fmt.Sprint(doc[f.field]) != fmt.Sprint(f.value)) {
			continue
		}
		if f.remaining > 0 {
			f.remaining--
		}
		writeError(w, f.status, f.message)
		return true
	}
	return false
}

func (s *Server) find(doctype, name string) (int, erp.Doc) {
	for i, d := range s.docs[doctype] {
		if d["name"] == name {
			return i, d
		}
	}
	return -1, nil
}

func (s *Server) newName(doctype string, doc erp.Doc) string {
	if field, ok := s.nameField[doctype]; ok {
		if v, ok := doc[field].(string); ok && v != "" {
			return v
		}
	}
	s.seq[doctype]++
	prefix := strings.ToUpper(strings.ReplaceAll(doctype, " ", "-"))
	return fmt.Sprintf("%s-%05d", prefix, s.seq[doctype])
}

func readDoc(w http.ResponseWriter, r *http.Request) (erp.Doc, bool) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	doc := erp.Doc{}
	if err := json.Unmarshal(data, &doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, false
	}
	return doc, true
}

func matches(d erp.Doc, filters [][]any) bool {
	for _, f := range filters {
		if len(f) != 3 {
			continue
		}
		field, _ := f[0].(string)
		op, _ := f[1].(string)
		got := fmt.Sprint(normalize(d[field]))
		want := f[2]
		switch strings.ToLower(op) {
		case "=":
			if got != fmt.Sprint(normalize(want)) {
				return false
			}
		case "!=":
			if got == fmt.Sprint(normalize(want)) {
				return false
			}
		case "in", "not in":
			found := false
			if list, ok := want.([]any); ok {
				for _, v := range list {
					if got == fmt.Sprint(normalize(v)) {
						found = true
						break
					}
				}
			}
			if found != (strings.ToLower(op) == "in") {
				return false
			}
		}
	}
	return true
}

// normalize renders whole floats as ints so 1 and 1.0 compare equal
func normalize(v any) any {
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return int64(f)
	}
	return v
}

func project(d erp.Doc, fields []string) erp.Doc {
	if len(fields) == 0 {
		return erp.Doc{"name": d["name"]}
	}
	out := erp.Doc{}
	for _, f := range fields {
		if f == "*" {
			return copyDoc(d)
		}
		if v, ok := d[f]; ok {
			out[f] = v
		} else {
			out[f] = nil
		}
	}
	return out
}

func copyDoc(d erp.Doc) erp.Doc {
	out := make(erp.Doc, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, erp.Doc{"exception": message})
}
