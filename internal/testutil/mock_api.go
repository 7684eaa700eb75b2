// Package testutil provides testing utilities for the force client.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockResponse defines a canned response for one path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockAPI is an in-memory REST API with a token endpoint, record storage
// and paginated queries.
type MockAPI struct {
	server  *httptest.Server
	mux     *http.ServeMux
	version string

	mu           sync.RWMutex
	handlers     map[string]http.HandlerFunc
	records      map[string]map[string]map[string]any
	queries      map[string][]map[string]any
	nextID       int
	nextToken    int
	nextQuery    int
	accessToken  string
	refreshToken string
	pageSize     int
	usageUsed    int
	usageLimit   int

	// Tracking
	RequestCount      int
	RefreshCount      int
	UnauthorizedCount int
	LastRequestHeader http.Header
}

// NewMockAPI starts a mock server for API version version (e.g. "23.0").
// The initial access token is "token-0" and the refresh token "refresh-0".
func NewMockAPI(version string) *MockAPI {
	m := &MockAPI{
		mux:          http.NewServeMux(),
		version:      version,
		handlers:     make(map[string]http.HandlerFunc),
		records:      make(map[string]map[string]map[string]any),
		queries:      make(map[string][]map[string]any),
		accessToken:  "token-0",
		refreshToken: "refresh-0",
		pageSize:     2000,
		usageLimit:   15000,
	}

	m.mux.HandleFunc("POST /services/oauth2/token", m.handleToken)
	data := "/services/data/{version}"
	m.mux.HandleFunc("GET "+data+"/sobjects", m.authorized(m.handleDescribeGlobal))
	m.mux.HandleFunc("GET "+data+"/sobjects/{type}/describe", m.authorized(m.handleDescribe))
	m.mux.HandleFunc("GET "+data+"/sobjects/{type}/{id}", m.authorized(m.handleRetrieve))
	m.mux.HandleFunc("POST "+data+"/sobjects/{type}", m.authorized(m.handleCreate))
	m.mux.HandleFunc("PATCH "+data+"/sobjects/{type}/{id}", m.authorized(m.handleUpdate))
	m.mux.HandleFunc("PATCH "+data+"/sobjects/{type}/{field}/{value}", m.authorized(m.handleUpsert))
	m.mux.HandleFunc("DELETE "+data+"/sobjects/{type}/{id}", m.authorized(m.handleDestroy))
	m.mux.HandleFunc("GET "+data+"/query", m.authorized(m.handleQuery))
	m.mux.HandleFunc("GET "+data+"/query/{locator}", m.authorized(m.handleQueryMore))

	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.RequestCount++
		m.LastRequestHeader = r.Header.Clone()
		handler, exists := m.handlers[r.URL.Path]
		m.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		m.mux.ServeHTTP(w, r)
	}))

	return m
}

// URL returns the mock server URL. It serves as login and instance URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Client returns an HTTP client for the server.
func (m *MockAPI) Client() *http.Client {
	return m.server.Client()
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// DataPath returns the REST base path, e.g. /services/data/v23.0.
func (m *MockAPI) DataPath() string {
	return "/services/data/v" + m.version
}

// Reset clears all tracking counters.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.RefreshCount = 0
	m.UnauthorizedCount = 0
	m.LastRequestHeader = nil
}

// SetHandler overrides the handler for a specific path.
func (m *MockAPI) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a canned response for a path.
func (m *MockAPI) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			_, _ = w.Write([]byte(resp.Body))
		}
	})
}

// SetPageSize sets the number of records per query page.
func (m *MockAPI) SetPageSize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageSize = n
}

// ExpireSession invalidates the current access token. The next data call
// gets a 401 until a refresh issues a new token.
func (m *MockAPI) ExpireSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accessToken = "expired"
}

// AccessToken returns the currently valid access token.
func (m *MockAPI) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accessToken
}

// Seed stores a record and returns its id.
func (m *MockAPI) Seed(objectType string, fields map[string]any) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(objectType, fields)
}

// Record returns a stored record, or nil.
func (m *MockAPI) Record(objectType, id string) map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[objectType][id]
	if !ok {
		return nil
	}
	return cloneFields(rec)
}

// Count returns the number of stored records of a type.
func (m *MockAPI) Count(objectType string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records[objectType])
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockAPI) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetRefreshCount returns the number of refresh token grants served.
func (m *MockAPI) GetRefreshCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RefreshCount
}

func (m *MockAPI) insertLocked(objectType string, fields map[string]any) string {
	m.nextID++
	id := fmt.Sprintf("001%012d", m.nextID)
	rec := cloneFields(fields)
	rec["Id"] = id
	rec["attributes"] = map[string]any{
		"type": objectType,
		"url":  m.DataPath() + "/sobjects/" + objectType + "/" + id,
	}
	if m.records[objectType] == nil {
		m.records[objectType] = make(map[string]map[string]any)
	}
	m.records[objectType][id] = rec
	return id
}

func (m *MockAPI) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		valid := r.Header.Get("Authorization") == "OAuth "+m.accessToken
		if !valid {
			m.UnauthorizedCount++
		}
		m.usageUsed++
		usage := fmt.Sprintf("api-usage=%d/%d", m.usageUsed, m.usageLimit)
		m.mu.Unlock()

		w.Header().Set("Sforce-Limit-Info", usage)
		if !valid {
			writeErrors(w, http.StatusUnauthorized, "INVALID_SESSION_ID", "Session expired or invalid")
			return
		}
		next(w, r)
	}
}

func (m *MockAPI) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch r.PostForm.Get("grant_type") {
	case "refresh_token":
		if r.PostForm.Get("refresh_token") != m.refreshToken {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":             "invalid_grant",
				"error_description": "expired access/refresh token",
			})
			return
		}
		m.RefreshCount++
	case "password", "authorization_code":
		m.refreshToken = "refresh-" + strconv.Itoa(m.nextToken+1)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}

	m.nextToken++
	m.accessToken = "token-" + strconv.Itoa(m.nextToken)
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token":  m.accessToken,
		"refresh_token": m.refreshToken,
		"instance_url":  m.server.URL,
		"token_type":    "Bearer",
	})
}

func (m *MockAPI) handleDescribeGlobal(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	types := make([]string, 0, len(m.records))
	for t := range m.records {
		types = append(types, t)
	}
	m.mu.RUnlock()
	slices.Sort(types)

	sobjects := make([]map[string]any, len(types))
	for i, t := range types {
		sobjects[i] = map[string]any{"name": t}
	}
	writeJSON(w, http.StatusOK, map[string]any{"encoding": "UTF-8", "maxBatchSize": 200, "sobjects": sobjects})
}

func (m *MockAPI) handleDescribe(w http.ResponseWriter, r *http.Request) {
	objectType := r.PathValue("type")
	w.Header().Set("Expires", time.Now().Add(10*time.Minute).UTC().Format(http.TimeFormat))
	w.Header().Set("ETag", `"`+objectType+`-describe"`)
	writeJSON(w, http.StatusOK, map[string]any{
		"name": objectType,
		"fields": []map[string]any{
			{"name": "Id", "type": "id"},
			{"name": "Name", "type": "string"},
		},
	})
}

func (m *MockAPI) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	rec := m.Record(r.PathValue("type"), r.PathValue("id"))
	if rec == nil {
		writeErrors(w, http.StatusNotFound, "NOT_FOUND", "The requested resource does not exist")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (m *MockAPI) handleCreate(w http.ResponseWriter, r *http.Request) {
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeErrors(w, http.StatusBadRequest, "JSON_PARSER_ERROR", err.Error())
		return
	}
	if _, ok := fields["Id"]; ok {
		writeErrors(w, http.StatusBadRequest, "INVALID_FIELD", "Id is not allowed on create")
		return
	}
	id := m.Seed(r.PathValue("type"), fields)
	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "success": true, "errors": []any{}})
}

func (m *MockAPI) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeErrors(w, http.StatusBadRequest, "JSON_PARSER_ERROR", err.Error())
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[r.PathValue("type")][r.PathValue("id")]
	if !ok {
		writeErrors(w, http.StatusNotFound, "NOT_FOUND", "The requested resource does not exist")
		return
	}
	for k, v := range fields {
		rec[k] = v
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *MockAPI) handleUpsert(w http.ResponseWriter, r *http.Request) {
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeErrors(w, http.StatusBadRequest, "JSON_PARSER_ERROR", err.Error())
		return
	}
	objectType, field, value := r.PathValue("type"), r.PathValue("field"), r.PathValue("value")

	m.mu.Lock()
	defer m.mu.Unlock()

	var matches []string
	for id, rec := range m.records[objectType] {
		if fmt.Sprint(rec[field]) == value {
			matches = append(matches, id)
		}
	}
	slices.Sort(matches)

	switch len(matches) {
	case 0:
		fields[field] = value
		id := m.insertLocked(objectType, fields)
		writeJSON(w, http.StatusCreated, map[string]any{"id": id, "success": true, "errors": []any{}})
	case 1:
		rec := m.records[objectType][matches[0]]
		for k, v := range fields {
			rec[k] = v
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		urls := make([]string, len(matches))
		for i, id := range matches {
			urls[i] = m.DataPath() + "/sobjects/" + objectType + "/" + id
		}
		writeJSON(w, http.StatusMultipleChoices, urls)
	}
}

func (m *MockAPI) handleDestroy(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	objectType, id := r.PathValue("type"), r.PathValue("id")
	if _, ok := m.records[objectType][id]; !ok {
		writeErrors(w, http.StatusNotFound, "ENTITY_IS_DELETED", "entity is deleted")
		return
	}
	delete(m.records[objectType], id)
	w.WriteHeader(http.StatusNoContent)
}

var fromClause = regexp.MustCompile(`(?i)\bfrom\s+(\w+)`)

func (m *MockAPI) handleQuery(w http.ResponseWriter, r *http.Request) {
	match := fromClause.FindStringSubmatch(r.URL.Query().Get("q"))
	if match == nil {
		writeErrors(w, http.StatusBadRequest, "MALFORMED_QUERY", "unexpected token")
		return
	}

	m.mu.Lock()
	ids := make([]string, 0, len(m.records[match[1]]))
	for id := range m.records[match[1]] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	rows := make([]map[string]any, len(ids))
	for i, id := range ids {
		rows[i] = cloneFields(m.records[match[1]][id])
	}
	m.nextQuery++
	queryID := "01g" + strconv.Itoa(m.nextQuery)
	m.queries[queryID] = rows
	m.mu.Unlock()

	m.writePage(w, queryID, 0)
}

func (m *MockAPI) handleQueryMore(w http.ResponseWriter, r *http.Request) {
	queryID, offset, ok := strings.Cut(r.PathValue("locator"), "-")
	n, err := strconv.Atoi(offset)
	if !ok || err != nil {
		writeErrors(w, http.StatusBadRequest, "INVALID_QUERY_LOCATOR", "invalid query locator")
		return
	}
	m.writePage(w, queryID, n)
}

func (m *MockAPI) writePage(w http.ResponseWriter, queryID string, offset int) {
	m.mu.RLock()
	rows, ok := m.queries[queryID]
	size := m.pageSize
	m.mu.RUnlock()
	if !ok || offset > len(rows) {
		writeErrors(w, http.StatusBadRequest, "INVALID_QUERY_LOCATOR", "invalid query locator")
		return
	}

	end := min(offset+size, len(rows))
	page := map[string]any{
		"totalSize": len(rows),
		"done":      end == len(rows),
		"records":   rows[offset:end],
	}
	if end < len(rows) {
		page["nextRecordsUrl"] = fmt.Sprintf("%s/query/%s-%d", m.DataPath(), queryID, end)
	}
	writeJSON(w, http.StatusOK, page)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErrors(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, []map[string]any{{"message": message, "errorCode": code}})
}

func cloneFields(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+2)
	for k, v := range in {
		out[k] = v
	}
	return out
}
