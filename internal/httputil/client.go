package httputil

import (
	"bytes"
	"io"
	"net/http"
	"sync"
)

// Doer abstracts the single HTTP operation outbound clients need, so provider
// calls can be exercised without a network. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// MockDoer is a testable Doer that replays queued responses and records the
// requests it received.
type MockDoer struct {
	mu          sync.Mutex
	requests    []*http.Request
	bodies      []string
	responses   []*MockResponse
	responseIdx int
}

// MockResponse is one canned HTTP response.
type MockResponse struct {
	StatusCode int
	Body       string
	Err        error
}

// NewMockDoer creates an empty MockDoer.
func NewMockDoer() *MockDoer {
	return &MockDoer{}
}

// AddResponse queues a response for a subsequent request.
func (m *MockDoer) AddResponse(statusCode int, body string) *MockDoer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, &MockResponse{StatusCode: statusCode, Body: body})
	return m
}

// AddError queues a transport-level error.
func (m *MockDoer) AddError(err error) *MockDoer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, &MockResponse{Err: err})
	return m
}

// Do records the request and returns the next queued response, or an empty
// 200 when the queue is exhausted.
func (m *MockDoer) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	var body string
	if req.Body != nil {
		data, _ := io.ReadAll(req.Body)
		req.Body.Close()
		body = string(data)
	}
	m.bodies = append(m.bodies, body)

	if m.responseIdx < len(m.responses) {
		resp := m.responses[m.responseIdx]
		m.responseIdx++
		if resp.Err != nil {
			return nil, resp.Err
		}
		return &http.Response{
			StatusCode: resp.StatusCode,
			Body:       io.NopCloser(bytes.NewBufferString(resp.Body)),
			Header:     make(http.Header),
			Request:    req,
		}, nil
	}

	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewBufferString("")),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

// Request returns the nth recorded request, or nil.
func (m *MockDoer) Request(n int) *http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || n >= len(m.requests) {
		return nil
	}
	return m.requests[n]
}

// RequestBody returns the body of the nth recorded request.
func (m *MockDoer) RequestBody(n int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || n >= len(m.bodies) {
		return ""
	}
	return m.bodies[n]
}

// RequestCount returns the number of recorded requests.
func (m *MockDoer) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
