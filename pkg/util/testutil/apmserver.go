package testutil

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
)

// Response is one scripted reply of the fake APM server.
type Response struct {
	Status  int
	ETag    string
	Body    string
	Headers map[string]string
	// Delay holds the response back until it elapses or the client gives up.
	Delay time.Duration
}

// Request is what the fake APM server saw.
type Request struct {
	Method        string
	Path          string
	Query         url.Values
	IfNoneMatch   string
	Authorization string
	UserAgent     string
}

// APMServer serves scripted central configuration responses in order. Once
// the script is exhausted the last response repeats.
type APMServer struct {
	*httptest.Server

	mu       sync.Mutex
	script   []Response
	requests []Request
	notify   chan struct{}
}

func NewAPMServer(t testing.TB, script ...Response) *APMServer {
	t.Helper()
	s := &APMServer{
		script: script,
		notify: make(chan struct{}, 1024),
	}
	r := mux.NewRouter()
	r.HandleFunc("/config/v1/agents", s.handleAgents).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such endpoint", http.StatusNotFound)
	})
	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// Script replaces the remaining responses.
func (s *APMServer) Script(script ...Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = script
}

func (s *APMServer) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Served is signalled once per handled request.
func (s *APMServer) Served() <-chan struct{} {
	return s.notify
}

func (s *APMServer) handleAgents(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, Request{
		Method:        r.Method,
		Path:          r.URL.Path,
		Query:         r.URL.Query(),
		IfNoneMatch:   r.Header.Get("If-None-Match"),
		Authorization: r.Header.Get("Authorization"),
		UserAgent:     r.Header.Get("User-Agent"),
	})
	resp := Response{Status: http.StatusNotModified}
	if len(s.script) > 0 {
		resp = s.script[0]
		if len(s.script) > 1 {
			s.script = s.script[1:]
		}
	}
	s.mu.Unlock()

	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			s.served()
			return
		}
	}

	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	if resp.ETag != "" {
		w.Header().Set("ETag", resp.ETag)
	}
	if resp.Body != "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write([]byte(resp.Body))
	s.served()
}

func (s *APMServer) served() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
