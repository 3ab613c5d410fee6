package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates in-memory metrics counters for HTTP requests, artifact
// uploads and downloads, and co-authorship grant transitions. Writers are
// coordinated with a RWMutex; the /metrics handler renders a stable snapshot.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	uploadOutcomes  map[string]uint64
	downloadCount   uint64
	grantEvents     map[string]uint64
	authEvents      map[string]uint64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers can
// immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		uploadOutcomes:  make(map[string]uint64),
		grantEvents:     make(map[string]uint64),
		authEvents:      make(map[string]uint64),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ObserveUpload records one artifact upload attempt keyed by outcome
// (e.g. "created", "conflict", "invalid_archive", "storage_error").
func (r *Recorder) ObserveUpload(outcome string) {
	normalized := normalizeName(outcome)
	r.mu.Lock()
	r.uploadOutcomes[normalized]++
	r.mu.Unlock()
}

// ObserveDownload records one served artifact download.
func (r *Recorder) ObserveDownload() {
	r.mu.Lock()
	r.downloadCount++
	r.mu.Unlock()
}

// ObserveGrantEvent records a co-authorship transition keyed by event
// ("issued", "accepted", "rejected", "revoked", "refused").
func (r *Recorder) ObserveGrantEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.grantEvents[normalized]++
	r.mu.Unlock()
}

// ObserveAuthEvent records an authentication event keyed by outcome
// ("login", "login_failed", "signup", "logout").
func (r *Recorder) ObserveAuthEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.authEvents[normalized]++
	r.mu.Unlock()
}

// UploadCounts returns a copy of the upload outcome counters for tests and
// reporting.
func (r *Recorder) UploadCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]uint64, len(r.uploadOutcomes))
	for k, v := range r.uploadOutcomes {
		counts[k] = v
	}
	return counts
}

// GrantCounts returns a copy of the grant event counters.
func (r *Recorder) GrantCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]uint64, len(r.grantEvents))
	for k, v := range r.grantEvents {
		counts[k] = v
	}
	return counts
}

// Downloads returns the served download counter.
func (r *Recorder) Downloads() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.downloadCount
}

// Reset clears all counters on the recorder. It is intended for test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.uploadOutcomes = make(map[string]uint64)
	r.grantEvents = make(map[string]uint64)
	r.authEvents = make(map[string]uint64)
	r.downloadCount = 0
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting label
// sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	uploadOutcomes := sortedKeys(r.uploadOutcomes)
	grantEvents := sortedKeys(r.grantEvents)
	authEvents := sortedKeys(r.authEvents)

	fmt.Fprintln(w, "# HELP moddepot_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE moddepot_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "moddepot_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP moddepot_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE moddepot_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "moddepot_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP moddepot_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE moddepot_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "moddepot_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP moddepot_uploads_total Artifact upload attempts by outcome")
	fmt.Fprintln(w, "# TYPE moddepot_uploads_total counter")
	for _, outcome := range uploadOutcomes {
		fmt.Fprintf(w, "moddepot_uploads_total{outcome=\"%s\"} %d\n", outcome, r.uploadOutcomes[outcome])
	}

	fmt.Fprintln(w, "# HELP moddepot_downloads_total Artifact downloads served")
	fmt.Fprintln(w, "# TYPE moddepot_downloads_total counter")
	fmt.Fprintf(w, "moddepot_downloads_total %d\n", r.downloadCount)

	fmt.Fprintln(w, "# HELP moddepot_grant_events_total Co-authorship grant transitions by event")
	fmt.Fprintln(w, "# TYPE moddepot_grant_events_total counter")
	for _, event := range grantEvents {
		fmt.Fprintf(w, "moddepot_grant_events_total{event=\"%s\"} %d\n", event, r.grantEvents[event])
	}

	fmt.Fprintln(w, "# HELP moddepot_auth_events_total Authentication events by outcome")
	fmt.Fprintln(w, "# TYPE moddepot_auth_events_total counter")
	for _, event := range authEvents {
		fmt.Fprintf(w, "moddepot_auth_events_total{event=\"%s\"} %d\n", event, r.authEvents[event])
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if segment == "" {
		return false
	}
	for _, r := range segment {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// ObserveUpload records an upload outcome on the default recorder.
func ObserveUpload(outcome string) {
	defaultRecorder.ObserveUpload(outcome)
}

// ObserveDownload records a served download on the default recorder.
func ObserveDownload() {
	defaultRecorder.ObserveDownload()
}

// ObserveGrantEvent records a grant transition on the default recorder.
func ObserveGrantEvent(event string) {
	defaultRecorder.ObserveGrantEvent(event)
}

// ObserveAuthEvent records an authentication event on the default recorder.
func ObserveAuthEvent(event string) {
	defaultRecorder.ObserveAuthEvent(event)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
