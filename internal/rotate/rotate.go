// Package rotate tries a request against an ordered list of equivalent
// base hosts, routing around per-host geofence rejections.
package rotate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultMarkers are body substrings that identify an eligibility or
// geofence rejection. A response carrying one of these is a soft failure
// even when the status code looks successful.
var DefaultMarkers = []string{
	"Service unavailable from a restricted location",
	"restricted location",
	"b. Eligibility",
}

// bodyDetailLimit bounds how much of a rejected body is kept in errors
// and logs.
const bodyDetailLimit = 300

// Rotator attempts a request against each base host in priority order and
// returns the first accepted response. Hosts are tried strictly in
// sequence so failover stays deterministic and the provider never sees
// redundant parallel load.
type Rotator struct {
	hosts   []string
	client  *http.Client
	markers []string

	mu       sync.RWMutex
	lastGood string
}

// New creates a Rotator over the given hosts. Hosts are base URLs such as
// "https://api.binance.com".
func New(hosts []string, client *http.Client) *Rotator {
	return &Rotator{
		hosts:   hosts,
		client:  client,
		markers: DefaultMarkers,
	}
}

// WithMarkers replaces the restricted-location body markers.
func (r *Rotator) WithMarkers(markers []string) *Rotator {
	if len(markers) > 0 {
		r.markers = markers
	}
	return r
}

// ExhaustedError reports that no host accepted the request. Only the last
// attempt's detail is carried, to bound message size.
type ExhaustedError struct {
	Attempts int
	Host     string
	Status   int
	Body     string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d hosts rejected request; last attempt: host=%s status=%d body=%q",
		e.Attempts, e.Host, e.Status, e.Body)
}

// Get issues a GET for pathAndQuery against each host until one accepts.
// It returns the accepted body and the serving host, or an ExhaustedError.
func (r *Rotator) Get(ctx context.Context, pathAndQuery string, headers map[string]string) ([]byte, string, error) {
	var last *ExhaustedError
	attempts := 0

	for _, host := range r.hosts {
		attempts++
		body, status, err := r.attempt(ctx, host, pathAndQuery, headers)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"host":  host,
				"error": err.Error(),
			}).Warn("host attempt failed, rotating")
			last = &ExhaustedError{Host: host, Status: status, Body: truncate(err.Error())}
			continue
		}
		if r.accepted(status, body) {
			r.setLastGood(host)
			return body, host, nil
		}
		logrus.WithFields(logrus.Fields{
			"host":   host,
			"status": status,
			"body":   truncate(string(body)),
		}).Warn("host rejected request, rotating")
		last = &ExhaustedError{Host: host, Status: status, Body: truncate(string(body))}
	}

	if last == nil {
		last = &ExhaustedError{}
	}
	last.Attempts = attempts
	return nil, "", last
}

// attempt performs the request against a single host.
func (r *Rotator) attempt(ctx context.Context, host, pathAndQuery string, headers map[string]string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, host+pathAndQuery, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("building request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading body: %w", err)
	}
	return body, resp.StatusCode, nil
}

// accepted applies the acceptance rule: 2xx status, not 451, and no
// restricted-location marker in the body.
func (r *Rotator) accepted(status int, body []byte) bool {
	if status == http.StatusUnavailableForLegalReasons {
		return false
	}
	if status < 200 || status >= 300 {
		return false
	}
	s := string(body)
	for _, marker := range r.markers {
		if strings.Contains(s, marker) {
			return false
		}
	}
	return true
}

// LastGoodHost returns the host that most recently served an accepted
// response. Observational only; empty until the first success.
func (r *Rotator) LastGoodHost() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastGood
}

// Hosts returns the configured priority order.
func (r *Rotator) Hosts() []string {
	out := make([]string, len(r.hosts))
	copy(out, r.hosts)
	return out
}

func (r *Rotator) setLastGood(host string) {
	r.mu.Lock()
	r.lastGood = host
	r.mu.Unlock()
}

func truncate(s string) string {
	if len(s) > bodyDetailLimit {
		return s[:bodyDetailLimit]
	}
	return s
}
