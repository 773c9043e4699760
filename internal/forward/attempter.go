// Package forward flushes pending queues to their destination servers, one
// batched HTTP POST per (serial, destination) key.
package forward

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"waypointrelay/internal/model"
	"waypointrelay/internal/queue"
)

// batchPath is the fixed sub-path appended to every destination base URL.
const batchPath = "api/v1/gps/batch"

// Outcome classifies one delivery attempt.
type Outcome int

const (
	// OutcomeSkipped means no request was sent: empty queue, missing base
	// URL, or a destination misconfiguration (see Result.Err).
	OutcomeSkipped Outcome = iota
	// OutcomeDelivered means the server acknowledged the batch with HTTP 200
	// and the queue key was cleared.
	OutcomeDelivered
	// OutcomeRejected means the server was reachable but returned a
	// non-success status. The queue is left untouched.
	OutcomeRejected
	// OutcomeTransportFailure means the request never completed (network
	// error or timeout). The queue is left untouched.
	OutcomeTransportFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeDelivered:
		return "delivered"
	case OutcomeRejected:
		return "rejected"
	case OutcomeTransportFailure:
		return "transport_failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// ConfigurationError reports a destination whose URL cannot be used. It is
// per-destination and never fatal to the poll loop.
type ConfigurationError struct {
	Serial string
	URL    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("destination for %s misconfigured: %s (%s)", e.Serial, e.Reason, e.URL)
}

// Result describes what one Attempt did.
type Result struct {
	Outcome    Outcome
	StatusCode int
	// Points is the size of the batch the attempt covered.
	Points int
	// Sent holds the points that were confirmed delivered, in queue order.
	// Empty unless Outcome is OutcomeDelivered.
	Sent []model.Point
	Err  error
}

// batchBody is the wire request body.
type batchBody struct {
	GPSData []model.Point `json:"gps_data"`
}

// Attempter sends batched deliveries and reconciles the queue on success.
type Attempter struct {
	queue  *queue.Store
	client *http.Client
	logger *slog.Logger
}

// NewAttempter builds an Attempter bounded by timeout per request.
func NewAttempter(q *queue.Store, timeout time.Duration, logger *slog.Logger) *Attempter {
	return &Attempter{
		queue:  q,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Attempt posts every currently queued point for key in one batch. Only a
// Delivered outcome clears the key; Rejected and TransportFailure leave the
// whole batch queued for the next cycle.
func (a *Attempter) Attempt(ctx context.Context, key, apiKey string) Result {
	points := a.queue.Peek(key)
	if len(points) == 0 {
		return Result{Outcome: OutcomeSkipped}
	}

	serial, baseURL, ok := queue.SplitKey(key)
	if !ok {
		return Result{Outcome: OutcomeSkipped, Points: len(points), Err: fmt.Errorf("malformed queue key %q", key)}
	}

	if baseURL == "" {
		a.logger.Debug("no server url configured, skipping delivery", "serial", serial)
		return Result{Outcome: OutcomeSkipped, Points: len(points)}
	}

	endpoint, err := BatchURL(baseURL, apiKey)
	if err != nil {
		return Result{Outcome: OutcomeSkipped, Points: len(points), Err: &ConfigurationError{
			Serial: serial,
			URL:    baseURL,
			Reason: err.Error(),
		}}
	}

	body, err := json.Marshal(batchBody{GPSData: points})
	if err != nil {
		return Result{Outcome: OutcomeSkipped, Points: len(points), Err: fmt.Errorf("encode batch: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{Outcome: OutcomeSkipped, Points: len(points), Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Warn("delivery transport failure", "serial", serial, "url", baseURL, "error", err)
		return Result{Outcome: OutcomeTransportFailure, Points: len(points), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		a.logger.Warn("delivery rejected", "serial", serial, "url", baseURL,
			"status", resp.StatusCode, "body", strings.TrimSpace(string(snippet)))
		return Result{Outcome: OutcomeRejected, StatusCode: resp.StatusCode, Points: len(points)}
	}

	if err := a.queue.Clear(key); err != nil {
		// The batch reached the server; worst case the same points are
		// re-sent after a restart, which the server-side batch endpoint
		// tolerates.
		a.logger.Error("failed to persist queue clear", "serial", serial, "error", err)
	}

	a.logger.Info("delivered pending batch", "serial", serial, "url", baseURL, "points", len(points))
	return Result{Outcome: OutcomeDelivered, StatusCode: resp.StatusCode, Points: len(points), Sent: points}
}

// BatchURL joins the destination base URL with the batch sub-path and
// attaches the API key as a query parameter. Schemes other than http and
// https are rejected.
func BatchURL(baseURL, apiKey string) (string, error) {
	joined := baseURL
	if !strings.HasSuffix(joined, "/") {
		joined += "/"
	}
	joined += batchPath

	u, err := url.Parse(joined)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	q := u.Query()
	q.Set("api_key", apiKey)
	u.RawQuery = q.Encode()

	return u.String(), nil
}
