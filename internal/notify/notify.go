// Package notify delivers monitoring signals to external sinks.
// Delivery is fire-and-forget: sink failures are logged and never fail
// the pipeline that raised the signal.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"netwatch/core-go/internal/model"
)

// Signal is one notification payload.
type Signal struct {
	Type       string             `json:"type"` // "significant_change" | "scan_failed"
	Timestamp  time.Time          `json:"timestamp"`
	Target     string             `json:"target,omitempty"`
	SnapshotID string             `json:"snapshot_id,omitempty"`
	DiffID     string             `json:"diff_id,omitempty"`
	Summary    *model.DiffSummary `json:"summary,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// Sink receives signals. Implementations should bound their own IO.
type Sink interface {
	Deliver(ctx context.Context, sig Signal) error
}

// Notifier fans a signal out to all configured sinks.
type Notifier struct {
	log   zerolog.Logger
	sinks []Sink
}

func New(log zerolog.Logger, sinks ...Sink) *Notifier {
	return &Notifier{log: log, sinks: sinks}
}

// Notify delivers sig to every sink, logging failures.
func (n *Notifier) Notify(ctx context.Context, sig Signal) {
	if n == nil {
		return
	}
	if sig.Timestamp.IsZero() {
		sig.Timestamp = time.Now().UTC()
	}
	for _, sink := range n.sinks {
		if err := sink.Deliver(ctx, sig); err != nil {
			n.log.Warn().Err(err).Str("signal", sig.Type).Msg("notification delivery failed")
		}
	}
}

// LogSink writes signals to the service log.
type LogSink struct {
	Log zerolog.Logger
}

func (s *LogSink) Deliver(_ context.Context, sig Signal) error {
	ev := s.Log.Info().Str("signal", sig.Type)
	if sig.Summary != nil {
		ev = ev.Int("total_changes", sig.Summary.TotalChanges)
	}
	if sig.Error != "" {
		ev = ev.Str("error", sig.Error)
	}
	ev.Msg("monitoring signal")
	return nil
}

// WebhookSink POSTs signals as JSON to a configured URL.
type WebhookSink struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookSink{
		URL:     url,
		Client:  &http.Client{Timeout: timeout},
		Timeout: timeout,
	}
}

func (s *WebhookSink) Deliver(ctx context.Context, sig Signal) error {
	body, err := json.Marshal(sig)
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
