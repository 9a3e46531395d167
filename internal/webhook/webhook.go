package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/config"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/reelforge/internal/metrics"
	"github.com/therealutkarshpriyadarshi/reelforge/pkg/models"
)

// Request headers
const (
	HeaderEvent     = "X-Webhook-Event"
	HeaderDelivery  = "X-Webhook-Delivery"
	HeaderSignature = "X-Webhook-Signature"
)

const defaultRetryBase = time.Second

// Delivery is the outcome of one notification
type Delivery struct {
	ID         string
	Event      string
	Attempts   int
	StatusCode int
	Delivered  bool
}

// Service posts signed event notifications to a single endpoint
type Service struct {
	url        string
	secret     string
	maxRetries int
	retryBase  time.Duration
	client     *http.Client
	logger     *logging.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewService creates a new webhook service. An empty URL disables delivery.
func NewService(cfg config.WebhookConfig, logger *logging.Logger) *Service {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Service{
		url:        cfg.URL,
		secret:     cfg.Secret,
		maxRetries: cfg.MaxRetries,
		retryBase:  defaultRetryBase,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
		sleep:      sleepContext,
	}
}

// Enabled reports whether an endpoint is configured
func (s *Service) Enabled() bool {
	return s.url != ""
}

// NotifyRun sends run.completed or run.failed for a finished pipeline run
func (s *Service) NotifyRun(ctx context.Context, report *models.RunReport) (*Delivery, error) {
	event := models.WebhookEventRunCompleted
	if !report.Succeeded {
		event = models.WebhookEventRunFailed
	}
	return s.Notify(ctx, event, report)
}

// NotifyGeneration sends generation.completed or generation.failed
func (s *Service) NotifyGeneration(ctx context.Context, result *models.GenerationResult) (*Delivery, error) {
	event := models.WebhookEventGenerationCompleted
	if !result.Success {
		event = models.WebhookEventGenerationFailed
	}

	return s.Notify(ctx, event, map[string]interface{}{
		"job_id":        result.JobID,
		"state":         result.FinalState,
		"error_kind":    result.ErrorKind,
		"error":         result.ErrorMessage(),
		"artifact_path": result.ArtifactPath,
		"artifact_ref":  result.ArtifactRef,
		"polls":         result.Polls,
	})
}

// Notify posts event with up to maxRetries retries on 5xx, 429 and network
// errors. Other 4xx responses are not retried.
func (s *Service) Notify(ctx context.Context, event string, data interface{}) (*Delivery, error) {
	delivery := &Delivery{ID: uuid.NewString(), Event: event}
	if !s.Enabled() {
		return delivery, nil
	}

	payload, err := json.Marshal(models.WebhookEvent{
		ID:        delivery.ID,
		Event:     event,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
	if err != nil {
		return delivery, fmt.Errorf("failed to marshal payload: %w", err)
	}

	logger := s.logger.WithFields(map[string]interface{}{
		"event":       event,
		"delivery_id": delivery.ID,
	})

	delay := s.retryBase
	for {
		delivery.Attempts++
		retry, err := s.deliver(ctx, delivery, payload)
		if err == nil {
			delivery.Delivered = true
			metrics.RecordWebhookDelivery(event, "delivered")
			logger.Debugf("Webhook delivered after %d attempt(s)", delivery.Attempts)
			return delivery, nil
		}

		if !retry || delivery.Attempts > s.maxRetries {
			metrics.RecordWebhookDelivery(event, "failed")
			logger.WithError(err).Warnf("Webhook delivery failed after %d attempt(s)", delivery.Attempts)
			return delivery, err
		}

		logger.WithError(err).Debugf("Webhook attempt %d failed, retrying in %s", delivery.Attempts, delay)
		if err := s.sleep(ctx, delay); err != nil {
			metrics.RecordWebhookDelivery(event, "failed")
			return delivery, err
		}
		delay *= 2
	}
}

// deliver makes one attempt. The bool reports whether a retry may help.
func (s *Service) deliver(ctx context.Context, delivery *Delivery, payload []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Reelforge-Webhook/1.0")
	req.Header.Set(HeaderEvent, delivery.Event)
	req.Header.Set(HeaderDelivery, delivery.ID)
	if s.secret != "" {
		req.Header.Set(HeaderSignature, Sign(payload, s.secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	delivery.StatusCode = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, nil
	}

	retry := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
	return retry, fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
}

// Sign returns the HMAC-SHA256 signature header value for payload
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// Verify checks a signature header value in constant time
func Verify(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
