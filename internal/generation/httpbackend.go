package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/therealutkarshpriyadarshi/reelforge/internal/config"
	"github.com/therealutkarshpriyadarshi/reelforge/pkg/models"
)

// maxErrorBody bounds how much of an error response is kept
const maxErrorBody = 4 << 10

// codeResourceExhausted is the quota error code some backends return with
// a non-429 status
const codeResourceExhausted = "RESOURCE_EXHAUSTED"

// Remote job statuses
const (
	statusQueued     = "queued"
	statusProcessing = "processing"
	statusSucceeded  = "succeeded"
	statusCompleted  = "completed"
	statusFailed     = "failed"
)

type submitPayload struct {
	Prompt string        `json:"prompt"`
	Model  string        `json:"model,omitempty"`
	Image  *imagePayload `json:"image,omitempty"`
}

type imagePayload struct {
	Data     string `json:"data"`
	MIMEType string `json:"mime_type"`
}

type submitResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type statusResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Progress    int    `json:"progress"`
	Error       string `json:"error,omitempty"`
	ArtifactURL string `json:"artifact_url,omitempty"`
	VideoURL    string `json:"video_url,omitempty"`
	VideoBase64 string `json:"video_base64,omitempty"`
	Video       *struct {
		URL string `json:"url"`
	} `json:"video,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HTTPBackend talks to a JSON job API:
//
//	POST {base}/v1/jobs       -> {"id": "..."}
//	GET  {base}/v1/jobs/{id}  -> {"status": "...", "artifact_url": "..."}
//	GET  {artifact_url}       -> raw bytes
//
// The API key is only sent to the scheme and host of the base URL, never to
// artifact URLs on other origins.
type HTTPBackend struct {
	baseURL string
	origin  string
	apiKey  string
	model   string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPBackend creates a backend from the generation config section.
// RequestsPerSecond <= 0 disables pacing.
func NewHTTPBackend(cfg config.GenerationConfig) *HTTPBackend {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPBackend{
		baseURL: baseURL,
		origin:  originOf(baseURL),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.HTTPTimeout},
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Submit implements Backend
func (b *HTTPBackend) Submit(ctx context.Context, req SubmitRequest) (models.JobHandle, error) {
	payload := submitPayload{Prompt: req.Prompt, Model: req.Model}
	if payload.Model == "" {
		payload.Model = b.model
	}
	if req.SourceImage != nil {
		payload.Image = &imagePayload{
			Data:     base64.StdEncoding.EncodeToString(req.SourceImage.Data),
			MIMEType: req.SourceImage.MIMEType,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", Fatal("submit", fmt.Errorf("marshal request: %w", err))
	}

	var resp submitResponse
	if err := b.doJSON(ctx, "submit", http.MethodPost, b.baseURL+"/v1/jobs", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", Fatal("submit", errors.New("response carries no job id"))
	}
	return models.JobHandle(resp.ID), nil
}

// Poll implements Backend
func (b *HTTPBackend) Poll(ctx context.Context, handle models.JobHandle) (models.PollStatus, error) {
	endpoint := b.baseURL + "/v1/jobs/" + url.PathEscape(string(handle))

	var resp statusResponse
	if err := b.doJSON(ctx, "poll", http.MethodGet, endpoint, nil, &resp); err != nil {
		return models.PollStatus{}, err
	}

	switch strings.ToLower(resp.Status) {
	case statusQueued, statusProcessing, "":
		return models.PollStatus{}, nil
	case statusFailed:
		msg := resp.Error
		if msg == "" {
			msg = "job failed without a reason"
		}
		return models.PollStatus{Done: true, Error: msg}, nil
	case statusSucceeded, statusCompleted:
		return resp.toPollStatus()
	default:
		return models.PollStatus{}, Fatal("poll", fmt.Errorf("unknown job status %q", resp.Status))
	}
}

func (r statusResponse) toPollStatus() (models.PollStatus, error) {
	status := models.PollStatus{Done: true}

	switch {
	case r.ArtifactURL != "":
		status.ArtifactRef = r.ArtifactURL
	case r.VideoURL != "":
		status.ArtifactRef = r.VideoURL
	case r.Video != nil && r.Video.URL != "":
		status.ArtifactRef = r.Video.URL
	}

	if r.VideoBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(r.VideoBase64)
		if err != nil {
			return models.PollStatus{}, Fatal("poll", fmt.Errorf("decode inline artifact: %w", err))
		}
		status.Inline = data
	}
	return status, nil
}

// Fetch implements Backend. Relative references resolve against the base URL.
func (b *HTTPBackend) Fetch(ctx context.Context, ref string) ([]byte, error) {
	target := ref
	if strings.HasPrefix(ref, "/") {
		target = b.baseURL + ref
	}

	resp, err := b.do(ctx, "fetch", http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient("fetch", fmt.Errorf("read body: %w", err))
	}
	return data, nil
}

// originOf returns scheme://host for an absolute URL, or "" when raw has no host
func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

func (b *HTTPBackend) doJSON(ctx context.Context, op, method, endpoint string, body []byte, out interface{}) error {
	resp, err := b.do(ctx, op, method, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return Transient(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// do sends one paced request and classifies any failure. On success the
// caller owns the response body.
func (b *HTTPBackend) do(ctx context.Context, op, method, endpoint string, body []byte) (*http.Response, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, Transient(op, fmt.Errorf("rate limiter: %w", err))
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, Fatal(op, fmt.Errorf("build request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if b.apiKey != "" && b.origin != "" && originOf(endpoint) == b.origin {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, Transient(op, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	return nil, classifyResponse(op, resp)
}

// classifyResponse maps a non-2xx response onto an error class
func classifyResponse(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var apiErr errorResponse
	_ = json.Unmarshal(raw, &apiErr)

	msg := apiErr.Error
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	be := &BackendError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Err:        errors.New(msg),
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests,
		strings.EqualFold(apiErr.Code, codeResourceExhausted),
		strings.Contains(msg, codeResourceExhausted):
		be.Class = ClassRateLimited
		be.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode >= 500:
		be.Class = ClassTransient
		be.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	default:
		be.Class = ClassFatal
	}
	return be
}

// parseRetryAfter accepts delta-seconds or an HTTP date
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}

	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
