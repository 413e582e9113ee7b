package langsam

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"langsam-server/internal/config"
	"langsam-server/internal/core/domain"
	output "langsam-server/internal/core/ports/output"
)

// maxErrorBody caps how much of a failed response is read into an error.
const maxErrorBody = 4 << 10

// Client talks to the LangSAM runtime worker over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

var _ output.Segmenter = (*Client)(nil)

func NewClient(cfg *config.BackendConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: cfg.URL,
	}
}

// Build asks the runtime to construct the model for variant. It blocks until
// the runtime has finished loading weights.
func (c *Client) Build(ctx context.Context, variant string) error {
	body, err := json.Marshal(buildRequest{SamType: variant})
	if err != nil {
		return fmt.Errorf("marshal build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/build", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	log.WithFields(log.Fields{
		"url":      req.URL.String(),
		"sam_type": variant,
	}).Debug("requesting model build")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("build %s: %s", variant, readError(resp))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Predict sends a batch of images with one prompt per image.
func (c *Client) Predict(ctx context.Context, images []image.Image, prompts []string, boxThreshold, textThreshold float64) ([]domain.SegmentResult, error) {
	if len(images) != len(prompts) {
		return nil, fmt.Errorf("%w: %d images but %d prompts", domain.ErrInvalidInput, len(images), len(prompts))
	}

	body, contentType, err := encodePredictForm(images, prompts, boxThreshold, textThreshold)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", body)
	if err != nil {
		return nil, fmt.Errorf("create predict request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: predict request: %w", domain.ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	log.WithFields(log.Fields{
		"status":     resp.StatusCode,
		"batch":      len(images),
		"latency_ms": time.Since(start).Milliseconds(),
	}).Debug("runtime predict returned")

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: predict: %s", domain.ErrModelUnavailable, readError(resp))
	}

	var payload predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode predict response: %w", domain.ErrModelUnavailable, err)
	}
	if len(payload.Results) != len(images) {
		return nil, fmt.Errorf("%w: runtime returned %d results for %d images",
			domain.ErrModelUnavailable, len(payload.Results), len(images))
	}

	results := make([]domain.SegmentResult, len(payload.Results))
	for i, r := range payload.Results {
		results[i], err = r.toDomain()
		if err != nil {
			return nil, fmt.Errorf("%w: result %d: %w", domain.ErrModelUnavailable, i, err)
		}
	}
	return results, nil
}

// Health probes the runtime's readiness endpoint.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: health: %s", domain.ErrModelUnavailable, readError(resp))
	}
	return nil
}

func encodePredictForm(images []image.Image, prompts []string, boxThreshold, textThreshold float64) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for i, img := range images {
		part, err := w.CreateFormFile("images", "image_"+strconv.Itoa(i)+".png")
		if err != nil {
			return nil, "", fmt.Errorf("create image part: %w", err)
		}
		if err := png.Encode(part, img); err != nil {
			return nil, "", fmt.Errorf("encode image %d: %w", i, err)
		}
	}

	fields := [][2]string{
		{"box_threshold", strconv.FormatFloat(boxThreshold, 'f', -1, 64)},
		{"text_threshold", strconv.FormatFloat(textThreshold, 'f', -1, 64)},
	}
	for _, p := range prompts {
		fields = append(fields, [2]string{"texts_prompt", p})
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", f[0], err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// readError summarizes a non-2xx response, preferring the runtime's own
// error message when it sent JSON.
func readError(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Error != "" {
			return fmt.Sprintf("status %d: %s", resp.StatusCode, e.Error)
		}
		if e.Detail != "" {
			return fmt.Sprintf("status %d: %s", resp.StatusCode, e.Detail)
		}
	}
	if msg := bytes.TrimSpace(body); len(msg) > 0 {
		return fmt.Sprintf("status %d: %s", resp.StatusCode, msg)
	}
	return fmt.Sprintf("status %d", resp.StatusCode)
}
