package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/loqa-sign/internal/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrNoPrediction means the classifier answered without a label.
var ErrNoPrediction = errors.New("no prediction in response")

// maxBodyBytes bounds how much of a prediction response is read.
const maxBodyBytes = 64 << 10

// Fetcher returns the classifier's current label.
type Fetcher interface {
	Fetch(ctx context.Context) (string, error)
}

// Client fetches predictions over HTTP.
type Client struct {
	url        string
	httpClient *http.Client
	tracer     trace.Tracer
}

func NewClient(url string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("prediction url empty")
	}
	if timeout <= 0 {
		timeout = time.Second
	}
	return &Client{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		tracer: otel.Tracer("github.com/loqalabs/loqa-sign/source"),
	}, nil
}

func (c *Client) Fetch(ctx context.Context) (string, error) {
	ctx, span := c.tracer.Start(ctx, "source.fetch", trace.WithAttributes(attribute.String("url", c.url)))
	defer span.End()

	label, err := c.fetch(ctx)
	if err != nil && !errors.Is(err, ErrNoPrediction) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("prediction", label))
	return label, err
}

func (c *Client) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("classifier returned status %s", resp.Status)
	}

	var body protocol.Prediction
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return "", fmt.Errorf("decode prediction: %w", err)
	}
	if body.Prediction == "" {
		return "", ErrNoPrediction
	}
	return body.Prediction, nil
}
