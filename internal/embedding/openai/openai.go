package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"corpus/internal/domain"
	"corpus/internal/embedding"
	"corpus/internal/retry"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "text-embedding-3-small"

// MaxBatchSize is the largest number of inputs sent in one request.
const MaxBatchSize = 100

var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

var _ domain.Embedder = (*Client)(nil)

// Client is an OpenAI-compatible embeddings client.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	dimensions  int
	batchSize   int
	concurrency int
	client      *http.Client
	policy      retry.Policy
	limiter     *rate.Limiter
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL string
	// APIKey takes precedence over APIKeyEnv.
	APIKey    string
	APIKeyEnv string
	Model     string
	// Dimensions overrides the model's known vector size.
	Dimensions        int
	BatchSize         int
	Concurrency       int
	Timeout           time.Duration
	Retry             retry.Policy
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// NewClient creates a new embeddings client using the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	key := cfg.APIKey
	if key == "" && cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("%w: missing embeddings API key (env %s)", domain.ErrInvalidConfig, cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DimensionsFor(cfg.Model)
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: t}
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      key,
		model:       cfg.Model,
		dimensions:  cfg.Dimensions,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
		client:      hc,
		policy:      cfg.Retry,
		limiter:     retry.NewLimiter(cfg.RequestsPerSecond),
	}, nil
}

// DimensionsFor returns the vector size of a known model, 1536 otherwise.
func DimensionsFor(model string) int {
	if d, ok := modelDimensions[model]; ok {
		return d
	}
	return 1536
}

// ModelName returns the embedding model.
func (c *Client) ModelName() string { return c.model }

// Dimensions returns the dimensionality of the produced embedding vectors.
func (c *Client) Dimensions() int { return c.dimensions }

// Embed returns an embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("%w: no embedding returned", domain.ErrMissingEmbedding)
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in requests of at most the configured batch size.
// Vectors are returned in input order regardless of the order of the response.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedding.InBatches(ctx, texts, c.batchSize, c.concurrency, c.embed)
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *Client) embed(ctx context.Context, batch []string) ([][]float32, error) {
	data, err := json.Marshal(embeddingRequest{Model: c.model, Input: batch})
	if err != nil {
		return nil, err
	}
	url := c.baseURL + "/embeddings"

	var out embeddingResponse
	err = retry.Do(ctx, c.policy, c.limiter, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return retry.Retryable(upstream(0, err), 0)
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.Retryable(upstream(resp.StatusCode, err), 0)
		}
		if resp.StatusCode >= 300 {
			uerr := upstream(resp.StatusCode, errors.New(strings.TrimSpace(string(payload))))
			if retry.RetryableStatus(resp.StatusCode) {
				return retry.Retryable(uerr, retry.RetryAfter(resp.Header))
			}
			return uerr
		}
		out = embeddingResponse{}
		if err := json.Unmarshal(payload, &out); err != nil {
			return upstream(resp.StatusCode, fmt.Errorf("decode response: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })
	vectors := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

func upstream(status int, err error) error {
	return &domain.UpstreamError{Provider: "openai", Op: "embeddings", StatusCode: status, Err: err}
}
