package task

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"judgeflow/pkg/errors"
	"judgeflow/pkg/utils/logger"
	"judgeflow/pkg/utils/retry"

	"github.com/zeromicro/go-zero/core/collection"
	"go.uber.org/zap"
)

// Catalog is the subset of the task service the pipeline depends on.
type Catalog interface {
	Get(ctx context.Context, id string) (*Task, error)
	ListByTags(ctx context.Context, tags []string, count int) ([]Task, error)
	Random(ctx context.Context, count int) ([]Task, error)
}

// Config configures the HTTP catalog client.
type Config struct {
	BaseURL    string        `yaml:"baseURL"`
	Timeout    time.Duration `yaml:"timeout"`
	CacheTTL   time.Duration `yaml:"cacheTTL"`
	CacheLimit int           `yaml:"cacheLimit"`
	Retry      retry.Policy  `yaml:"retry"`
}

// Client talks to the catalog over HTTP JSON.
type Client struct {
	baseURL string
	http    *http.Client
	retry   retry.Policy
	tasks   *collection.Cache
}

var _ Catalog = (*Client)(nil)

// NewClient creates a catalog client. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("task catalog base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid task catalog url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}
	if cfg.CacheLimit <= 0 {
		cfg.CacheLimit = 1024
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	tasks, err := collection.NewCache(cfg.CacheTTL, collection.WithLimit(cfg.CacheLimit), collection.WithName("task-catalog"))
	if err != nil {
		return nil, fmt.Errorf("create task cache failed: %w", err)
	}
	return &Client{
		baseURL: base,
		http:    httpClient,
		retry:   cfg.Retry.WithDefaults(),
		tasks:   tasks,
	}, nil
}

// Get returns a task by id. Results are cached for the configured TTL.
func (c *Client) Get(ctx context.Context, id string) (*Task, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.ValidationError("taskId", "required")
	}
	value, err := c.tasks.Take(id, func() (any, error) {
		var t Task
		if err := c.getJSON(ctx, "/tasks/"+url.PathEscape(id), nil, &t); err != nil {
			return nil, err
		}
		if t.ID == "" {
			t.ID = id
		}
		return &t, nil
	})
	if err != nil {
		return nil, err
	}
	t := *value.(*Task)
	return &t, nil
}

// ListByTags returns up to count tasks carrying any of the tags.
func (c *Client) ListByTags(ctx context.Context, tags []string, count int) ([]Task, error) {
	q := url.Values{}
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			q.Add("tags", tag)
		}
	}
	q.Set("count", strconv.Itoa(count))
	var out []Task
	if err := c.getJSON(ctx, "/tasks", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Random returns up to count randomly sampled tasks.
func (c *Client) Random(ctx context.Context, count int) ([]Task, error) {
	q := url.Values{}
	q.Set("count", strconv.Itoa(count))
	var out []Task
	if err := c.getJSON(ctx, "/tasks/random", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.doGet(ctx, target, out)
	}, func(attempt int, err error, next time.Duration) {
		logger.Warn(ctx, "task catalog request failed, retrying",
			zap.String("url", target),
			zap.Int("attempt", attempt),
			zap.Duration("next", next),
			zap.Error(err),
		)
	})
	if err == nil {
		return nil
	}
	if errors.GetCode(err) != errors.InternalServerError {
		return err
	}
	return errors.Wrapf(err, errors.ServiceUnavailable, "task catalog unavailable")
}

func (c *Client) doGet(ctx context.Context, target string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return retry.Permanent(errors.Wrapf(err, errors.TaskCatalogFailure, "build request failed"))
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return retry.Permanent(errors.New(errors.TaskNotFound))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("task catalog returned status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return retry.Permanent(errors.Newf(errors.TaskCatalogFailure, "task catalog returned status %d", resp.StatusCode))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return retry.Permanent(errors.Wrapf(err, errors.TaskCatalogFailure, "decode task catalog response failed"))
	}
	return nil
}
