package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp-forge/esbulk/pkg/bulk"
)

// bulkFilterPath trims bulk responses down to what failure detection needs.
var bulkFilterPath = []string{"errors", "items.*.error.reason", "items.*.error.caused_by.reason"}

// maxErrorBody bounds how much of an error response is kept in an error.
const maxErrorBody = 4 << 10

// Config contains Elasticsearch client configuration.
type Config struct {
	// URL is the base URL of the cluster (required).
	URL string

	// Index is the index every call is addressed to (required).
	Index string

	// Basic authentication.
	Username string
	Password string

	// APIKey is a base64-encoded API key. It takes precedence over basic
	// authentication.
	APIKey string

	// Transport overrides the HTTP transport (optional).
	Transport http.RoundTripper

	// Logger
	Logger hclog.Logger
}

// Client talks to one Elasticsearch index. It implements bulk.Indexer.
type Client struct {
	es     *es.Client
	url    string
	index  string
	logger hclog.Logger
}

var _ bulk.Indexer = (*Client)(nil)

// NewClient creates an Elasticsearch client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("url is required")
	}
	if cfg.Index == "" {
		return nil, fmt.Errorf("index is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	client, err := es.NewClient(es.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		APIKey:    cfg.APIKey,
		Transport: cfg.Transport,
		// Bulk bodies are streamed and can't be replayed. Retrying would also
		// make the transport buffer every body in memory.
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	return &Client{
		es:     client,
		url:    strings.TrimRight(cfg.URL, "/"),
		index:  cfg.Index,
		logger: cfg.Logger.Named("elasticsearch"),
	}, nil
}

// BaseURL returns the cluster URL the client is bound to.
func (c *Client) BaseURL() string {
	return c.url
}

// Index returns the index the client is bound to.
func (c *Client) Index() string {
	return c.index
}

type bulkResponse struct {
	Errors bool                    `json:"errors"`
	Items  []map[string]bulkResult `json:"items"`
}

type bulkResult struct {
	Error *struct {
		Reason   string `json:"reason"`
		CausedBy *struct {
			Reason string `json:"reason"`
		} `json:"caused_by"`
	} `json:"error"`
}

// Bulk sends one bulk call with body streamed as the request body.
func (c *Client) Bulk(ctx context.Context, body io.Reader, refresh bool) error {
	opaqueID := uuid.NewString()

	opts := []func(*esapi.BulkRequest){
		c.es.Bulk.WithContext(ctx),
		c.es.Bulk.WithIndex(c.index),
		c.es.Bulk.WithFilterPath(bulkFilterPath...),
		c.es.Bulk.WithOpaqueID(opaqueID),
	}
	if refresh {
		opts = append(opts, c.es.Bulk.WithRefresh("true"))
	}

	res, err := c.es.Bulk(body, opts...)
	if err != nil {
		return &bulk.Error{Op: "Bulk", Err: bulk.ErrTransport, Msg: err.Error()}
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return &bulk.Error{
			Op:     "Bulk",
			Err:    bulk.ErrTransport,
			Msg:    fmt.Sprintf("failed to read response: %v", err),
			Status: res.StatusCode,
		}
	}

	if res.IsError() {
		return &bulk.Error{
			Op:     "Bulk",
			Err:    bulk.ErrTransport,
			Msg:    fmt.Sprintf("status %d: %s", res.StatusCode, truncate(data)),
			Status: res.StatusCode,
		}
	}

	var parsed bulkResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return &bulk.Error{
			Op:     "Bulk",
			Err:    bulk.ErrTransport,
			Msg:    fmt.Sprintf("failed to decode response: %v", err),
			Status: res.StatusCode,
		}
	}

	if parsed.Errors {
		reasons := itemReasons(parsed.Items)
		msg := "response reported item failures"
		if len(reasons) > 0 {
			msg = fmt.Sprintf("%d item(s) failed, first: %s", len(reasons), reasons[0])
		}
		return &bulk.Error{
			Op:      "Bulk",
			Err:     bulk.ErrIndexing,
			Msg:     msg,
			Status:  res.StatusCode,
			Reasons: reasons,
		}
	}

	c.logger.Trace("bulk call acknowledged", "opaque_id", opaqueID, "refresh", refresh)
	return nil
}

func itemReasons(items []map[string]bulkResult) []string {
	var reasons []string
	for _, item := range items {
		for _, result := range item {
			if result.Error == nil {
				continue
			}
			reason := result.Error.Reason
			if result.Error.CausedBy != nil && result.Error.CausedBy.Reason != "" {
				reason = result.Error.CausedBy.Reason
			}
			if reason != "" {
				reasons = append(reasons, reason)
			}
		}
	}
	return reasons
}

// Refresh makes every indexed document visible to searches.
func (c *Client) Refresh(ctx context.Context) error {
	res, err := c.es.Indices.Refresh(
		c.es.Indices.Refresh.WithContext(ctx),
		c.es.Indices.Refresh.WithIndex(c.index),
	)
	if err != nil {
		return &bulk.Error{Op: "Refresh", Err: bulk.ErrRefresh, Msg: err.Error()}
	}
	defer res.Body.Close()

	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return &bulk.Error{
			Op:     "Refresh",
			Err:    bulk.ErrRefresh,
			Msg:    fmt.Sprintf("status %d: %s", res.StatusCode, truncate(data)),
			Status: res.StatusCode,
		}
	}
	return nil
}

// CreateIndex creates the index. body is marshalled as the request body
// (settings and mappings) and may be nil.
func (c *Client) CreateIndex(ctx context.Context, body any) error {
	opts := []func(*esapi.IndicesCreateRequest){
		c.es.Indices.Create.WithContext(ctx),
	}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode index definition: %w", err)
		}
		opts = append(opts, c.es.Indices.Create.WithBody(bytes.NewReader(data)))
	}

	res, err := c.es.Indices.Create(c.index, opts...)
	if err != nil {
		return fmt.Errorf("failed to create index %q: %w", c.index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("failed to create index %q: status %d: %s", c.index, res.StatusCode, truncate(data))
	}

	c.logger.Info("created index", "index", c.index)
	return nil
}

// DeleteIndex deletes the index. A missing index is not an error.
func (c *Client) DeleteIndex(ctx context.Context) error {
	res, err := c.es.Indices.Delete(
		[]string{c.index},
		c.es.Indices.Delete.WithContext(ctx),
		c.es.Indices.Delete.WithIgnoreUnavailable(true),
	)
	if err != nil {
		return fmt.Errorf("failed to delete index %q: %w", c.index, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("failed to delete index %q: status %d: %s", c.index, res.StatusCode, truncate(data))
	}

	c.logger.Info("deleted index", "index", c.index)
	return nil
}

func truncate(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
