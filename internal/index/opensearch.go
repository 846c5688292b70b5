// Package index mirrors terminal traceability events into OpenSearch so
// operators can search the chain without touching the journal database.
package index

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"

	"github.com/arkheion-systems/arkheion-securing/internal/models"
)

// Config holds OpenSearch connection settings.
type Config struct {
	URL           string
	Username      string
	Password      string
	TLSSkipVerify bool
	IndexName     string
}

// DefaultConfig returns sensible defaults for a local cluster.
func DefaultConfig() Config {
	return Config{
		URL:           "https://localhost:9200",
		Username:      "admin",
		Password:      "admin",
		TLSSkipVerify: true,
		IndexName:     "securing-traceability",
	}
}

// Client indexes traceability events. One document per securing operation,
// keyed by operation id, so re-indexing is idempotent.
type Client struct {
	osClient *opensearch.Client
	index    string
}

// NewClient creates an OpenSearch-backed indexer.
func NewClient(cfg Config) (*Client, error) {
	if cfg.IndexName == "" {
		cfg.IndexName = DefaultConfig().IndexName
	}

	osCfg := opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.TLSSkipVerify,
			},
		},
	}
	client, err := opensearch.NewClient(osCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}
	return &Client{osClient: client, index: cfg.IndexName}, nil
}

// Ping verifies the cluster is reachable.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.osClient.Info(c.osClient.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to connect to opensearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("opensearch returned error: %s", res.Status())
	}
	return nil
}

// document is the indexed shape: the traceability event plus the journal
// identifiers search queries filter on.
type document struct {
	Tenant      int                       `json:"tenant"`
	OperationID string                    `json:"operationId"`
	IndexedAt   time.Time                 `json:"indexedAt"`
	Event       *models.TraceabilityEvent `json:"event"`
}

// IndexTraceability stores one terminal traceability event.
func (c *Client) IndexTraceability(ctx context.Context, tenant int, operationID string, ev *models.TraceabilityEvent) error {
	doc := document{
		Tenant:      tenant,
		OperationID: operationID,
		IndexedAt:   time.Now().UTC(),
		Event:       ev,
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal traceability document: %w", err)
	}

	res, err := c.osClient.Index(
		c.index,
		bytes.NewReader(body),
		c.osClient.Index.WithContext(ctx),
		c.osClient.Index.WithDocumentID(operationID),
	)
	if err != nil {
		return fmt.Errorf("failed to index traceability event: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		return fmt.Errorf("opensearch rejected document: %s - %s", res.Status(), string(raw))
	}
	return nil
}
