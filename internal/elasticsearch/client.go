package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/DeafMist/wiki-offline/internal/models"
	"github.com/DeafMist/wiki-offline/internal/processing"
)

// Client wraps go-elasticsearch with helpers for the article mirror.
type Client struct {
	es    *elasticsearch.Client
	index string
	log   *slog.Logger
}

// Document is the mirrored form of an article. Body is the plain text that
// gets analyzed; Content keeps the sanitized HTML for display.
type Document struct {
	ID          uint64    `json:"id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Content     string    `json:"content"`
	Categories  []string  `json:"categories"`
	ExtractedAt time.Time `json:"extracted_at"`
	RunID       string    `json:"run_id"`
}

// NewDocument projects an article for the mirror run runID.
func NewDocument(a models.Article, runID string) Document {
	categories := a.Categories
	if categories == nil {
		categories = []string{}
	}
	return Document{
		ID:          a.ID,
		Title:       a.Title,
		Body:        processing.PlainText(a.Content),
		Content:     a.Content,
		Categories:  categories,
		ExtractedAt: a.ExtractedAt.UTC(),
		RunID:       runID,
	}
}

// SearchParams narrow the search endpoint query.
type SearchParams struct {
	Query      string
	From       int
	Size       int
	TitleBoost float64
}

// SearchResult bundles hits and total count.
type SearchResult struct {
	Total int64
	Items []Document
}

// New instantiates the Elasticsearch client.
func New(addr, index string, logger *slog.Logger) (*Client, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{addr},
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{es: es, index: index, log: logger}, nil
}

// Ping checks if Elasticsearch is available.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping failed: %s", res.Status())
	}

	return nil
}

// EnsureIndex creates the mirror index with its mapping when missing.
func (c *Client) EnsureIndex(ctx context.Context) error {
	res, err := c.es.Indices.Exists([]string{c.index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	payload, err := json.Marshal(indexMapping())
	if err != nil {
		return fmt.Errorf("marshal mapping: %w", err)
	}
	res, err = c.es.Indices.Create(c.index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("create index failed: %s", strings.TrimSpace(string(body)))
	}
	c.log.Info("created elasticsearch index", slog.String("index", c.index))
	return nil
}

func indexMapping() map[string]any {
	return map[string]any{
		"mappings": map[string]any{
			"dynamic": "strict",
			"properties": map[string]any{
				"id":           map[string]any{"type": "unsigned_long"},
				"title":        map[string]any{"type": "text", "fields": map[string]any{"raw": map[string]any{"type": "keyword"}}},
				"body":         map[string]any{"type": "text"},
				"content":      map[string]any{"type": "text", "index": false},
				"categories":   map[string]any{"type": "keyword"},
				"extracted_at": map[string]any{"type": "date"},
				"run_id":       map[string]any{"type": "keyword"},
			},
		},
	}
}

// BulkIndex writes docs in one bulk request keyed by article id.
func (c *Client) BulkIndex(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	payload, err := buildBulkBody(docs)
	if err != nil {
		return err
	}

	res, err := c.es.Bulk(bytes.NewReader(payload),
		c.es.Bulk.WithContext(ctx),
		c.es.Bulk.WithIndex(c.index),
		c.es.Bulk.WithRefresh("false"),
	)
	if err != nil {
		return fmt.Errorf("bulk index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("bulk index failed: %s", strings.TrimSpace(string(body)))
	}

	var parsed struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  struct {
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if !parsed.Errors {
		return nil
	}
	for _, item := range parsed.Items {
		for _, result := range item {
			if result.Status >= http.StatusBadRequest {
				return fmt.Errorf("bulk item %s failed: %s", result.ID, result.Error.Reason)
			}
		}
	}
	return fmt.Errorf("bulk index reported errors")
}

func buildBulkBody(docs []Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, doc := range docs {
		meta := map[string]any{"index": map[string]any{"_id": strconv.FormatUint(doc.ID, 10)}}
		if err := enc.Encode(meta); err != nil {
			return nil, fmt.Errorf("marshal bulk meta: %w", err)
		}
		if err := enc.Encode(doc); err != nil {
			return nil, fmt.Errorf("marshal doc %d: %w", doc.ID, err)
		}
	}
	return buf.Bytes(), nil
}

// Search runs a conjunctive query across title and body.
func (c *Client) Search(ctx context.Context, params SearchParams) (*SearchResult, error) {
	payload, err := json.Marshal(buildSearchBody(params))
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("search failed: %s", strings.TrimSpace(string(data)))
	}

	var parsed struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source Document `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}

	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	items := make([]Document, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		items = append(items, hit.Source)
	}

	return &SearchResult{
		Total: parsed.Hits.Total.Value,
		Items: items,
	}, nil
}

// buildSearchBody mirrors the local ranking: every term must match title or
// body, title matches are boosted, ties go to the lower id.
func buildSearchBody(params SearchParams) map[string]any {
	if params.Size <= 0 {
		params.Size = 20
	}
	if params.Size > 200 {
		params.Size = 200
	}
	if params.From < 0 {
		params.From = 0
	}
	if params.TitleBoost <= 0 {
		params.TitleBoost = 5
	}

	query := map[string]any{"match_none": map[string]any{}}
	if q := strings.TrimSpace(params.Query); q != "" {
		query = map[string]any{
			"multi_match": map[string]any{
				"query":    q,
				"type":     "cross_fields",
				"operator": "and",
				"fields":   []string{"title^" + strconv.FormatFloat(params.TitleBoost, 'f', -1, 64), "body"},
			},
		}
	}

	return map[string]any{
		"from":             params.From,
		"size":             params.Size,
		"track_total_hits": true,
		"_source":          []string{"id", "title", "categories", "extracted_at", "run_id"},
		"query":            query,
		"sort": []map[string]any{
			{"_score": map[string]any{"order": "desc"}},
			{"id": map[string]any{"order": "asc"}},
		},
	}
}

// DeleteOtherRuns removes documents left behind by earlier mirror runs,
// looping until a batch deletes fewer documents than batchSize.
func (c *Client) DeleteOtherRuns(ctx context.Context, runID string, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	totalDeleted := int64(0)

	for {
		body := map[string]any{
			"query": map[string]any{
				"bool": map[string]any{
					"must_not": []map[string]any{
						{"term": map[string]any{"run_id": runID}},
					},
				},
			},
		}

		payload, err := json.Marshal(body)
		if err != nil {
			return totalDeleted, fmt.Errorf("marshal delete body: %w", err)
		}

		res, err := c.es.DeleteByQuery(
			[]string{c.index},
			bytes.NewReader(payload),
			c.es.DeleteByQuery.WithContext(ctx),
			c.es.DeleteByQuery.WithWaitForCompletion(true),
			c.es.DeleteByQuery.WithConflicts("proceed"),
			c.es.DeleteByQuery.WithScrollSize(batchSize),
			c.es.DeleteByQuery.WithMaxDocs(batchSize),
		)
		if err != nil {
			return totalDeleted, fmt.Errorf("delete by query: %w", err)
		}

		if res.IsError() {
			data, _ := io.ReadAll(res.Body)
			res.Body.Close()
			return totalDeleted, fmt.Errorf("delete by query failed: %s", strings.TrimSpace(string(data)))
		}

		var parsed struct {
			Deleted int64 `json:"deleted"`
		}
		if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
			res.Body.Close()
			return totalDeleted, fmt.Errorf("decode delete response: %w", err)
		}
		res.Body.Close()

		totalDeleted += parsed.Deleted

		if parsed.Deleted < int64(batchSize) {
			break
		}
	}

	return totalDeleted, nil
}

// Health waits briefly for the cluster to reach at least yellow and
// returns its status. A red cluster is an error.
func (c *Client) Health(ctx context.Context) (string, error) {
	res, err := c.es.Cluster.Health(
		c.es.Cluster.Health.WithContext(ctx),
		c.es.Cluster.Health.WithWaitForStatus("yellow"),
		c.es.Cluster.Health.WithTimeout(5*time.Second),
	)
	if err != nil {
		return "", fmt.Errorf("cluster health: %w", err)
	}
	defer res.Body.Close()

	var parsed struct {
		Status   string `json:"status"`
		TimedOut bool   `json:"timed_out"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode cluster health: %w", err)
	}
	if res.IsError() || parsed.TimedOut || parsed.Status == "red" {
		return parsed.Status, fmt.Errorf("cluster not ready: %s (status %q)", res.Status(), parsed.Status)
	}
	return parsed.Status, nil
}

// Refresh makes every document indexed so far visible to search.
func (c *Client) Refresh(ctx context.Context) error {
	res, err := c.es.Indices.Refresh(
		c.es.Indices.Refresh.WithContext(ctx),
		c.es.Indices.Refresh.WithIndex(c.index),
	)
	if err != nil {
		return fmt.Errorf("refresh index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("refresh index failed: %s", strings.TrimSpace(string(data)))
	}
	return nil
}
