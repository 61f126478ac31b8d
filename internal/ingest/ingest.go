// Package ingest implements the Ingestion Client (C10): submits articles
// to the storage service over the MCP bus RPC protocol and classifies
// responses into new/duplicate/error, annotating each article in place.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/newsguild/unicrawl/internal/crawlsite"
	"github.com/newsguild/unicrawl/internal/metrics"
)

// connectTimeout and readTimeout bound the ingestion RPC.
const (
	connectTimeout = 2 * time.Second
	readTimeout    = 10 * time.Second
)

// rpcRequest is the MCP bus envelope: POST /call with
// {agent, tool, args, kwargs}.
type rpcRequest struct {
	Agent  string         `json:"agent"`
	Tool   string         `json:"tool"`
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

// rpcResponse covers both response shapes the storage service emits: a
// nested {status, data:{status, duplicate?, error?}} or a flat
// {status, article_id?, duplicate?, error?}.
type rpcResponse struct {
	Status    string `json:"status"`
	ArticleID string `json:"article_id"`
	Duplicate bool   `json:"duplicate"`
	Error     string `json:"error"`
	Data *struct {
		Status    string `json:"status"`
		Duplicate bool   `json:"duplicate"`
		Error     string `json:"error"`
	} `json:"data"`
}

func (r rpcResponse) effectiveStatus() string {
	if r.Data != nil && r.Data.Status != "" {
		return r.Data.Status
	}
	return r.Status
}

func (r rpcResponse) effectiveDuplicate() bool {
	if r.Data != nil {
		return r.Data.Duplicate
	}
	return r.Duplicate
}

func (r rpcResponse) effectiveError() string {
	if r.Data != nil && r.Data.Error != "" {
		return r.Data.Error
	}
	return r.Error
}

func isOK(status string) bool {
	return status == "ok" || status == "success"
}

// Detail is one per-article record returned by Batch.
type Detail struct {
	URL    string `json:"url"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// BatchResult aggregates the outcome of submitting a batch of articles.
type BatchResult struct {
	NewArticles int
	Duplicates  int
	Errors      int
	Details     []Detail
}

// Client implements C10 against the configured MCP bus endpoint.
type Client struct {
	busURL string
	http   *http.Client
}

// New builds a Client. busURL is the MCP_BUS_URL base, default
// http://localhost:8000.
func New(busURL string) *Client {
	if busURL == "" {
		busURL = "http://localhost:8000"
	}
	return &Client{
		busURL: busURL,
		http:   &http.Client{Timeout: connectTimeout + readTimeout},
	}
}

// Batch submits each article in order, annotating article.IngestionStatus
// in place and returning the aggregate classification. A network exception
// for one article counts as that article's error and does not abort the
// rest of the batch.
func (c *Client) Batch(ctx context.Context, articles []*crawlsite.Article) BatchResult {
	var result BatchResult
	for _, article := range articles {
		status, errMsg := c.submitOne(ctx, article)
		result.Details = append(result.Details, Detail{URL: article.URL, Status: status, Error: errMsg})
		metrics.RecordIngestionOutcome(status)

		switch status {
		case "new":
			article.IngestionStatus = crawlsite.IngestionNew
			result.NewArticles++
		case "duplicate":
			article.IngestionStatus = crawlsite.IngestionDuplicate
			result.Duplicates++
		default:
			article.IngestionStatus = crawlsite.IngestionError
			result.Errors++
		}
	}
	return result
}

func (c *Client) submitOne(ctx context.Context, article *crawlsite.Article) (status, errMsg string) {
	payload := buildPayload(article)

	body, err := json.Marshal(rpcRequest{
		Agent: "memory",
		Tool:  "ingest_article",
		Args:  []any{},
		Kwargs: map[string]any{
			"article_payload": payload,
			"statements":      buildStatements(article),
		},
	})
	if err != nil {
		return "error", fmt.Sprintf("marshal request: %v", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, connectTimeout+readTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.busURL+"/call", bytes.NewReader(body))
	if err != nil {
		return "error", fmt.Sprintf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "error", fmt.Sprintf("rpc call: %v", err)
	}
	defer resp.Body.Close()

	var parsed rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "error", fmt.Sprintf("decode response: %v", err)
	}

	effStatus := parsed.effectiveStatus()
	if !isOK(effStatus) {
		msg := parsed.effectiveError()
		if msg == "" {
			msg = fmt.Sprintf("unexpected status %q", effStatus)
		}
		return "error", msg
	}
	if parsed.effectiveDuplicate() {
		return "duplicate", ""
	}
	return "new", ""
}

// buildPayload composes the canonical article fields the storage service
// consumes, plus the raw HTML reference.
func buildPayload(article *crawlsite.Article) map[string]any {
	return map[string]any{
		"url":                 article.URL,
		"canonical":           article.Canonical,
		"normalized_url":      article.NormalizedURL,
		"url_hash":            article.URLHash,
		"title":               article.Title,
		"content":             article.Content,
		"domain":              article.Domain,
		"source_name":         article.SourceName,
		"publisher_meta":      article.PublisherMeta,
		"extracted_metadata":  article.ExtractedMetadata,
		"structured_metadata": article.StructuredMetadata,
		"language":            article.Language,
		"authors":             article.Authors,
		"section":             article.Section,
		"tags":                article.Tags,
		"publication_date":    article.PublicationDate,
		"confidence":          article.Confidence,
		"paywall_flag":        article.PaywallFlag,
		"needs_review":        article.NeedsReview,
		"review_reasons":      article.ReviewReasons,
		"raw_html_ref":        article.RawHTMLRef,
		"timestamp":           article.Timestamp,
	}
}

// buildStatements produces the opaque SQL-like tuples the storage service
// consumes alongside the article payload — a single upsert-by-hash
// statement keyed on url_hash, the dedupe key the whole pipeline agrees on.
func buildStatements(article *crawlsite.Article) []map[string]any {
	return []map[string]any{
		{
			"op":        "upsert_article",
			"key":       "url_hash",
			"key_value": article.URLHash,
			"domain":    article.Domain,
		},
	}
}
