// Package extractor talks to the external document-extraction service that
// turns an uploaded file into a nested, loosely-structured payload.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var ErrEmptyDocument = errors.New("document has no content")

type Document struct {
	Filename    string
	ContentType string
	Data        []byte
	// DocumentType is a caller hint; the service may override it.
	DocumentType string
}

type Result struct {
	DocumentType         string             `json:"document_type"`
	StructuredExtraction map[string]any     `json:"structured_extraction"`
	ConfidenceScores     map[string]float64 `json:"confidence_scores"`
}

// response is the wire shape; confidence values are loosely typed upstream.
type response struct {
	DocumentType         string         `json:"document_type"`
	StructuredExtraction map[string]any `json:"structured_extraction"`
	ConfidenceScores     map[string]any `json:"confidence_scores"`
}

// numericScores keeps the entries that are numbers or numeric strings.
func numericScores(raw map[string]any) map[string]float64 {
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		switch x := v.(type) {
		case float64:
			out[k] = x
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
				out[k] = f
			}
		}
	}
	return out
}

type Extractor interface {
	Extract(ctx context.Context, doc Document) (*Result, error)
}

type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Extract(ctx context.Context, doc Document) (*Result, error) {
	if len(doc.Data) == 0 {
		return nil, ErrEmptyDocument
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", doc.Filename)
	if err != nil {
		return nil, fmt.Errorf("build multipart body: %w", err)
	}
	if _, err := part.Write(doc.Data); err != nil {
		return nil, fmt.Errorf("build multipart body: %w", err)
	}
	if doc.DocumentType != "" {
		_ = mw.WriteField("document_type", doc.DocumentType)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/extract", &body)
	if err != nil {
		return nil, fmt.Errorf("create extract request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call extractor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("extractor returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var wire response
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode extractor response: %w", err)
	}
	out := Result{
		DocumentType:         wire.DocumentType,
		StructuredExtraction: wire.StructuredExtraction,
		ConfidenceScores:     numericScores(wire.ConfidenceScores),
	}
	if out.StructuredExtraction == nil {
		out.StructuredExtraction = map[string]any{}
	}
	if out.DocumentType == "" {
		out.DocumentType = doc.DocumentType
	}
	return &out, nil
}

// Ping checks the service's health endpoint.
func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("extractor health returned %d", resp.StatusCode)
	}
	return nil
}
