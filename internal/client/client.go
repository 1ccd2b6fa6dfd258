// Package client is a small HTTP client for the rule engine API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openlit/ruleengine/internal/engine"
	"github.com/openlit/ruleengine/internal/rules"
)

const basePath = "/rule-engine"

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Fields     map[string]string `json:"fields,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("API error (status %d)", e.StatusCode)
	}
	msg := fmt.Sprintf("API error (status %d, %s): %s", e.StatusCode, e.Code, e.Message)
	for field, problem := range e.Fields {
		msg += fmt.Sprintf("\n  %s: %s", field, problem)
	}
	return msg
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client is an HTTP client for the rule engine API
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// EvaluateRequest mirrors the evaluate endpoint body.
type EvaluateRequest struct {
	Record     map[string]any   `json:"record,omitempty"`
	Attributes map[string]any   `json:"attributes,omitempty"`
	RuleIDs    []string         `json:"rule_ids,omitempty"`
	EntityType rules.EntityType `json:"entity_type,omitempty"`
	EntityID   string           `json:"entity_id,omitempty"`
	Explain    bool             `json:"explain,omitempty"`
}

// EvaluateResponse mirrors the evaluate endpoint response.
type EvaluateResponse struct {
	Matched     []string            `json:"matched"`
	Results     []engine.RuleResult `json:"results,omitempty"`
	Evaluated   int                 `json:"evaluated"`
	ETag        string              `json:"etag"`
	EvaluatedAt time.Time           `json:"evaluated_at"`
}

// FieldsResponse mirrors the fields endpoint response.
type FieldsResponse struct {
	Fields    []rules.FieldDescriptor             `json:"fields"`
	Operators map[rules.DataType][]rules.Operator `json:"operators"`
}

// ListRules retrieves all rules, optionally filtered by status.
func (c *Client) ListRules(ctx context.Context, status rules.Status) ([]rules.Rule, error) {
	path := "/rules"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var result struct {
		Rules []rules.Rule `json:"rules"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Rules, nil
}

// GetRule retrieves a single rule by id
func (c *Client) GetRule(ctx context.Context, id string) (*rules.Rule, error) {
	var r rules.Rule
	if err := c.do(ctx, http.MethodGet, "/rules/"+url.PathEscape(id), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateRule creates a rule. An empty ID is assigned by the server.
func (c *Client) CreateRule(ctx context.Context, r rules.Rule) (*rules.Rule, error) {
	var created rules.Rule
	if err := c.do(ctx, http.MethodPost, "/rules", r, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateRule replaces an existing rule.
func (c *Client) UpdateRule(ctx context.Context, r rules.Rule) (*rules.Rule, error) {
	var updated rules.Rule
	if err := c.do(ctx, http.MethodPut, "/rules/"+url.PathEscape(r.ID), r, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// ApplyRule updates the rule when it exists and creates it otherwise.
func (c *Client) ApplyRule(ctx context.Context, r rules.Rule) (*rules.Rule, bool, error) {
	if r.ID != "" {
		updated, err := c.UpdateRule(ctx, r)
		if err == nil {
			return updated, false, nil
		}
		if !IsNotFound(err) {
			return nil, false, err
		}
	}
	created, err := c.CreateRule(ctx, r)
	return created, true, err
}

// DeleteRule deletes a rule
func (c *Client) DeleteRule(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/rules/"+url.PathEscape(id), nil, nil)
}

// ListEntities returns the entities linked to a rule.
func (c *Client) ListEntities(ctx context.Context, ruleID string) ([]rules.EntityAssociation, error) {
	var result struct {
		Entities []rules.EntityAssociation `json:"entities"`
	}
	if err := c.do(ctx, http.MethodGet, "/rules/"+url.PathEscape(ruleID)+"/entities", nil, &result); err != nil {
		return nil, err
	}
	return result.Entities, nil
}

// LinkEntity links a rule to an entity.
func (c *Client) LinkEntity(ctx context.Context, a rules.EntityAssociation) error {
	body := map[string]string{"entity_type": string(a.EntityType), "entity_id": a.EntityID}
	return c.do(ctx, http.MethodPost, "/rules/"+url.PathEscape(a.RuleID)+"/entities", body, nil)
}

// UnlinkEntity removes a link between a rule and an entity.
func (c *Client) UnlinkEntity(ctx context.Context, a rules.EntityAssociation) error {
	path := fmt.Sprintf("/rules/%s/entities/%s/%s",
		url.PathEscape(a.RuleID), url.PathEscape(string(a.EntityType)), url.PathEscape(a.EntityID))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// Evaluate asks the server which rules match.
func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest) (*EvaluateResponse, error) {
	var resp EvaluateResponse
	if err := c.do(ctx, http.MethodPost, "/evaluate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Fields returns the field catalog and the operators per data type.
func (c *Client) Fields(ctx context.Context) (*FieldsResponse, error) {
	var resp FieldsResponse
	if err := c.do(ctx, http.MethodGet, "/fields", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+basePath+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		bodyBytes, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(bodyBytes, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(bodyBytes))
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
