// Package catalog is the read-only client for the product/company catalog
// service, consumed exclusively by tool execution.
package catalog

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

	"github.com/capitalize-ai/conversation-orchestrator/internal/apperr"
)

// Product is one catalog entry.
type Product struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price,omitempty"`
	Currency    string  `json:"currency,omitempty"`
	ImageURL    string  `json:"image_url,omitempty"`
	InStock     bool    `json:"in_stock"`
}

// CompanyInfo is the tenant's public profile.
type CompanyInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Hours       string `json:"hours,omitempty"`
	Address     string `json:"address,omitempty"`
	Website     string `json:"website,omitempty"`
}

// Service is the catalog contract consumed by tool handlers.
type Service interface {
	GetFeatured(ctx context.Context, tenantID string) ([]Product, error)
	GetDetail(ctx context.Context, tenantID, productID string) (*Product, error)
	SemanticSearch(ctx context.Context, tenantID, query string, k int) ([]Product, error)
	GetCompanyInfo(ctx context.Context, tenantID string) (*CompanyInfo, error)
}

// Client talks to the catalog HTTP service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewClient creates a catalog client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

// GetFeatured returns the tenant's featured products.
func (c *Client) GetFeatured(ctx context.Context, tenantID string) ([]Product, error) {
	var out []Product
	if err := c.get(ctx, fmt.Sprintf("/tenants/%s/products/featured", url.PathEscape(tenantID)), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetDetail returns one product by id.
func (c *Client) GetDetail(ctx context.Context, tenantID, productID string) (*Product, error) {
	var out Product
	path := fmt.Sprintf("/tenants/%s/products/%s", url.PathEscape(tenantID), url.PathEscape(productID))
	if err := c.get(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SemanticSearch returns the k products most similar to the query.
func (c *Client) SemanticSearch(ctx context.Context, tenantID, query string, k int) ([]Product, error) {
	if k <= 0 {
		k = 5
	}
	var out []Product
	params := url.Values{"q": {query}, "k": {strconv.Itoa(k)}}
	if err := c.get(ctx, fmt.Sprintf("/tenants/%s/products/search", url.PathEscape(tenantID)), params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetCompanyInfo returns the tenant's company profile.
func (c *Client) GetCompanyInfo(ctx context.Context, tenantID string) (*CompanyInfo, error) {
	var out CompanyInfo
	if err := c.get(ctx, fmt.Sprintf("/tenants/%s/company", url.PathEscape(tenantID)), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return apperr.New(apperr.CodeUnknown, "catalog_request_build", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.New(apperr.CodeTransientIO, "catalog_request", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apperr.New(apperr.CodeNotFound, "catalog_not_found", nil)
	case resp.StatusCode >= 500:
		return apperr.New(apperr.CodeTransientIO, "catalog_unavailable",
			fmt.Errorf("status=%d", resp.StatusCode))
	case resp.StatusCode >= 300:
		return apperr.New(apperr.CodeUnknown, "catalog_rejected",
			fmt.Errorf("status=%d body=%s", resp.StatusCode, body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return apperr.New(apperr.CodeUnknown, "catalog_decode", err)
	}
	return nil
}
