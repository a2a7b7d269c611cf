// Package client is a Go client for the Stratum cluster API.
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
	"strconv"
	"strings"
	"time"

	"evalgo.org/stratum/internal/version"
	"evalgo.org/stratum/models"
)

const apiPrefix = "/api/v1"

// Options configure a Client.
type Options struct {
	// Token is sent as a bearer token.
	Token string
	// APIKey is sent in X-API-Key and takes precedence over Token.
	APIKey string
	// Project selects the project the requests act on.
	Project string
	// ProjectHeader defaults to X-Project.
	ProjectHeader string
	Timeout       time.Duration
	HTTPClient    *http.Client
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	opts       Options
}

func New(baseURL string, opts Options) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid baseURL %q", baseURL)
	}
	if opts.ProjectHeader == "" {
		opts.ProjectHeader = "X-Project"
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		opts:       opts,
	}, nil
}

// Error is a non-2xx answer of the server.
type Error struct {
	StatusCode int               `json:"code"`
	Code       string            `json:"errorCode"`
	Message    string            `json:"message"`
	Details    string            `json:"details"`
	Fields     map[string]string `json:"field_errors"`
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("HTTP %d", e.StatusCode)
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	return msg
}

// IsNotFound reports whether err is a 404 answer.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.StatusCode == http.StatusNotFound
}

// ClusterList is the answer of ListClusters.
type ClusterList struct {
	DocumentLinks []string                      `json:"documentLinks"`
	Documents     map[string]*models.ClusterDto `json:"documents"`
	TotalCount    int                           `json:"totalCount"`
}

// HostPage is one page of cluster hosts.
type HostPage struct {
	DocumentLinks []string                `json:"documentLinks"`
	Documents     map[string]*models.Host `json:"documents"`
	DocumentCount int                     `json:"documentCount"`
	NextPageLink  string                  `json:"nextPageLink"`
}

// Teardown describes a delete the server is still working on.
type Teardown struct {
	ClusterID string `json:"clusterId"`
	HostID    string `json:"hostId"`
	TaskID    string `json:"taskId"`
	Stage     string `json:"stage"`
}

// Created is the result of creating a cluster or adding a host. Exactly
// one of the fields is set; Certificate means the host presented a
// certificate that must be accepted first.
type Created struct {
	Cluster     *models.ClusterDto
	Host        *models.Host
	Certificate *models.CertificateChallenge
}

// ListOptions filter ListClusters.
type ListOptions struct {
	Filter string
	Type   string
	Expand bool
}

// HostListOptions filter and page ListHosts.
type HostListOptions struct {
	Filter        string
	CustomOptions map[string]string
	Limit         int
	Skip          int
}

// Health calls the health endpoint.
func (c *Client) Health(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	if _, err := c.do(ctx, http.MethodGet, "/health", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListClusters(ctx context.Context, opts ListOptions) (*ClusterList, error) {
	q := url.Values{}
	if opts.Filter != "" {
		q.Set("$filter", opts.Filter)
	}
	if opts.Type != "" {
		q.Set("type", opts.Type)
	}
	if opts.Expand {
		q.Set("expand", "true")
	}

	var out ClusterList
	if _, err := c.do(ctx, http.MethodGet, apiPrefix+"/clusters", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetCluster(ctx context.Context, id string) (*models.ClusterDto, error) {
	var out models.ClusterDto
	if _, err := c.do(ctx, http.MethodGet, clusterPath(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateCluster(ctx context.Context, spec *models.ClusterSpec) (*Created, error) {
	var raw json.RawMessage
	if _, err := c.do(ctx, http.MethodPost, apiPrefix+"/clusters", nil, spec, &raw); err != nil {
		return nil, err
	}
	if cert, ok := certificateOf(raw); ok {
		return &Created{Certificate: cert}, nil
	}
	var dto models.ClusterDto
	if err := json.Unmarshal(raw, &dto); err != nil {
		return nil, fmt.Errorf("failed to decode cluster: %w", err)
	}
	return &Created{Cluster: &dto}, nil
}

func (c *Client) PatchCluster(ctx context.Context, id string, spec *models.ClusterSpec) (*models.ClusterDto, error) {
	var out models.ClusterDto
	if _, err := c.do(ctx, http.MethodPatch, clusterPath(id), nil, spec, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteCluster deletes a cluster. A nil Teardown means the delete
// completed; otherwise the server is still removing the hosts.
func (c *Client) DeleteCluster(ctx context.Context, id string) (*Teardown, error) {
	return c.teardown(ctx, clusterPath(id))
}

func (c *Client) ListHosts(ctx context.Context, clusterID string, opts HostListOptions) (*HostPage, error) {
	q := url.Values{}
	if opts.Filter != "" {
		q.Set("$hostsFilter", opts.Filter)
	}
	if len(opts.CustomOptions) > 0 {
		pairs := make([]string, 0, len(opts.CustomOptions))
		for k, v := range opts.CustomOptions {
			pairs = append(pairs, k+"="+v)
		}
		q.Set("customOptions", strings.Join(pairs, ","))
	}
	if opts.Limit > 0 {
		q.Set("$limit", strconv.Itoa(opts.Limit))
	}
	if opts.Skip > 0 {
		q.Set("$skip", strconv.Itoa(opts.Skip))
	}

	var out HostPage
	if _, err := c.do(ctx, http.MethodGet, clusterPath(clusterID)+"/hosts", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// NextHosts follows the nextPageLink of page. It returns nil when page
// was the last one.
func (c *Client) NextHosts(ctx context.Context, page *HostPage) (*HostPage, error) {
	if page == nil || page.NextPageLink == "" {
		return nil, nil
	}
	u, err := url.Parse(page.NextPageLink)
	if err != nil {
		return nil, fmt.Errorf("invalid next page link: %w", err)
	}

	var out HostPage
	if _, err := c.do(ctx, http.MethodGet, u.Path, u.Query(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AddHost(ctx context.Context, clusterID string, spec *models.HostSpec) (*Created, error) {
	var raw json.RawMessage
	if _, err := c.do(ctx, http.MethodPost, clusterPath(clusterID)+"/hosts", nil, spec, &raw); err != nil {
		return nil, err
	}
	if cert, ok := certificateOf(raw); ok {
		return &Created{Certificate: cert}, nil
	}
	var host models.Host
	if err := json.Unmarshal(raw, &host); err != nil {
		return nil, fmt.Errorf("failed to decode host: %w", err)
	}
	return &Created{Host: &host}, nil
}

func (c *Client) GetHost(ctx context.Context, clusterID, hostID string) (*models.Host, error) {
	var out models.Host
	if _, err := c.do(ctx, http.MethodGet, hostPath(clusterID, hostID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RemoveHost removes a host from a cluster, see DeleteCluster.
func (c *Client) RemoveHost(ctx context.Context, clusterID, hostID string) (*Teardown, error) {
	return c.teardown(ctx, hostPath(clusterID, hostID))
}

func (c *Client) teardown(ctx context.Context, path string) (*Teardown, error) {
	var out Teardown
	status, err := c.do(ctx, http.MethodDelete, path, nil, nil, &out)
	if err != nil {
		return nil, err
	}
	if status == http.StatusAccepted {
		return &out, nil
	}
	return nil, nil
}

func clusterPath(id string) string {
	return apiPrefix + "/clusters/" + url.PathEscape(id)
}

func hostPath(clusterID, hostID string) string {
	return clusterPath(clusterID) + "/hosts/" + url.PathEscape(hostID)
}

func certificateOf(raw json.RawMessage) (*models.CertificateChallenge, bool) {
	var probe struct {
		Certificate *models.CertificateChallenge `json:"certificate"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || probe.Certificate == nil {
		return nil, false
	}
	return probe.Certificate, true
}

// do sends a request and decodes a 2xx body into out. It returns the
// status code.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) (int, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.opts.APIKey != "":
		req.Header.Set("X-API-Key", c.opts.APIKey)
	case c.opts.Token != "":
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	if c.opts.Project != "" {
		req.Header.Set(c.opts.ProjectHeader, c.opts.Project)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to API server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &Error{}
		if len(data) > 0 && json.Unmarshal(data, apiErr) == nil {
			apiErr.StatusCode = resp.StatusCode
			return resp.StatusCode, apiErr
		}
		return resp.StatusCode, &Error{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
