// Package fhir queries FHIR servers and walks paginated search bundles.
package fhir

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/tidwall/gjson"
)

const logPrefix = "fhir:helper"

// maxBundleBytes bounds a single page body.
const maxBundleBytes = 32 << 20

// fetchError carries the HTTP status of a failed fetch.
type fetchError struct {
	status int
	info   string
}

func (e *fetchError) Error() string {
	return fmt.Sprintf("fetch failed with %d %s", e.status, e.info)
}

// client is one FHIR server endpoint.
type client struct {
	base   *url.URL
	http   *http.Client
	accept string
}

// QueryHelper queries one or more FHIR servers of the same version. Servers
// are used round-robin, one per query.
type QueryHelper struct {
	version Version
	clients []*client
	next    atomic.Uint64
}

// NewQueryHelperParams holds parameters for NewQueryHelper.
type NewQueryHelperParams struct {
	BaseURLs []string
	// Version defaults to R4.
	Version Version
	// HTTPClient replaces the client built from the version's ClientConfig.
	HTTPClient *http.Client
}

// NewQueryHelper creates a QueryHelper.
func NewQueryHelper(params NewQueryHelperParams) (*QueryHelper, error) {
	if len(params.BaseURLs) == 0 {
		return nil, fmt.Errorf("%s - at least one FHIR server URL is required", logPrefix)
	}
	version := params.Version
	if version.IsZero() {
		version = R4
	}

	httpClient := params.HTTPClient
	if httpClient == nil {
		cfg := version.ClientConfig()
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.MaxIdleConnsPerHost = cfg.MaxIdleConn
		httpClient = &http.Client{Timeout: cfg.Timeout, Transport: transport}
	}

	h := &QueryHelper{version: version}
	for _, raw := range params.BaseURLs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		base, err := url.Parse(strings.TrimSuffix(raw, "/") + "/")
		if err != nil || base.Scheme == "" || base.Host == "" {
			return nil, fmt.Errorf("%s - invalid FHIR server URL %q", logPrefix, raw)
		}
		h.clients = append(h.clients, &client{base: base, http: httpClient, accept: version.ClientConfig().Accept})
	}
	if len(h.clients) == 0 {
		return nil, fmt.Errorf("%s - at least one FHIR server URL is required", logPrefix)
	}

	slog.Info(fmt.Sprintf("%s - FHIR %s helper over %d server(s)", logPrefix, version, len(h.clients)))
	return h, nil
}

// Version returns the FHIR version the helper speaks.
func (h *QueryHelper) Version() Version { return h.version }

func (h *QueryHelper) nextClient() *client {
	i := h.next.Add(1) - 1
	return h.clients[i%uint64(len(h.clients))]
}

// QueryServer fetches the bundle at resourceQuery and follows its "next"
// links until none remain, returning every entry's resource in order.
// resourceQuery may be absolute or relative to the server base URL.
//
// Failures are not returned as errors: the Response then has a nil Result
// and the HTTP status (0 when no response was received).
func (h *QueryHelper) QueryServer(ctx context.Context, resourceQuery string) *Response {
	c := h.nextClient()

	current, err := c.resolve(resourceQuery)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - Invalid query %q: %v", logPrefix, resourceQuery, err))
		return failure(err)
	}

	result := make([]Resource, 0)
	visited := make(map[string]bool)
	status, info := 0, ""
	for current != nil {
		key := current.String()
		if visited[key] {
			slog.Warn(fmt.Sprintf("%s - Pagination loop at %s, dropping %d collected resources", logPrefix, key, len(result)))
			return failure(&fetchError{info: InfoPaginationLoop})
		}
		visited[key] = true

		slog.Debug(fmt.Sprintf("%s - Invoking url %s", logPrefix, key))
		body, code, text, err := c.fetch(ctx, key)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - Query %s failed: %v", logPrefix, key, err))
			return failure(err)
		}
		status, info = code, text

		bundle := gjson.ParseBytes(body)
		if bundle.Get("resourceType").String() != "Bundle" {
			return failure(&fetchError{status: code, info: "response is not a Bundle"})
		}
		bundle.Get("entry.#.resource").ForEach(func(_, v gjson.Result) bool {
			result = append(result, Resource(v.Raw))
			return true
		})

		current, err = nextLink(bundle, current)
		if err != nil {
			return failure(&fetchError{status: code, info: err.Error()})
		}
	}

	return &Response{Result: result, StatusCode: status, StatusInfo: info}
}

// GetResourceByID reads resourceType/id. The Response holds a single resource on success.
func (h *QueryHelper) GetResourceByID(ctx context.Context, resourceType, id string) *Response {
	if resourceType == "" || id == "" {
		return failure(fmt.Errorf("%s - resource type and id are required", logPrefix))
	}
	c := h.nextClient()
	target, err := c.resolve(url.PathEscape(resourceType) + "/" + url.PathEscape(id))
	if err != nil {
		return failure(err)
	}

	body, code, text, err := c.fetch(ctx, target.String())
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - Read %s/%s failed: %v", logPrefix, resourceType, id, err))
		return failure(err)
	}
	res := Resource(body)
	if res.ResourceType() != resourceType {
		return failure(&fetchError{status: code, info: fmt.Sprintf("expected %s, got %q", resourceType, res.ResourceType())})
	}
	return &Response{Result: []Resource{res}, StatusCode: code, StatusInfo: text}
}

// QueryResources searches resourceType, optionally restricted to a subject.
// subjectRefAttr defaults to "subject"; fhirQuery is appended as extra
// search parameters.
func (h *QueryHelper) QueryResources(ctx context.Context, resourceType, subjectID, subjectRefAttr, fhirQuery string) *Response {
	if resourceType == "" {
		return failure(fmt.Errorf("%s - resource type is required", logPrefix))
	}
	return h.QueryServer(ctx, BuildQuery(resourceType, subjectID, subjectRefAttr, fhirQuery))
}

// BuildQuery builds a relative search URL.
func BuildQuery(resourceType, subjectID, subjectRefAttr, fhirQuery string) string {
	var params []string
	if subjectID != "" {
		if subjectRefAttr == "" {
			subjectRefAttr = "subject"
		}
		params = append(params, url.QueryEscape(subjectRefAttr)+"="+url.QueryEscape(subjectID))
	}
	if q := strings.TrimLeft(strings.TrimSpace(fhirQuery), "?&"); q != "" {
		params = append(params, q)
	}
	if len(params) == 0 {
		return resourceType
	}
	return resourceType + "?" + strings.Join(params, "&")
}

func nextLink(bundle gjson.Result, current *url.URL) (*url.URL, error) {
	var next string
	bundle.Get("link").ForEach(func(_, link gjson.Result) bool {
		if link.Get("relation").String() == "next" {
			next = link.Get("url").String()
			return false
		}
		return true
	})
	if next == "" {
		return nil, nil
	}
	u, err := current.Parse(next)
	if err != nil {
		return nil, fmt.Errorf("invalid next link %q: %w", next, err)
	}
	return u, nil
}

func (c *client) resolve(ref string) (*url.URL, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%s - empty resource query", logPrefix)
	}
	u, err := c.base.Parse(strings.TrimPrefix(ref, "/"))
	if err != nil {
		return nil, fmt.Errorf("%s - invalid resource query %q: %w", logPrefix, ref, err)
	}
	return u, nil
}

func (c *client) fetch(ctx context.Context, target string) ([]byte, int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, "", err
	}
	req.Header.Set("Accept", c.accept)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, "", err
	}
	defer resp.Body.Close()

	info := http.StatusText(resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBundleBytes))
		return nil, resp.StatusCode, info, &fetchError{status: resp.StatusCode, info: info}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBundleBytes))
	if err != nil {
		return nil, resp.StatusCode, info, err
	}
	if !gjson.ValidBytes(body) {
		return nil, resp.StatusCode, info, &fetchError{status: resp.StatusCode, info: "invalid JSON body"}
	}
	return body, resp.StatusCode, info, nil
}

// Status texts of failures that carry no HTTP status line.
const (
	InfoRequestFailed  = "request failed"
	InfoPaginationLoop = "pagination loop detected"
)

// failure converts err to a Response. Only fetchError text reaches callers;
// other detail stays in the logs.
func failure(err error) *Response {
	var fe *fetchError
	if errors.As(err, &fe) {
		return &Response{StatusCode: fe.status, StatusInfo: fe.info}
	}
	return &Response{StatusInfo: InfoRequestFailed}
}
