package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/walnutseal1/yk-project/pkg/httpclient"
)

const webResponseLimit = 64 * 1024

// WebRequestTool performs a GET or POST fetch and returns the response body
// text, truncated to a sane size for a model context.
type WebRequestTool struct {
	client *httpclient.Client
}

func NewWebRequestTool() *WebRequestTool {
	return &WebRequestTool{
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
			httpclient.WithMaxRetries(1),
		),
	}
}

func (t *WebRequestTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "web_request",
		Description: "Makes an HTTP request to a URL and returns the response body as text.",
		Parameters: []ToolParameter{
			{Name: "url", Type: "string", Description: "The URL to request. Must start with http:// or https://.", Required: true},
			{Name: "method", Type: "string", Description: "HTTP method, GET or POST. Defaults to GET."},
			{Name: "body", Type: "string", Description: "Request body for POST requests."},
		},
	}
}

func (t *WebRequestTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	url := stringArg(args, "url")
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("url must start with http:// or https://")
	}

	method := strings.ToUpper(stringArg(args, "method"))
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet && method != http.MethodPost {
		return nil, fmt.Errorf("unsupported method %q", method)
	}

	var bodyReader io.Reader
	if body := stringArg(args, "body"); body != "" && method == http.MethodPost {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Sprintf("Error: Request to %s failed: %v", url, err), nil
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, webResponseLimit))
	if err != nil {
		return fmt.Sprintf("Error: Could not read response from %s: %v", url, err), nil
	}
	return fmt.Sprintf("HTTP %d from %s:\n%s", resp.StatusCode, url, string(data)), nil
}
