package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/walnutseal1/yk-project/pkg/httpclient"
)

// OllamaProvider streams from a local ollama daemon over its native NDJSON
// chat API. Unlike the OpenAI wire, ollama delivers tool calls whole, one per
// response line, with arguments already decoded as an object.
type OllamaProvider struct {
	baseURL    string
	opts       Options
	httpClient *httpclient.Client

	mu    sync.RWMutex
	model string
}

type ollamaRequest struct {
	Model    string                 `json:"model"`
	Messages []ollamaMessage        `json:"messages"`
	Stream   bool                   `json:"stream"`
	Tools    []openAITool           `json:"tools,omitempty"`
	Think    bool                   `json:"think,omitempty"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function ollamaFunctionCall `json:"function"`
}

type ollamaFunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type ollamaStreamResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

func newOllamaProvider(model string, opts Options) (*OllamaProvider, error) {
	timeout := time.Duration(opts.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &OllamaProvider{
		baseURL: envOrDefault("OLLAMA_HOST", "http://localhost:11434"),
		opts:    opts,
		model:   model,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
			httpclient.WithMaxRetries(0),
		),
	}, nil
}

func (p *OllamaProvider) ModelName() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.model
}

func (p *OllamaProvider) SetModel(model string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.model = model
}

func (p *OllamaProvider) Close() error {
	return nil
}

func (p *OllamaProvider) Query(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	request := p.buildRequest(messages)

	outputCh := make(chan StreamChunk, 100)
	go func() {
		defer close(outputCh)
		if err := p.streamRequest(ctx, request, outputCh); err != nil {
			outputCh <- StreamChunk{Type: ChunkError, Err: err}
		}
	}()
	return outputCh, nil
}

func (p *OllamaProvider) buildRequest(messages []Message) ollamaRequest {
	req := ollamaRequest{
		Model:  p.ModelName(),
		Stream: true,
		Think:  p.opts.ThinkLevel != "" && p.opts.ThinkLevel != "off",
	}
	if p.opts.MaxTokens > 0 || p.opts.Temperature != 0 {
		req.Options = map[string]interface{}{}
		if p.opts.MaxTokens > 0 {
			req.Options["num_predict"] = p.opts.MaxTokens
		}
		if p.opts.Temperature != 0 {
			req.Options["temperature"] = p.opts.Temperature
		}
	}

	for _, m := range messages {
		om := ollamaMessage{Role: m.Role, Content: m.Content}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, ollamaToolCall{
				Function: ollamaFunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		req.Messages = append(req.Messages, om)
	}

	for _, tool := range p.opts.Tools {
		req.Tools = append(req.Tools, openAITool{
			Type: "function",
			Function: openAIToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	return req
}

func (p *OllamaProvider) streamRequest(ctx context.Context, request ollamaRequest, outputCh chan<- StreamChunk) error {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(requestBody))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(requestBody)), nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ollama request failed with status %d: %s", resp.StatusCode, string(body))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	splitter := &thinkSplitter{}

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var streamResp ollamaStreamResponse
		if err := json.Unmarshal(line, &streamResp); err != nil {
			continue
		}
		if streamResp.Error != "" {
			return fmt.Errorf("ollama error: %s", streamResp.Error)
		}

		if streamResp.Message.Content != "" {
			for _, chunk := range splitter.split(streamResp.Message.Content) {
				outputCh <- chunk
			}
		}
		for _, tc := range streamResp.Message.ToolCalls {
			args := tc.Function.Arguments
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			outputCh <- StreamChunk{
				Type: ChunkToolCall,
				ToolCall: &ToolCall{
					ID:        uuid.New().String(),
					Name:      tc.Function.Name,
					Arguments: args,
				},
			}
		}
		if streamResp.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read stream: %w", err)
	}

	for _, chunk := range splitter.flush() {
		outputCh <- chunk
	}
	return nil
}
