package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/walnutseal1/yk-project/pkg/httpclient"
)

// OpenAICompatProvider speaks the OpenAI chat-completions wire format. It
// backs the openrouter, lmstudio and kobold-cpp schemes, which differ only in
// endpoint and credential source.
type OpenAICompatProvider struct {
	scheme     string
	baseURL    string
	apiKey     string
	opts       Options
	httpClient *httpclient.Client

	mu    sync.RWMutex
	model string
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
	Stream      bool            `json:"stream"`
	Tools       []openAITool    `json:"tools,omitempty"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAITool struct {
	Type     string             `json:"type"`
	Function openAIToolFunction `json:"function"`
}

type openAIToolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type openAIToolCall struct {
	Index    *int               `json:"index,omitempty"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function openAIFunctionCall `json:"function"`
}

type openAIFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type openAIStreamResponse struct {
	Choices []openAIStreamChoice `json:"choices"`
	Error   *openAIError         `json:"error,omitempty"`
}

type openAIStreamChoice struct {
	Delta        openAIDelta `json:"delta"`
	FinishReason string      `json:"finish_reason"`
}

type openAIDelta struct {
	Content   string           `json:"content,omitempty"`
	Reasoning string           `json:"reasoning,omitempty"`
	ToolCalls []openAIToolCall `json:"tool_calls,omitempty"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

func newOpenAICompatProvider(scheme, model string, opts Options) (*OpenAICompatProvider, error) {
	var baseURL, apiKey string
	switch scheme {
	case "openrouter":
		apiKey = os.Getenv("OPENROUTER_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("OPENROUTER_KEY environment variable not set")
		}
		baseURL = "https://openrouter.ai/api/v1"
	case "lmstudio":
		baseURL = envOrDefault("LMSTUDIO_URL", "http://127.0.0.1:1234") + "/v1"
	case "kobold-cpp":
		baseURL = envOrDefault("KOBOLD_URL", "http://127.0.0.1:5001") + "/v1"
	default:
		return nil, fmt.Errorf("unknown openai-compatible scheme: %s", scheme)
	}

	timeout := time.Duration(opts.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &OpenAICompatProvider{
		scheme:  scheme,
		baseURL: baseURL,
		apiKey:  apiKey,
		opts:    opts,
		model:   model,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
			httpclient.WithMaxRetries(0),
		),
	}, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (p *OpenAICompatProvider) ModelName() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.model
}

func (p *OpenAICompatProvider) SetModel(model string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.model = model
}

func (p *OpenAICompatProvider) Close() error {
	return nil
}

// Query opens a streaming chat-completions request. All failures surface as
// a terminal error chunk; the gateway itself never retries.
func (p *OpenAICompatProvider) Query(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
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

func (p *OpenAICompatProvider) buildRequest(messages []Message) openAIRequest {
	req := openAIRequest{
		Model:       p.ModelName(),
		MaxTokens:   p.opts.MaxTokens,
		Temperature: p.opts.Temperature,
		Stream:      true,
	}

	for _, m := range messages {
		om := openAIMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openAIToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: openAIFunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
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

func (p *OpenAICompatProvider) streamRequest(ctx context.Context, request openAIRequest, outputCh chan<- StreamChunk) error {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(requestBody))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(requestBody)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("rate limit exceeded")
		}
		if apiErr := parseErrorBody(body); apiErr != nil {
			return fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	reader := bufio.NewReader(resp.Body)
	splitter := &thinkSplitter{}
	pending := make(map[int]*openAIToolCall)

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("failed to read stream: %w", err)
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 || !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		line = line[6:]
		if bytes.Equal(line, []byte("[DONE]")) {
			break
		}

		var streamResp openAIStreamResponse
		if err := json.Unmarshal(line, &streamResp); err != nil {
			// Malformed stream lines are skipped, not fatal.
			continue
		}
		if streamResp.Error != nil {
			return fmt.Errorf("API error: %s", streamResp.Error.Message)
		}
		if len(streamResp.Choices) == 0 {
			continue
		}
		choice := streamResp.Choices[0]

		if choice.Delta.Reasoning != "" {
			outputCh <- StreamChunk{Type: ChunkThinking, Text: choice.Delta.Reasoning}
		}
		if choice.Delta.Content != "" {
			for _, chunk := range splitter.split(choice.Delta.Content) {
				outputCh <- chunk
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			accumulateToolCall(pending, tc)
		}
		if choice.FinishReason == "tool_calls" {
			emitToolCalls(pending, outputCh)
			pending = make(map[int]*openAIToolCall)
		}
	}

	for _, chunk := range splitter.flush() {
		outputCh <- chunk
	}
	emitToolCalls(pending, outputCh)
	return nil
}

// accumulateToolCall merges an incremental tool-call delta into the pending
// set. Providers stream the id and name first, then argument fragments.
func accumulateToolCall(pending map[int]*openAIToolCall, tc openAIToolCall) {
	idx := 0
	if tc.Index != nil {
		idx = *tc.Index
	}
	existing, ok := pending[idx]
	if !ok {
		clone := tc
		pending[idx] = &clone
		return
	}
	if tc.ID != "" {
		existing.ID = tc.ID
	}
	if tc.Function.Name != "" {
		existing.Function.Name = tc.Function.Name
	}
	existing.Function.Arguments += tc.Function.Arguments
}

func emitToolCalls(pending map[int]*openAIToolCall, outputCh chan<- StreamChunk) {
	indexes := make([]int, 0, len(pending))
	for idx := range pending {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	for _, idx := range indexes {
		tc := pending[idx]
		if tc.Function.Name == "" {
			continue
		}
		id := tc.ID
		if id == "" {
			id = uuid.New().String()
		}
		args := tc.Function.Arguments
		if args == "" {
			args = "{}"
		}
		outputCh <- StreamChunk{
			Type: ChunkToolCall,
			ToolCall: &ToolCall{
				ID:        id,
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(args),
			},
		}
	}
}

func parseErrorBody(body []byte) *openAIError {
	var wrapper struct {
		Error *openAIError `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil
	}
	return wrapper.Error
}
