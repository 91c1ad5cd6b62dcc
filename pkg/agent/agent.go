// Package agent runs the foreground reasoning loop: stream the model,
// dispatch tool calls, and fan typed chunks out to the transport.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/walnutseal1/yk-project/pkg/chatcontext"
	"github.com/walnutseal1/yk-project/pkg/llms"
	"github.com/walnutseal1/yk-project/pkg/memory"
	"github.com/walnutseal1/yk-project/pkg/tools"
)

// MaxLoops bounds the number of model round-trips per user turn.
const MaxLoops = 25

const stuckSuffix = "\n\n*AI seems to be thinking too hard and got stuck.*"

// Chunk is one typed increment sent to the transport. Content and thinking
// chunks carry the accumulated text so far, so a client can render the
// latest chunk alone.
type Chunk struct {
	Type       string      `json:"type"`
	Content    interface{} `json:"content"`
	IsComplete bool        `json:"is_complete"`
	Timestamp  string      `json:"timestamp"`
}

// HistoryEntry is one user turn and the assistant's final reply.
type HistoryEntry struct {
	Timestamp string `json:"timestamp"`
	User      string `json:"user"`
	AI        string `json:"ai"`
}

// Scheduler is the slice of the sleep-time scheduler the chat loop talks
// to.
type Scheduler interface {
	NotifyForegroundStart()
	NotifyForegroundEnd()
	Enqueue(payload string)
}

// Agent owns the conversation context and serializes foreground turns.
type Agent struct {
	mu sync.Mutex

	provider     llms.Provider
	handler      *tools.Handler
	store        *memory.Store
	systemPrompt string
	maxTokens    int
	contextFile  string

	scheduler    Scheduler
	sleepTrigger int
	tokens       *chatcontext.TokenCounter

	context        []llms.Message
	history        []HistoryEntry
	messageCounter int

	// contextTokens is refreshed at turn boundaries and read without the
	// turn mutex, so liveness probes never wait on an in-flight stream.
	tokensMu      sync.Mutex
	contextTokens int
}

type Options struct {
	Provider     llms.Provider
	Handler      *tools.Handler
	Store        *memory.Store
	SystemPrompt string
	MaxTokens    int
	// ContextFile persists the transcript across restarts; empty disables
	// persistence.
	ContextFile string
	Scheduler   Scheduler
	// SleepTrigger hands the last N user turns to the scheduler every N
	// user messages; 0 disables the hand-off.
	SleepTrigger int
}

func New(opts Options) *Agent {
	a := &Agent{
		provider:     opts.Provider,
		handler:      opts.Handler,
		store:        opts.Store,
		systemPrompt: opts.SystemPrompt,
		maxTokens:    opts.MaxTokens,
		contextFile:  opts.ContextFile,
		scheduler:    opts.Scheduler,
		sleepTrigger: opts.SleepTrigger,
		tokens:       chatcontext.NewTokenCounter(),
	}
	if a.contextFile != "" {
		a.context = chatcontext.Load(a.contextFile)
	}
	a.updateContextTokens()
	return a
}

func nowISO() string {
	return time.Now().Format(time.RFC3339)
}

// ChatStream runs one foreground turn and streams chunks until the final
// is_complete chunk. The returned channel closes when the turn ends;
// cancelling ctx aborts the turn, keeping whatever context was appended.
func (a *Agent) ChatStream(ctx context.Context, userMessage string) <-chan Chunk {
	out := make(chan Chunk, 100)
	go func() {
		defer close(out)
		a.mu.Lock()
		defer a.mu.Unlock()
		a.runTurn(ctx, userMessage, out)
	}()
	return out
}

// Chat runs the loop to completion and returns the final assistant content.
func (a *Agent) Chat(ctx context.Context, userMessage string) (string, error) {
	var final string
	var failed error
	for chunk := range a.ChatStream(ctx, userMessage) {
		switch chunk.Type {
		case "content":
			if s, ok := chunk.Content.(string); ok {
				final = s
			}
		case "error":
			if s, ok := chunk.Content.(string); ok {
				failed = fmt.Errorf("%s", s)
			}
		}
	}
	if failed != nil {
		return "", failed
	}
	return final, nil
}

func (a *Agent) emit(ctx context.Context, out chan<- Chunk, chunk Chunk) bool {
	chunk.Timestamp = nowISO()
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func (a *Agent) runTurn(ctx context.Context, userMessage string, out chan<- Chunk) {
	a.history = append(a.history, HistoryEntry{Timestamp: nowISO(), User: userMessage})
	entry := &a.history[len(a.history)-1]
	a.messageCounter++

	a.context = append(a.context, llms.Message{Role: llms.RoleUser, Content: userMessage})

	if a.scheduler != nil {
		a.scheduler.NotifyForegroundStart()
	}

	completeResponse := ""
	thinkingContent := ""
	lastChunkType := ""
	loopCount := 0
	active := true

	for active && loopCount < MaxLoops {
		loopCount++
		assistantContent := ""
		var toolCalls []llms.ToolCall

		systemMessages := a.systemMessages()
		kept, trimmed := chatcontext.Trim(a.context, a.maxTokens, systemMessages)
		if len(trimmed) > 0 {
			a.spillToRecall(trimmed)
		}
		a.context = kept

		stream, err := a.provider.Query(ctx, append(append([]llms.Message{}, systemMessages...), a.context...))
		if err != nil {
			completeResponse += fmt.Sprintf("\n\nERROR: %v", err)
			active = false
			break
		}

		for chunk := range stream {
			switch chunk.Type {
			case llms.ChunkContent:
				// Leading whitespace-only deltas are noise between
				// segments; drop them until real content starts.
				if lastChunkType != llms.ChunkContent && strings.TrimSpace(chunk.Text) == "" {
					continue
				}
				assistantContent += chunk.Text
				completeResponse += chunk.Text
				if !a.emit(ctx, out, Chunk{Type: "content", Content: completeResponse}) {
					return
				}
			case llms.ChunkThinking:
				thinkingContent += chunk.Text
				if !a.emit(ctx, out, Chunk{Type: "thinking", Content: thinkingContent}) {
					return
				}
			case llms.ChunkToolCall:
				toolCalls = append(toolCalls, *chunk.ToolCall)
				if !a.emit(ctx, out, Chunk{Type: "tool_call", Content: chunk.ToolCall}) {
					return
				}
			case llms.ChunkError:
				completeResponse += fmt.Sprintf("\n\nERROR: %v", chunk.Err)
				active = false
			}
			if !active {
				break
			}
			lastChunkType = chunk.Type
		}

		assistantMessage := llms.Message{Role: llms.RoleAssistant, Content: assistantContent}
		if len(toolCalls) > 0 {
			assistantMessage.ToolCalls = toolCalls
		}
		a.context = append(a.context, assistantMessage)

		if !active {
			break
		}

		if len(toolCalls) > 0 {
			results := a.handler.ProcessToolCalls(ctx, toolCalls)
			for i, result := range results {
				message := llms.Message{Role: llms.RoleTool, Content: fmt.Sprintf("%v", result)}
				if i < len(toolCalls) {
					message.ToolCallID = toolCalls[i].ID
				}
				a.context = append(a.context, message)
				if !a.emit(ctx, out, Chunk{Type: "tool_result", Content: result}) {
					return
				}
			}
			active = len(results) > 0
		} else {
			active = false
		}
	}

	if loopCount >= MaxLoops {
		completeResponse += stuckSuffix
	}

	entry.AI = completeResponse
	a.saveContext()
	a.updateContextTokens()

	if a.scheduler != nil {
		a.scheduler.NotifyForegroundEnd()
		a.maybeTriggerSleep()
	}

	a.emit(ctx, out, Chunk{Type: "content", Content: completeResponse, IsComplete: true})
}

func (a *Agent) systemMessages() []llms.Message {
	content := a.systemPrompt
	if a.store != nil {
		snapshot, err := a.store.Snapshot()
		if err != nil {
			slog.Warn("failed to render memory snapshot", "error", err)
		} else {
			content += snapshot
		}
	}
	return []llms.Message{{Role: llms.RoleSystem, Content: content}}
}

func (a *Agent) spillToRecall(trimmed []llms.Message) {
	if a.store == nil {
		return
	}
	messages := make([]memory.RecallMessage, 0, len(trimmed))
	for _, m := range trimmed {
		messages = append(messages, memory.RecallMessage{Role: m.Role, Content: m.Content})
	}
	if err := a.store.Recall.Append(messages); err != nil {
		slog.Warn("failed to spill trimmed turns to recall", "error", err)
		return
	}
	slog.Debug("trimmed messages into recall", "count", len(trimmed))
}

// maybeTriggerSleep hands the last sleepTrigger user turns, and everything
// between them, to the scheduler as a textual digest.
func (a *Agent) maybeTriggerSleep() {
	if a.sleepTrigger <= 0 || a.messageCounter < a.sleepTrigger {
		return
	}

	var userIndices []int
	for i, m := range a.context {
		if m.Role == llms.RoleUser {
			userIndices = append(userIndices, i)
		}
	}
	if len(userIndices) < a.sleepTrigger {
		return
	}

	start := userIndices[len(userIndices)-a.sleepTrigger]
	a.scheduler.Enqueue(Digest(a.context[start:]))
	a.messageCounter = 0
}

// Digest renders turns as "role: content" lines, content capped at 100
// runes per turn.
func Digest(messages []llms.Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		content := m.Content
		if runes := []rune(content); len(runes) > 100 {
			content = string(runes[:100])
		}
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, content))
	}
	return strings.Join(lines, "\n")
}

func (a *Agent) saveContext() {
	if a.contextFile == "" {
		return
	}
	if err := chatcontext.Save(a.context, a.contextFile); err != nil {
		slog.Warn("failed to persist context", "error", err)
	}
}

// History returns a copy of the conversation history.
func (a *Agent) History() []HistoryEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]HistoryEntry, len(a.history))
	copy(out, a.history)
	return out
}

// ContextSize reports the current transcript length in turns.
func (a *Agent) ContextSize() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.context)
}

func (a *Agent) updateContextTokens() {
	count := a.tokens.CountMessages(a.context)
	a.tokensMu.Lock()
	a.contextTokens = count
	a.tokensMu.Unlock()
}

// ContextTokens reports the transcript cost as of the last completed turn,
// exact when the tiktoken encoding loaded and estimated otherwise.
func (a *Agent) ContextTokens() int {
	a.tokensMu.Lock()
	defer a.tokensMu.Unlock()
	return a.contextTokens
}

// ContextSnapshot copies the current transcript for the scheduler trigger.
func (a *Agent) ContextSnapshot() []llms.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]llms.Message, len(a.context))
	copy(out, a.context)
	return out
}

// Clear wipes the conversation and the persisted context file.
func (a *Agent) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.context = nil
	a.history = nil
	a.messageCounter = 0
	a.saveContext()
	a.updateContextTokens()
}

// SetModel swaps the primary model identifier's model part.
func (a *Agent) SetModel(model string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.provider.SetModel(model)
}
