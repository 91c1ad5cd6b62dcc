// Package sleeper runs the sleep-time scheduler: a background agent that
// reorganizes memory while the foreground is quiet.
package sleeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/walnutseal1/yk-project/pkg/chatcontext"
	"github.com/walnutseal1/yk-project/pkg/llms"
	"github.com/walnutseal1/yk-project/pkg/memory"
	"github.com/walnutseal1/yk-project/pkg/tools"
)

// State is the scheduler's lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateProcessing State = "processing"
	StatePaused     State = "paused"
	StateShutdown   State = "shutdown"
)

const (
	// maxProcessLoops bounds the reasoning loop within one task.
	maxProcessLoops = 10

	// backoffFactor stretches the idle sleep while the queue stays empty.
	backoffFactor = 1.5

	nudgeMessage = "[Automated system message] Please try again, no tools were called. If done making edits, call finish_edits function."
)

// pausedTick is how long the scheduler dozes while paused. Variable so
// tests can shorten it.
var pausedTick = 2 * time.Second

// Task is one unit of memory work handed over by the chat loop.
type Task struct {
	Payload   string
	CreatedAt time.Time
}

type systemEvent struct {
	eventType string
	timestamp time.Time
}

// Status is a point-in-time snapshot of the scheduler.
type Status struct {
	State                  State  `json:"state"`
	QueueSize              int    `json:"queue_size"`
	ProcessingTasks        int    `json:"processing_tasks"`
	ForegroundActive       bool   `json:"foreground_active"`
	LastForegroundActivity string `json:"last_foreground_activity"`
}

// Options configures a Scheduler.
type Options struct {
	Provider      llms.Provider
	Store         *memory.Store
	SystemPrompt  string
	ContextTokens int

	MinSleepInterval time.Duration
	MaxSleepInterval time.Duration
	// PauseDelayAfterForeground keeps the scheduler paused for this long
	// after the last foreground activity.
	PauseDelayAfterForeground time.Duration

	// MaxConcurrentTasks widens the processing pool; values below 1 are
	// treated as 1 (the serial scheduler).
	MaxConcurrentTasks int
}

// Scheduler owns the task and event queues and the background loops. Tool
// set is fixed to the memory mutators plus the finish_edits sentinel.
type Scheduler struct {
	provider      llms.Provider
	store         *memory.Store
	handler       *tools.Handler
	systemPrompt  string
	contextTokens int

	minSleep   time.Duration
	maxSleep   time.Duration
	pauseDelay time.Duration

	taskQueue  chan Task
	eventQueue chan systemEvent

	sem      *semaphore.Weighted
	maxTasks int64

	mu               sync.Mutex
	state            State
	foregroundActive bool
	lastForeground   time.Time
	processing       int
	currentSleep     time.Duration

	shutdownCh chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

func New(opts Options) *Scheduler {
	maxTasks := opts.MaxConcurrentTasks
	if maxTasks < 1 {
		maxTasks = 1
	}

	s := &Scheduler{
		provider:      opts.Provider,
		store:         opts.Store,
		systemPrompt:  opts.SystemPrompt,
		contextTokens: opts.ContextTokens,
		minSleep:      opts.MinSleepInterval,
		maxSleep:      opts.MaxSleepInterval,
		pauseDelay:    opts.PauseDelayAfterForeground,
		taskQueue:     make(chan Task, 100),
		eventQueue:    make(chan systemEvent, 100),
		sem:           semaphore.NewWeighted(int64(maxTasks)),
		maxTasks:      int64(maxTasks),
		state:         StateIdle,
		currentSleep:  opts.MinSleepInterval,
		shutdownCh:    make(chan struct{}),
	}

	handler := tools.NewHandler()
	handler.RegisterTool(tools.NewVectorSearchTool(s.store))
	handler.RegisterTool(tools.NewVectorMemoryEditTool(s.store))
	handler.RegisterTool(tools.NewCoreMemoryEditTool(s.store))
	handler.RegisterTool(tools.FinishEditsTool{})
	s.handler = handler

	return s
}

// Start launches the main and event loops.
func (s *Scheduler) Start() {
	s.wg.Add(2)
	go s.mainLoop()
	go s.eventLoop()
	slog.Info("sleep-time scheduler started")
}

// Stop shuts the scheduler down, draining queues without executing, and
// joins with a bounded deadline so process exit is never held hostage.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.setState(StateShutdown)
		close(s.shutdownCh)

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			slog.Warn("sleep-time scheduler stop timed out, abandoning background work")
		}
		slog.Info("sleep-time scheduler stopped")
	})
}

// NotifyForegroundStart marks the foreground busy.
func (s *Scheduler) NotifyForegroundStart() {
	s.mu.Lock()
	s.foregroundActive = true
	s.mu.Unlock()
	s.pushEvent("foreground_start")
}

// NotifyForegroundEnd marks the foreground idle.
func (s *Scheduler) NotifyForegroundEnd() {
	s.mu.Lock()
	s.foregroundActive = false
	s.mu.Unlock()
	s.pushEvent("foreground_end")
}

func (s *Scheduler) pushEvent(eventType string) {
	select {
	case s.eventQueue <- systemEvent{eventType: eventType, timestamp: time.Now()}:
	default:
		slog.Warn("event queue full, dropping event", "event", eventType)
	}
}

// Enqueue adds a memory task. A full queue drops the task with a warning;
// memory reorganization is best-effort.
func (s *Scheduler) Enqueue(payload string) {
	select {
	case s.taskQueue <- Task{Payload: payload, CreatedAt: time.Now()}:
		slog.Debug("queued memory task")
	default:
		slog.Warn("task queue full, dropping memory task")
	}
}

// Status reports the current scheduler snapshot.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	last := ""
	if !s.lastForeground.IsZero() {
		last = s.lastForeground.Format(time.RFC3339)
	}
	return Status{
		State:                  s.state,
		QueueSize:              len(s.taskQueue),
		ProcessingTasks:        s.processing,
		ForegroundActive:       s.foregroundActive,
		LastForegroundActivity: last,
	}
}

func (s *Scheduler) setState(state State) {
	s.mu.Lock()
	if s.state != StateShutdown {
		s.state = state
	}
	s.mu.Unlock()
}

// shouldPause reports whether background work must yield to the
// foreground.
func (s *Scheduler) shouldPause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.foregroundActive {
		return true
	}
	if !s.lastForeground.IsZero() && time.Since(s.lastForeground) < s.pauseDelay {
		return true
	}
	return false
}

// nextSleep returns the idle sleep, backing off while the queue is empty
// and snapping back once work arrives. The first idle interval is the
// configured minimum; the stretch applies from the second one on.
func (s *Scheduler) nextSleep() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.taskQueue) > 0 {
		s.currentSleep = s.minSleep
		return s.currentSleep
	}
	sleep := s.currentSleep
	next := time.Duration(float64(sleep) * backoffFactor)
	if next > s.maxSleep {
		next = s.maxSleep
	}
	s.currentSleep = next
	return sleep
}

func (s *Scheduler) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-s.shutdownCh:
		return false
	}
}

func (s *Scheduler) mainLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.shutdownCh:
			return
		default:
		}

		if s.shouldPause() {
			s.setState(StatePaused)
			if !s.sleep(pausedTick) {
				return
			}
			continue
		}

		select {
		case task := <-s.taskQueue:
			s.setState(StateProcessing)
			if err := s.sem.Acquire(context.Background(), 1); err != nil {
				return
			}
			s.mu.Lock()
			s.processing++
			s.mu.Unlock()

			s.wg.Add(1)
			go func(task Task) {
				defer s.wg.Done()
				defer s.sem.Release(1)
				defer func() {
					s.mu.Lock()
					s.processing--
					s.mu.Unlock()
				}()
				if err := s.process(task); err != nil {
					slog.Error("memory task failed", "error", err)
				}
			}(task)
		default:
		}

		s.setState(StateIdle)
		if !s.sleep(s.nextSleep()) {
			return
		}
	}
}

func (s *Scheduler) eventLoop() {
	defer s.wg.Done()
	for {
		select {
		case event := <-s.eventQueue:
			s.mu.Lock()
			s.lastForeground = event.timestamp
			s.mu.Unlock()
		case <-s.shutdownCh:
			return
		}
	}
}

// process runs the bounded reasoning loop for one task. The task gets a
// private context seeded with its payload; termination is an explicit
// finish_edits call, the iteration cap, or an error chunk.
func (s *Scheduler) process(task Task) error {
	slog.Debug("processing memory task", "created_at", task.CreatedAt)

	ctx := context.Background()
	taskContext := []llms.Message{{Role: llms.RoleUser, Content: task.Payload}}

	for loop := 0; loop < maxProcessLoops; loop++ {
		select {
		case <-s.shutdownCh:
			return nil
		default:
		}

		snapshot, err := s.store.Snapshot()
		if err != nil {
			return fmt.Errorf("failed to render memory snapshot: %w", err)
		}
		systemMessages := []llms.Message{{Role: llms.RoleSystem, Content: s.systemPrompt + "\n" + snapshot}}

		taskContext, _ = chatcontext.Trim(taskContext, s.contextTokens, systemMessages)

		stream, err := s.provider.Query(ctx, append(append([]llms.Message{}, systemMessages...), taskContext...))
		if err != nil {
			return fmt.Errorf("background query failed: %w", err)
		}

		assistantContent := ""
		var toolCalls []llms.ToolCall
		var streamErr error
		for chunk := range stream {
			switch chunk.Type {
			case llms.ChunkContent:
				assistantContent += chunk.Text
			case llms.ChunkThinking:
				slog.Debug("background agent thinking", "delta", chunk.Text)
			case llms.ChunkToolCall:
				toolCalls = append(toolCalls, *chunk.ToolCall)
			case llms.ChunkError:
				streamErr = chunk.Err
			}
		}
		if streamErr != nil {
			return fmt.Errorf("background stream error: %w", streamErr)
		}

		assistantMessage := llms.Message{Role: llms.RoleAssistant, Content: assistantContent}
		if len(toolCalls) > 0 {
			assistantMessage.ToolCalls = toolCalls
		}
		taskContext = append(taskContext, assistantMessage)

		if len(toolCalls) == 0 {
			taskContext = append(taskContext, llms.Message{Role: llms.RoleUser, Content: nudgeMessage})
			continue
		}

		results := s.handler.ProcessToolCalls(ctx, toolCalls)
		for i, result := range results {
			message := llms.Message{Role: llms.RoleTool, Content: fmt.Sprintf("%v", result)}
			if i < len(toolCalls) {
				message.ToolCallID = toolCalls[i].ID
			}
			taskContext = append(taskContext, message)
		}

		for _, tc := range toolCalls {
			if tc.Name == "finish_edits" {
				slog.Debug("memory task finished", "created_at", task.CreatedAt)
				return nil
			}
		}
	}

	slog.Debug("memory task hit iteration cap", "created_at", task.CreatedAt)
	return nil
}

// SetModel swaps the secondary model identifier's model part.
func (s *Scheduler) SetModel(model string) {
	s.provider.SetModel(model)
}
