package tools

import (
	"context"

	"github.com/walnutseal1/yk-project/pkg/memory"
)

// MemorySearchTool runs the unified search across vector and recall memory.
type MemorySearchTool struct {
	store *memory.Store
}

func NewMemorySearchTool(store *memory.Store) *MemorySearchTool {
	return &MemorySearchTool{store: store}
}

func (t *MemorySearchTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "memory_search",
		Description: "Search the memory for information across vector and recall memory.",
		Parameters: []ToolParameter{
			{Name: "query", Type: "string", Description: "The text to search for in the conversation history. Do not use the users input for this.", Required: true},
			{Name: "n_neighbors", Type: "integer", Description: "The number of neighboring messages to retrieve (before and after). If odd, the extra message is taken from before the match. Defaults to 0."},
			{Name: "top_n", Type: "integer", Description: "Number of top results to return. Defaults to 2, a reasonable amount."},
			{Name: "exclude", Type: "string", Description: "Exclude certain types of memory from the search. Defaults to \"\", which includes all types."},
		},
	}
}

func (t *MemorySearchTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return t.store.MemorySearch(
		ctx,
		stringArg(args, "query"),
		intArgDefault(args, "n_neighbors", 0),
		intArgDefault(args, "top_n", 2),
		stringArg(args, "exclude"),
	), nil
}

// VectorSearchTool is the vector-only view used by the background agent.
type VectorSearchTool struct {
	store *memory.Store
}

func NewVectorSearchTool(store *memory.Store) *VectorSearchTool {
	return &VectorSearchTool{store: store}
}

func (t *VectorSearchTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "vector_search",
		Description: "Search the memory for information across vector memory.",
		Parameters: []ToolParameter{
			{Name: "query", Type: "string", Description: "The text to search for in the conversation history. Do not use the users input for this.", Required: true},
			{Name: "top_n", Type: "integer", Description: "Number of top results to return. Defaults to 2, a reasonable amount."},
		},
	}
}

func (t *VectorSearchTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return t.store.VectorGet(ctx, stringArg(args, "query"), intArgDefault(args, "top_n", 2)), nil
}

// VectorMemoryEditTool creates or updates a vector memory block.
type VectorMemoryEditTool struct {
	store *memory.Store
}

func NewVectorMemoryEditTool(store *memory.Store) *VectorMemoryEditTool {
	return &VectorMemoryEditTool{store: store}
}

func (t *VectorMemoryEditTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "vector_memory_edit",
		Description: "Create or update a vector memory block by replacing or appending text, identified by label.",
		Parameters: []ToolParameter{
			{Name: "label", Type: "string", Description: "Filename without `.json`, used to locate or create the block in vector memory. Creates a new one if it doesn't exist.", Required: true},
			{Name: "new_text", Type: "string", Description: "Text to insert or append.", Required: true},
			{Name: "old_text", Type: "string", Description: "Text to be replaced. If empty, new_text is appended instead."},
		},
	}
}

func (t *VectorMemoryEditTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	return t.store.Vector.Edit(
		stringArg(args, "label"),
		stringArg(args, "new_text"),
		stringArg(args, "old_text"),
	), nil
}

// CoreMemoryEditTool edits an existing core memory block.
type CoreMemoryEditTool struct {
	store *memory.Store
}

func NewCoreMemoryEditTool(store *memory.Store) *CoreMemoryEditTool {
	return &CoreMemoryEditTool{store: store}
}

func (t *CoreMemoryEditTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "core_memory_edit",
		Description: "Edit the contents of a core memory block by replacing or appending text, identified by label.",
		Parameters: []ToolParameter{
			{Name: "label", Type: "string", Description: "Section of the memory to be edited. This corresponds to the filename (without `.json`) in the core directory.", Required: true},
			{Name: "new_text", Type: "string", Description: "Text to insert or append.", Required: true},
			{Name: "old_text", Type: "string", Description: "Text to be replaced. If empty, new_text is appended instead."},
		},
	}
}

func (t *CoreMemoryEditTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	return t.store.Core.Edit(
		stringArg(args, "label"),
		stringArg(args, "new_text"),
		stringArg(args, "old_text"),
	), nil
}

// FinishEditsTool is the sentinel the background agent calls when it is done
// integrating new information into memory. It returns nil; the scheduler
// watches for the call by name.
type FinishEditsTool struct{}

func (FinishEditsTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "finish_edits",
		Description: "Call the finish_edits command when you are finished making edits (integrating all new information) into the memory blocks.",
	}
}

func (FinishEditsTool) Execute(context.Context, map[string]interface{}) (interface{}, error) {
	return nil, nil
}
