package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// fsBase resolves tool paths against a configured working directory.
type fsBase struct {
	workingDir string
}

func (b fsBase) resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(b.workingDir, path)
}

// ReadFileTool reads a text file's contents.
type ReadFileTool struct{ fsBase }

func NewReadFileTool(workingDir string) *ReadFileTool {
	return &ReadFileTool{fsBase{workingDir: workingDir}}
}

func (t *ReadFileTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "read_file",
		Description: "Reads and returns the content of a specified file.",
		Parameters: []ToolParameter{
			{Name: "path", Type: "string", Description: "The path to the file to read. Can be relative or absolute.", Required: true},
		},
	}
}

func (t *ReadFileTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	path := t.resolve(stringArg(args, "path"))
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Sprintf("Error: Could not read file at %s: %v", path, err), nil
	}
	return string(data), nil
}

// WriteFileTool writes content to a file, creating parent directories.
type WriteFileTool struct{ fsBase }

func NewWriteFileTool(workingDir string) *WriteFileTool {
	return &WriteFileTool{fsBase{workingDir: workingDir}}
}

func (t *WriteFileTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "write_file",
		Description: "Writes content to a specified file, creating it if it does not exist and overwriting it if it does.",
		Parameters: []ToolParameter{
			{Name: "path", Type: "string", Description: "The path of the file to write to.", Required: true},
			{Name: "content", Type: "string", Description: "The content to write into the file.", Required: true},
		},
	}
}

func (t *WriteFileTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	path := t.resolve(stringArg(args, "path"))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Sprintf("Error: Could not create directories for %s: %v", path, err), nil
	}
	content := stringArg(args, "content")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Sprintf("Error: Could not write file at %s: %v", path, err), nil
	}
	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path), nil
}

// ListDirectoryTool lists a directory, directories first then files, both
// sorted.
type ListDirectoryTool struct{ fsBase }

func NewListDirectoryTool(workingDir string) *ListDirectoryTool {
	return &ListDirectoryTool{fsBase{workingDir: workingDir}}
}

func (t *ListDirectoryTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "list_directory",
		Description: "Lists the names of files and subdirectories directly within a specified directory path.",
		Parameters: []ToolParameter{
			{Name: "path", Type: "string", Description: "The path to the directory to list. Can be relative or absolute.", Required: true},
		},
	}
}

func (t *ListDirectoryTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	path := t.resolve(stringArg(args, "path"))
	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Sprintf("Error: Directory not found at %s", path), nil
	}

	var dirs, files []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, "[DIR] "+entry.Name())
		} else {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(dirs)
	sort.Strings(files)

	return fmt.Sprintf("Directory listing for %s:\n%s", path, strings.Join(append(dirs, files...), "\n")), nil
}

// SearchFileContentTool greps files under a directory for a substring.
type SearchFileContentTool struct{ fsBase }

func NewSearchFileContentTool(workingDir string) *SearchFileContentTool {
	return &SearchFileContentTool{fsBase{workingDir: workingDir}}
}

func (t *SearchFileContentTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "search_file_content",
		Description: "Searches file contents under a directory for lines containing the given text.",
		Parameters: []ToolParameter{
			{Name: "pattern", Type: "string", Description: "The text to search for.", Required: true},
			{Name: "path", Type: "string", Description: "The directory to search in. Defaults to the working directory."},
		},
	}
}

func (t *SearchFileContentTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	pattern := stringArg(args, "pattern")
	if pattern == "" {
		return nil, fmt.Errorf("pattern is required")
	}
	root := t.workingDir
	if p := stringArg(args, "path"); p != "" {
		root = t.resolve(p)
	}

	var matches []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		lineNum := 0
		for scanner.Scan() {
			lineNum++
			if strings.Contains(scanner.Text(), pattern) {
				matches = append(matches, fmt.Sprintf("%s:%d: %s", path, lineNum, scanner.Text()))
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Sprintf("Error: Could not search %s: %v", root, err), nil
	}
	if len(matches) == 0 {
		return fmt.Sprintf("No matches found for %q under %s", pattern, root), nil
	}
	return strings.Join(matches, "\n"), nil
}
