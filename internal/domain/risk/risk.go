// Package risk classifies privileged desktop tool invocations by how much
// damage they can do to the user's machine.
package risk

import (
	"fmt"
	"strings"
)

// Level is the risk level of a single tool invocation.
type Level string

const (
	Low    Level = "low"
	Medium Level = "medium"
	High   Level = "high"
)

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	switch l {
	case Low, Medium, High:
		return true
	}
	return false
}

// Rank orders levels so callers can compare them (low < medium < high).
// Unknown levels rank as medium.
func (l Level) Rank() int {
	switch l {
	case Low:
		return 0
	case High:
		return 2
	default:
		return 1
	}
}

// Desktop tool names understood by the host bridge.
const (
	ToolListDirectory   = "list_directory"
	ToolReadFile        = "read_file"
	ToolGetFileInfo     = "get_file_info"
	ToolWriteFile       = "write_file"
	ToolDeleteFile      = "delete_file"
	ToolRunCommand      = "run_command"
	ToolScreenCapture   = "screen_capture"
	ToolTypeText        = "type_text"
	ToolPressHotkey     = "press_hotkey"
	ToolMouseClick      = "mouse_click"
	ToolMouseMove       = "mouse_move"
	ToolMouseScroll     = "mouse_scroll"
	ToolMouseDrag       = "mouse_drag"
	ToolOpenApplication = "open_application"
	ToolSendIMMessage   = "send_im_message"
)

var toolLevels = map[string]Level{
	ToolListDirectory:   Low,
	ToolReadFile:        Low,
	ToolGetFileInfo:     Low,
	ToolWriteFile:       Medium,
	ToolScreenCapture:   Medium,
	ToolRunCommand:      Medium,
	ToolDeleteFile:      High,
	ToolTypeText:        High,
	ToolPressHotkey:     High,
	ToolMouseClick:      High,
	ToolMouseMove:       High,
	ToolMouseScroll:     High,
	ToolMouseDrag:       High,
	ToolOpenApplication: High,
	ToolSendIMMessage:   High,
}

// destructivePatterns escalate run_command to high. Matched as plain
// substrings of the lowercased command line.
var destructivePatterns = []string{
	"del ",
	"rm ",
	"rmdir",
	"rd /s",
	"remove-item",
	"format",
	"mkfs",
	"shutdown",
	"reg delete",
}

// Classify returns the risk level of invoking tool with input.
// It is pure: the same arguments always give the same level.
// Unknown tools are medium.
func Classify(tool string, input map[string]any) Level {
	if tool == ToolRunCommand {
		if IsDestructiveCommand(stringArg(input, "command")) {
			return High
		}
		return Medium
	}
	if l, ok := toolLevels[tool]; ok {
		return l
	}
	return Medium
}

// IsDestructiveCommand reports whether a shell command line matches one of
// the destructive patterns (delete, recursive remove, format, shutdown,
// registry deletion).
func IsDestructiveCommand(command string) bool {
	lower := strings.ToLower(command)
	for _, p := range destructivePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// IsDesktopTool reports whether tool is executed on the host by the bridge.
func IsDesktopTool(tool string) bool {
	_, ok := toolLevels[tool]
	return ok
}

// Describe renders a one-line human readable summary of the request for
// the approval dialog.
func Describe(tool string, input map[string]any) string {
	switch tool {
	case ToolRunCommand:
		return "The assistant wants to run a command: " + orUnknown(stringArg(input, "command"))
	case ToolReadFile:
		return "The assistant wants to read a file: " + orUnknown(stringArg(input, "path"))
	case ToolWriteFile:
		return "The assistant wants to write a file: " + orUnknown(stringArg(input, "path"))
	case ToolDeleteFile:
		return "The assistant wants to delete a file: " + orUnknown(stringArg(input, "path"))
	case ToolListDirectory:
		return "The assistant wants to list a directory: " + orUnknown(stringArg(input, "path"))
	case ToolGetFileInfo:
		return "The assistant wants to inspect a file: " + orUnknown(stringArg(input, "path"))
	case ToolTypeText:
		return "The assistant wants to type text: " + orUnknown(stringArg(input, "text"))
	case ToolPressHotkey:
		return "The assistant wants to press keys: " + orUnknown(stringArg(input, "keys"))
	case ToolOpenApplication:
		return "The assistant wants to open an application: " + orUnknown(stringArg(input, "name"))
	case ToolSendIMMessage:
		return fmt.Sprintf("The assistant wants to send a message to %s", orUnknown(stringArg(input, "recipient")))
	case ToolMouseClick, ToolMouseMove, ToolMouseScroll, ToolMouseDrag:
		return "The assistant wants to control the mouse: " + tool
	case ToolScreenCapture:
		return "The assistant wants to capture the screen"
	default:
		return "The assistant wants to perform an action: " + tool
	}
}

func stringArg(input map[string]any, key string) string {
	if input == nil {
		return ""
	}
	switch v := input[key].(type) {
	case string:
		return v
	case nil:
		return ""
	case []any:
		parts := make([]string, 0, len(v))
		for _, p := range v {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, "+")
	default:
		return fmt.Sprint(v)
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "(unknown)"
	}
	return s
}
