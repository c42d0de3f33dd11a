package tools

import (
	"fmt"
	"time"

	"github.com/crabmiau/loaf/internal/loaferr"
	"github.com/crabmiau/loaf/internal/patch"
	"github.com/crabmiau/loaf/internal/process"
	"github.com/mark3labs/mcp-go/mcp"
)

// RegisterBash adds the stateful-shell "bash" tool (spec.md §4.1) to the
// registry.
func RegisterBash(r *Registry, shell *process.StatefulShell) error {
	return r.Register(Definition{
		Name:        "bash",
		Description: "Run a shell command; cwd and environment changes persist across calls in the same session.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"command":        map[string]any{"type": "string"},
				"timeout":        map[string]any{"type": "number"},
				"cwd":            map[string]any{"type": "string"},
				"env":            map[string]any{"type": "object"},
				"session_key":    map[string]any{"type": "string"},
				"reset_session":  map[string]any{"type": "boolean"},
			},
			Required: []string{"command"},
		},
		Run: func(ctx Context, input map[string]any) (any, error) {
			command, _ := input["command"].(string)
			if command == "" {
				return nil, loaferr.New(loaferr.InvalidInput, "command is required")
			}
			envDelta, err := stringMap(input["env"])
			if err != nil {
				return nil, err
			}
			req := process.BashRequest{
				SessionKey:   getString(input, "session_key"),
				Command:      command,
				TimeoutSecs:  getInt(input, "timeout"),
				CwdOverride:  getString(input, "cwd"),
				EnvDelta:     envDelta,
				ResetSession: getBool(input, "reset_session"),
			}
			res, err := shell.Run(ctx, req)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"exit_code":      res.ExitCode,
				"signal":         res.Signal,
				"duration_ms":    res.Duration.Milliseconds(),
				"stdout":         res.Stdout,
				"stderr":         res.Stderr,
				"stdout_trunc":   res.StdoutTrunc,
				"stderr_trunc":   res.StderrTrunc,
				"timed_out":      res.TimedOut,
				"cwd_before":     res.CwdBefore,
				"cwd_after":      res.CwdAfter,
				"captured_state": res.CapturedState,
			}, nil
		},
	})
}

// RegisterBackgroundShell adds the background-session management tools
// (spec.md §4.2) to the registry.
func RegisterBackgroundShell(r *Registry, mgr *process.Manager) error {
	if err := r.Register(Definition{
		Name:        "shell_start",
		Description: "Start (or reuse) a long-lived background shell session.",
		InputSchema: mcp.ToolInputSchema{Type: "object"},
		Run: func(ctx Context, input map[string]any) (any, error) {
			var fullTerm *bool
			if v, ok := input["full_terminal"].(bool); ok {
				fullTerm = &v
			}
			req := process.StartRequest{
				SessionName:  getString(input, "session_name"),
				Command:      getString(input, "command"),
				WorkingDir:   getString(input, "cwd"),
				FullTerminal: fullTerm,
				Cols:         getInt(input, "terminal_cols"),
				Rows:         getInt(input, "terminal_rows"),
				ReuseSession: getBool(input, "reuse_session"),
			}
			env, err := stringMap(input["env"])
			if err != nil {
				return nil, err
			}
			req.Env = env
			info, err := mgr.Start(ctx, req)
			if err != nil {
				return nil, err
			}
			return infoToOutput(info), nil
		},
	}); err != nil {
		return err
	}

	if err := r.Register(Definition{
		Name:        "shell_read",
		Description: "Incrementally read a background session's stdout/stderr.",
		InputSchema: mcp.ToolInputSchema{Type: "object", Required: []string{"session_id"}},
		Run: func(ctx Context, input map[string]any) (any, error) {
			id := getString(input, "session_id")
			if id == "" {
				return nil, loaferr.New(loaferr.InvalidInput, "session_id is required")
			}
			res, err := mgr.Read(id, getString(input, "stream"), process.ReadSelector{
				MaxChars: getInt(input, "max_chars"),
				Peek:     getBool(input, "peek"),
			})
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"data":     res.Data,
				"dropped":  res.Dropped,
				"has_more": res.HasMore,
			}, nil
		},
	}); err != nil {
		return err
	}

	if err := r.Register(Definition{
		Name:        "shell_write",
		Description: "Write raw input text or a named special key to a background session.",
		InputSchema: mcp.ToolInputSchema{Type: "object", Required: []string{"session_id"}},
		Run: func(ctx Context, input map[string]any) (any, error) {
			id := getString(input, "session_id")
			if id == "" {
				return nil, loaferr.New(loaferr.InvalidInput, "session_id is required")
			}
			err := mgr.Write(id, process.WriteRequest{
				Input:         getString(input, "input"),
				AppendNewline: getBool(input, "append_newline"),
				Key:           getString(input, "key"),
				Repeat:        getInt(input, "repeat"),
			})
			if err != nil {
				return nil, err
			}
			return map[string]any{"ok": true}, nil
		},
	}); err != nil {
		return err
	}

	if err := r.Register(Definition{
		Name:        "shell_resize",
		Description: "Resize a PTY background session's terminal.",
		InputSchema: mcp.ToolInputSchema{Type: "object", Required: []string{"session_id", "cols", "rows"}},
		Run: func(ctx Context, input map[string]any) (any, error) {
			id := getString(input, "session_id")
			if id == "" {
				return nil, loaferr.New(loaferr.InvalidInput, "session_id is required")
			}
			if err := mgr.Resize(id, getInt(input, "cols"), getInt(input, "rows")); err != nil {
				return nil, err
			}
			return map[string]any{"ok": true}, nil
		},
	}); err != nil {
		return err
	}

	if err := r.Register(Definition{
		Name:        "shell_stop",
		Description: "Stop a background session, optionally force-killing it.",
		InputSchema: mcp.ToolInputSchema{Type: "object", Required: []string{"session_id"}},
		Run: func(ctx Context, input map[string]any) (any, error) {
			id := getString(input, "session_id")
			if id == "" {
				return nil, loaferr.New(loaferr.InvalidInput, "session_id is required")
			}
			if err := mgr.Stop(ctx, id, getBool(input, "force")); err != nil {
				return nil, err
			}
			return map[string]any{"ok": true}, nil
		},
	}); err != nil {
		return err
	}

	return r.Register(Definition{
		Name:        "shell_list",
		Description: "List every tracked background session.",
		InputSchema: mcp.ToolInputSchema{Type: "object"},
		Run: func(ctx Context, input map[string]any) (any, error) {
			infos := mgr.List()
			out := make([]map[string]any, 0, len(infos))
			for _, info := range infos {
				out = append(out, infoToOutput(info))
			}
			return map[string]any{"sessions": out}, nil
		},
	})
}

// RegisterPatch adds the "apply_patch" tool (spec.md §4.5/§4.6) to the
// registry. root is the filesystem root relative patch paths resolve
// against.
func RegisterPatch(r *Registry, root string) error {
	return r.Register(Definition{
		Name:        "apply_patch",
		Description: "Apply a codex-style *** Begin Patch ... *** End Patch document to the filesystem.",
		InputSchema: mcp.ToolInputSchema{Type: "object", Required: []string{"patch"}},
		Run: func(ctx Context, input map[string]any) (any, error) {
			doc := getString(input, "patch")
			if doc == "" {
				return nil, loaferr.New(loaferr.InvalidInput, "patch is required")
			}
			p, err := patch.Parse(doc)
			if err != nil {
				return nil, err
			}
			summary, err := patch.Apply(p, root)
			if err != nil {
				return nil, err
			}
			return map[string]any{"summary": summary.String(), "changes": summary.Lines}, nil
		},
	})
}

func infoToOutput(info process.Info) map[string]any {
	out := map[string]any{
		"id":            info.ID,
		"name":          info.Name,
		"created_at":    info.CreatedAt.Format(time.RFC3339),
		"last_activity": info.LastActivity.Format(time.RFC3339),
		"cwd":           info.WorkingDir,
		"shell_tag":     info.ShellTag,
		"pid":           info.Pid,
		"status":        string(info.Status),
		"signal":        info.Signal,
		"transport":     string(info.Transport),
		"full_terminal": info.FullTerminal,
		"cols":          info.Cols,
		"rows":          info.Rows,
	}
	if info.ExitCode != nil {
		out["exit_code"] = *info.ExitCode
	}
	return out
}

func getString(input map[string]any, key string) string {
	v, _ := input[key].(string)
	return v
}

func getBool(input map[string]any, key string) bool {
	v, _ := input[key].(bool)
	return v
}

func getInt(input map[string]any, key string) int {
	switch v := input[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func stringMap(v any) (map[string]string, error) {
	if v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, loaferr.New(loaferr.InvalidInput, fmt.Sprintf("expected an object, got %T", v))
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		s, ok := val.(string)
		if !ok {
			return nil, loaferr.New(loaferr.InvalidInput, fmt.Sprintf("env value for %q must be a string", k))
		}
		out[k] = s
	}
	return out, nil
}
