package invocation

import "fmt"

// DefaultBinary is the agent executable looked up on PATH.
const DefaultBinary = "codex"

// BuildArgs returns the argv (program first) that runs the agent for req.
//
// A new session runs non-interactively with a workspace-write sandbox in
// req.WorkDir(); a resumed session only needs the session id. Both request
// JSON-lines output and take the task (or "-") as the last argument.
func BuildArgs(binary, model string, req Request) []string {
	if binary == "" {
		binary = DefaultBinary
	}

	if req.Mode() == ModeResume {
		return []string{
			binary, "e",
			"-m", model,
			"--skip-git-repo-check",
			"--json",
			"resume",
			req.SessionID(),
			req.TaskArg(),
		}
	}

	return []string{
		binary, "e",
		"-m", model,
		"-a", "never",
		"--sandbox", "workspace-write",
		"--skip-git-repo-check",
		"-C", req.WorkDir(),
		"--json",
		req.TaskArg(),
	}
}

// RedactArgs returns a copy of argv with an inline task replaced by a
// length marker, for logs and the run log.
func RedactArgs(argv []string, req Request) []string {
	out := append([]string(nil), argv...)
	if req.Delivery() == Inline && len(out) > 0 {
		out[len(out)-1] = fmt.Sprintf("<task:%d bytes>", len(req.Task()))
	}
	return out
}
