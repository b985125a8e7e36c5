// Package claude drives the Claude Code CLI as a streaming subprocess.
package claude

import (
	"bufio"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"codechat/internal/logging"
)

// PermissionMode controls how the CLI handles tool permission prompts.
type PermissionMode string

const (
	PermissionDefault PermissionMode = "default"
	PermissionAccept  PermissionMode = "acceptEdits"
	PermissionBypass  PermissionMode = "bypassPermissions"
	PermissionPlan    PermissionMode = "plan"
)

// DefaultCommand is the CLI binary invoked when none is configured.
const DefaultCommand = "claude"

// Options configures a single CLI run.
type Options struct {
	// Command is the CLI binary. Defaults to DefaultCommand.
	Command string

	// ProjectDir is the working directory for the run.
	ProjectDir string

	// Prompt is the user prompt passed via -p.
	Prompt string

	// SessionID resumes an existing session when non-empty.
	SessionID string

	// Mode selects the permission mode. Defaults to PermissionDefault.
	Mode PermissionMode

	// OnChunk receives each parsed chunk in arrival order, synchronously.
	// It must not block for long; the next line is not parsed until it returns.
	OnChunk func(*StreamChunk)
}

// Outcome is the normalized terminal state of a successful run.
type Outcome struct {
	// Result is the last result chunk seen, or nil if the process exited
	// zero without ever emitting one (degenerate success).
	Result *StreamChunk

	// Output is the accumulated assistant text across all chunks.
	Output string

	// FileChanges lists file-editing tool invocations, in order.
	FileChanges []FileChange
}

// ExitError reports a subprocess that failed without producing a result.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("claude exited with code %d: %s", e.Code, e.Stderr)
	}
	return fmt.Sprintf("claude exited with code %d", e.Code)
}

// Run is one in-flight CLI execution. Abort is safe to call at any time,
// including before the subprocess has spawned.
type Run struct {
	log *slog.Logger

	mu      sync.Mutex
	aborted bool
	proc    *exec.Cmd // nil until spawn succeeds

	done    chan struct{}
	outcome *Outcome
	err     error
}

// Execute spawns one CLI run and begins streaming its output.
// The returned Run's Wait blocks until the subprocess settles.
func Execute(opts Options) *Run {
	r := &Run{
		log:  logging.WithComponent("claude"),
		done: make(chan struct{}),
	}
	go r.run(opts)
	return r
}

// Abort terminates the run. It is idempotent: the first call kills the
// subprocess (or, if it has not spawned yet, prevents it from running to
// completion once it does); later calls are no-ops. After Abort, Wait
// returns (nil, nil) and no further chunks are delivered.
func (r *Run) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.aborted {
		return
	}
	r.aborted = true
	if r.proc != nil && r.proc.Process != nil {
		if err := r.proc.Process.Kill(); err != nil {
			r.log.Debug("Kill after abort failed", slog.Any("error", err))
		}
	}
}

// Wait blocks until the run settles. A nil Outcome with nil error means the
// run was aborted and the caller should render nothing.
func (r *Run) Wait() (*Outcome, error) {
	<-r.done
	return r.outcome, r.err
}

func (r *Run) isAborted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aborted
}

func (r *Run) run(opts Options) {
	defer close(r.done)

	command := opts.Command
	if command == "" {
		command = DefaultCommand
	}
	mode := opts.Mode
	if mode == "" {
		mode = PermissionDefault
	}

	args := []string{
		"-p", opts.Prompt,
		"--verbose",
		"--output-format", "stream-json",
	}
	if mode == PermissionBypass {
		args = append(args, "--dangerously-skip-permissions")
	} else {
		args = append(args, "--permission-mode", string(mode))
	}
	if opts.SessionID != "" {
		args = append(args, "--resume", opts.SessionID)
	}

	cmd := exec.Command(command, args...)
	cmd.Dir = opts.ProjectDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		r.err = fmt.Errorf("failed to create stdout pipe: %w", err)
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		r.err = fmt.Errorf("failed to create stderr pipe: %w", err)
		return
	}

	if err := cmd.Start(); err != nil {
		if r.isAborted() {
			return
		}
		r.err = fmt.Errorf("failed to start claude: %w", err)
		return
	}

	// Publish the process handle under the lock so an abort requested before
	// spawn kills the process the moment it exists.
	r.mu.Lock()
	r.proc = cmd
	abortedEarly := r.aborted
	r.mu.Unlock()
	if abortedEarly {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}

	r.log.Debug("Claude started",
		slog.Int("pid", cmd.Process.Pid),
		slog.String("project", opts.ProjectDir),
		slog.String("mode", string(mode)),
	)

	var (
		output      strings.Builder
		fileChanges []FileChange
		lastResult  *StreamChunk
		seen        = make(map[string]bool)
	)

	var stderrTail strings.Builder
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			if stderrTail.Len() < 4096 {
				stderrTail.WriteString(scanner.Text())
				stderrTail.WriteString("\n")
			}
		}
	}()

	// Scanner buffers partial lines across reads and hands us complete
	// lines only. Large tool payloads need a bigger buffer than default.
	scanner := bufio.NewScanner(stdout)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		if r.isAborted() {
			// Drain without delivering; the process is being killed.
			continue
		}

		chunk, ok := parseChunk(scanner.Bytes())
		if !ok {
			// Malformed lines never interrupt the run.
			continue
		}
		if chunk.UUID != "" {
			if seen[chunk.UUID] {
				continue
			}
			seen[chunk.UUID] = true
		}

		switch chunk.Type {
		case ChunkTypeAssistant:
			if chunk.Message != nil {
				for _, block := range chunk.Message.Content {
					switch block.Type {
					case "text":
						output.WriteString(block.Text)
					case "tool_use":
						if IsFileEditTool(block.Name) {
							fileChanges = append(fileChanges, FileChange{
								Path:     changePath(block.Input),
								Tool:     block.Name,
								RawInput: block.Input,
							})
						}
					}
				}
			}
		case ChunkTypeResult:
			lastResult = chunk
		}

		if opts.OnChunk != nil {
			opts.OnChunk(chunk)
		}
	}

	wg.Wait()
	waitErr := cmd.Wait()

	if r.isAborted() {
		r.log.Debug("Run aborted", slog.Int("pid", cmd.Process.Pid))
		return
	}

	if waitErr != nil && lastResult == nil {
		code := -1
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
		r.err = &ExitError{Code: code, Stderr: strings.TrimSpace(stderrTail.String())}
		return
	}

	r.outcome = &Outcome{
		Result:      lastResult,
		Output:      output.String(),
		FileChanges: fileChanges,
	}
}
