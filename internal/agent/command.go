package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"filegate/gateway/internal/logging"
)

const maxStderrTail = 4096

// CommandCapability runs an agent CLI as a subprocess in the write root.
// The prompt goes to stdin and stdout is streamed back line by line.
type CommandCapability struct {
	Command string
	Args    []string
	Env     []string
	Logger  *slog.Logger
}

func NewCommandCapability(command string, args []string, logger *slog.Logger) *CommandCapability {
	if logger == nil {
		logger = logging.Nop()
	}
	if len(args) == 0 {
		args = []string{"-p"}
	}
	return &CommandCapability{Command: command, Args: args, Logger: logger}
}

// BuildArgs renders the flags for one request after the configured base
// arguments.
func (c *CommandCapability) BuildArgs(req Request) []string {
	args := append([]string(nil), c.Args...)
	if req.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", req.SystemPrompt)
	}
	for _, dir := range req.AddDirs {
		args = append(args, "--add-dir", dir)
	}
	if req.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(req.MaxTurns))
	}
	if len(req.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(req.AllowedTools, ","))
	}
	if req.PermissionMode != "" {
		args = append(args, "--permission-mode", req.PermissionMode)
	}
	return args
}

func (c *CommandCapability) Query(ctx context.Context, req Request, onChunk func(string)) (Usage, error) {
	if strings.TrimSpace(c.Command) == "" {
		return Usage{}, errors.New("agent command not configured")
	}
	logger := c.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	cmd := exec.CommandContext(ctx, c.Command, c.BuildArgs(req)...)
	cmd.Dir = req.WorkDir
	cmd.Env = append(append([]string{}, os.Environ()...), c.Env...)
	cmd.Stdin = strings.NewReader(req.Prompt)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Usage{}, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Usage{}, err
	}
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Usage{}, fmt.Errorf("start agent: %w", err)
	}
	logger.Debug("agent.command_started", "cmd", c.Command, "dir", req.WorkDir)

	var (
		wg   sync.WaitGroup
		tail stderrTail
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			tail.add(line)
			logger.Warn("agent.stderr", "message", logging.Clip(line))
		}
	}()

	reader := bufio.NewReader(stdout)
	var readErr error
	for {
		line, err := reader.ReadString('\n')
		if line != "" && onChunk != nil {
			onChunk(line)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
			}
			break
		}
	}
	wg.Wait()
	waitErr := cmd.Wait()
	usage := Usage{DurationMS: time.Since(start).Milliseconds()}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return usage, ctxErr
	}
	if waitErr != nil {
		if msg := tail.String(); msg != "" {
			return usage, fmt.Errorf("agent command: %w: %s", waitErr, msg)
		}
		return usage, fmt.Errorf("agent command: %w", waitErr)
	}
	if readErr != nil {
		return usage, readErr
	}
	return usage, nil
}

// stderrTail keeps the last few KiB of stderr for error messages.
type stderrTail struct {
	mu  sync.Mutex
	buf []byte
}

func (t *stderrTail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, line...)
	t.buf = append(t.buf, '\n')
	if over := len(t.buf) - maxStderrTail; over > 0 {
		t.buf = t.buf[over:]
	}
}

func (t *stderrTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
