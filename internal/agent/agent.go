// Package agent drives an external coding agent against a project. The
// agent itself is opaque: it receives the sandbox directories it may touch
// and streams text back. Files it wrote are discovered afterwards by
// scanning the write root.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"filegate/gateway/internal/logging"
	"filegate/gateway/internal/project"
	"filegate/gateway/internal/staging"
)

const (
	defaultMaxTurns       = 8
	defaultPermissionMode = "acceptEdits"
)

var defaultAllowedTools = []string{"Read", "Write", "Bash"}

var ErrEmptyPrompt = errors.New("prompt is empty")

// Request is what a capability needs to run one query. WorkDir is the
// effective write root; AddDirs are the read-only roots.
type Request struct {
	SystemPrompt   string
	Prompt         string
	WorkDir        string
	AddDirs        []string
	AllowedTools   []string
	MaxTurns       int
	PermissionMode string
}

type Usage struct {
	DurationMS int64   `json:"duration_ms,omitempty"`
	Turns      int     `json:"turns,omitempty"`
	CostUSD    float64 `json:"total_cost_usd,omitempty"`
}

// Capability runs a prompt and streams text chunks through onChunk. Calls
// to onChunk must not overlap.
type Capability interface {
	Query(ctx context.Context, req Request, onChunk func(string)) (Usage, error)
}

// Func adapts a function to Capability.
type Func func(ctx context.Context, req Request, onChunk func(string)) (Usage, error)

func (f Func) Query(ctx context.Context, req Request, onChunk func(string)) (Usage, error) {
	return f(ctx, req, onChunk)
}

const (
	EventStatus      = "status"
	EventChunk       = "chunk"
	EventFileWritten = "file_written"
)

const (
	StageOpen       = "open"
	StageQueryStart = "query_start"
	StageGenerating = "generating"
)

// Event is emitted while a run progresses. Path is project-relative and
// prefixed with "@" so it can be fed back as a mention.
type Event struct {
	Kind  string `json:"kind"`
	RunID string `json:"run_id"`
	Stage string `json:"stage,omitempty"`
	Text  string `json:"text,omitempty"`
	Path  string `json:"path,omitempty"`
}

type Meta struct {
	Usage
	RunID           string   `json:"run_id"`
	WriteDir        string   `json:"write_dir"`
	FinalWriteDir   string   `json:"final_write_dir"`
	RequireApproval bool     `json:"require_approval"`
	Written         []string `json:"written"`
}

type Result struct {
	Text string `json:"text"`
	Meta Meta   `json:"meta"`
}

type Options struct {
	MaxTurns       int
	PermissionMode string
	AllowedTools   []string
	Logger         *slog.Logger
}

type Runner struct {
	capability Capability
	staging    *staging.Store
	opts       Options
	logger     *slog.Logger
	now        func() time.Time
	newRunID   func() string
}

func NewRunner(capability Capability, store *staging.Store, opts Options) *Runner {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = defaultMaxTurns
	}
	if strings.TrimSpace(opts.PermissionMode) == "" {
		opts.PermissionMode = defaultPermissionMode
	}
	if len(opts.AllowedTools) == 0 {
		opts.AllowedTools = append([]string(nil), defaultAllowedTools...)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Runner{
		capability: capability,
		staging:    store,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
		newRunID:   uuid.NewString,
	}
}

// Ask runs prompt against the project and reports the files written under
// the effective write root since the run started. onEvent may be nil.
func (r *Runner) Ask(ctx context.Context, m *project.Manifest, prompt string, onEvent func(Event)) (*Result, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	runID := r.newRunID()
	emit := func(ev Event) {
		if onEvent == nil {
			return
		}
		ev.RunID = runID
		onEvent(ev)
	}
	start := r.now()
	emit(Event{Kind: EventStatus, Stage: StageOpen})
	r.logger.Info("agent.run_start", "project_id", m.ID, "run_id", runID, "prompt", logging.Clip(prompt))

	req := Request{
		SystemPrompt:   SystemPrompt(m),
		Prompt:         UserPrompt(m, prompt),
		WorkDir:        m.WriteDirAbs,
		AddDirs:        append([]string(nil), m.ReadDirsAbs...),
		AllowedTools:   append([]string(nil), r.opts.AllowedTools...),
		MaxTurns:       r.opts.MaxTurns,
		PermissionMode: r.opts.PermissionMode,
	}
	emit(Event{Kind: EventStatus, Stage: StageQueryStart})
	var (
		text       strings.Builder
		generating bool
	)
	usage, err := r.capability.Query(ctx, req, func(chunk string) {
		if chunk == "" {
			return
		}
		if !generating {
			generating = true
			emit(Event{Kind: EventStatus, Stage: StageGenerating})
		}
		text.WriteString(chunk)
		emit(Event{Kind: EventChunk, Text: chunk})
	})
	if err != nil {
		r.logger.Error("agent.run_failed", "project_id", m.ID, "run_id", runID, "error", err.Error())
		return nil, err
	}

	written, err := r.staging.WrittenSince(m, start)
	if err != nil {
		r.logger.Warn("agent.scan_failed", "project_id", m.ID, "run_id", runID, "error", err.Error())
		written = []string{}
	}
	for _, rel := range written {
		emit(Event{Kind: EventFileWritten, Path: "@" + rel})
	}
	if usage.DurationMS == 0 {
		usage.DurationMS = r.now().Sub(start).Milliseconds()
	}
	r.logger.Info("agent.run_done", "project_id", m.ID, "run_id", runID, "written", len(written), "duration_ms", usage.DurationMS)
	return &Result{
		Text: text.String(),
		Meta: Meta{
			Usage:           usage,
			RunID:           runID,
			WriteDir:        m.WriteDir,
			FinalWriteDir:   m.FinalDir,
			RequireApproval: m.RequireApproval,
			Written:         written,
		},
	}, nil
}
