// Package gateway wires the project store, staging, approval, browsing and
// agent runner into the operations both transports expose. Every operation
// reloads the project manifest; no project state is cached here.
package gateway

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"filegate/gateway/internal/agent"
	"filegate/gateway/internal/approval"
	"filegate/gateway/internal/errinfo"
	"filegate/gateway/internal/fsindex"
	"filegate/gateway/internal/logging"
	"filegate/gateway/internal/project"
	"filegate/gateway/internal/settings"
	"filegate/gateway/internal/staging"
)

const (
	Version    = "0.1.0"
	APIVersion = "1"
)

type Notifier func(method string, params any)

type Gateway struct {
	cfg        *settings.Settings
	projects   *project.Store
	staging    *staging.Store
	approval   *approval.Workflow
	index      *fsindex.Index
	capability agent.Capability
	runner     *agent.Runner
	notify     Notifier
	logger     *slog.Logger
}

type Option func(*Gateway)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithCapability replaces the subprocess agent configured in settings.
func WithCapability(capability agent.Capability) Option {
	return func(g *Gateway) {
		if capability != nil {
			g.capability = capability
		}
	}
}

// New builds a gateway from resolved settings. The approval mode is read
// from cfg once and handed to the project store.
func New(cfg *settings.Settings, opts ...Option) *Gateway {
	g := &Gateway{cfg: cfg, logger: logging.Nop()}
	for _, opt := range opts {
		opt(g)
	}
	g.projects = project.NewStore(project.Options{
		ProjectsDir:     cfg.ProjectsDir,
		RequireApproval: cfg.ApprovalRequired(),
		PendingDir:      cfg.PendingDir,
		Logger:          g.logger,
	})
	g.staging = staging.New(staging.Options{InlineMaxBytes: cfg.InlineMaxBytes, Logger: g.logger})
	g.approval = approval.New(approval.Options{Logger: g.logger})
	g.index = fsindex.New(fsindex.Options{PreviewMaxBytes: cfg.PreviewMaxBytes, Logger: g.logger})
	if g.capability == nil {
		g.capability = agent.NewCommandCapability(cfg.Agent.Command, cfg.Agent.Args, g.logger)
	}
	g.runner = agent.NewRunner(g.capability, g.staging, agent.Options{
		MaxTurns:       cfg.Agent.MaxTurns,
		PermissionMode: cfg.Agent.PermissionMode,
		AllowedTools:   cfg.Agent.AllowedTools,
		Logger:         g.logger,
	})
	return g
}

func (g *Gateway) SetNotifier(notify Notifier) {
	g.notify = notify
}

// load validates the id and reads the manifest for one request.
func (g *Gateway) load(projectID string) (*project.Manifest, *errinfo.ErrorInfo) {
	m, err := g.projects.Load(strings.TrimSpace(projectID))
	if err != nil {
		return nil, toErrorInfo(errinfo.PhaseProject, projectID, "", err)
	}
	return m, nil
}

// Ask runs the agent for one project. onEvent receives progress events and
// may be nil. When saveAs is set the final text is also written to staging.
func (g *Gateway) Ask(ctx context.Context, projectID, prompt, saveAs string, onEvent func(agent.Event)) (*agent.Result, *errinfo.ErrorInfo) {
	m, errInfo := g.load(projectID)
	if errInfo != nil {
		return nil, errInfo
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, errinfo.ValidationFailed(errinfo.PhaseAgent, "prompt required")
	}
	result, err := g.runner.Ask(ctx, m, prompt, onEvent)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errinfo.UserCanceled(errinfo.PhaseAgent, "run canceled")
		}
		return nil, errinfo.AgentFailed(err.Error())
	}
	if strings.TrimSpace(saveAs) != "" {
		rel, err := g.staging.Write(m, staging.Qualify(m, saveAs), []byte(result.Text))
		if err != nil {
			return nil, toErrorInfo(errinfo.PhaseStaging, m.ID, saveAs, err)
		}
		if !slices.Contains(result.Meta.Written, rel) {
			result.Meta.Written = append(result.Meta.Written, rel)
			sort.Strings(result.Meta.Written)
			if onEvent != nil {
				onEvent(agent.Event{Kind: agent.EventFileWritten, RunID: result.Meta.RunID, Path: "@" + rel})
			}
		}
	}
	return result, nil
}
