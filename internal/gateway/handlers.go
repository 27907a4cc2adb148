package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"filegate/gateway/internal/agent"
	"filegate/gateway/internal/errinfo"
	"filegate/gateway/internal/mention"
	"filegate/gateway/internal/sandbox"
)

// Handler is the shape every operation shares across transports.
type Handler func(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo)

// Handlers returns every operation keyed by method name.
func (g *Gateway) Handlers() map[string]Handler {
	return map[string]Handler{
		"GatewayGetInfo":  g.GatewayGetInfo,
		"ProjectsList":    g.ProjectsList,
		"ProjectGet":      g.ProjectGet,
		"FsList":          g.FsList,
		"FsSearch":        g.FsSearch,
		"FileGet":         g.FileGet,
		"StagedWrite":     g.StagedWrite,
		"StagedRead":      g.StagedRead,
		"StagedPromote":   g.StagedPromote,
		"StagedDiscard":   g.StagedDiscard,
		"StagedDiff":      g.StagedDiff,
		"MentionsResolve": g.MentionsResolve,
		"MentionsSuggest": g.MentionsSuggest,
		"AgentAsk":        g.AgentAsk,
	}
}

func decode(phase string, params json.RawMessage, dest any) *errinfo.ErrorInfo {
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	if err := json.Unmarshal(params, dest); err != nil {
		return errinfo.ValidationFailed(phase, "invalid params")
	}
	return nil
}

func (g *Gateway) GatewayGetInfo(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	return map[string]any{
		"version":           Version,
		"api_version":       APIVersion,
		"require_approval":  g.projects.RequireApproval(),
		"pending_dir":       g.cfg.PendingDir,
		"preview_max_bytes": g.cfg.PreviewMaxBytes,
		"inline_max_bytes":  g.staging.InlineMaxBytes(),
	}, nil
}

func (g *Gateway) ProjectsList(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	projects, err := g.projects.List()
	if err != nil {
		return nil, errinfo.FileReadFailed(errinfo.PhaseProject, "list projects failed")
	}
	g.logger.Debug("projects.list", "count", len(projects))
	return map[string]any{"projects": projects}, nil
}

func (g *Gateway) ProjectGet(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		ProjectID string `json:"project_id"`
	}
	if errInfo := decode(errinfo.PhaseProject, params, &req); errInfo != nil {
		return nil, errInfo
	}
	m, errInfo := g.load(req.ProjectID)
	if errInfo != nil {
		return nil, errInfo
	}
	return m.Info(), nil
}

func (g *Gateway) FsList(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		ProjectID string `json:"project_id"`
		Path      string `json:"path"`
	}
	if errInfo := decode(errinfo.PhaseBrowse, params, &req); errInfo != nil {
		return nil, errInfo
	}
	m, errInfo := g.load(req.ProjectID)
	if errInfo != nil {
		return nil, errInfo
	}
	items, err := g.index.List(m, req.Path)
	if err != nil {
		return nil, toErrorInfo(errinfo.PhaseBrowse, m.ID, req.Path, err)
	}
	return map[string]any{"items": items}, nil
}

func (g *Gateway) FsSearch(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		ProjectID string `json:"project_id"`
		Query     string `json:"q"`
		Limit     int    `json:"limit"`
	}
	if errInfo := decode(errinfo.PhaseBrowse, params, &req); errInfo != nil {
		return nil, errInfo
	}
	if req.Limit == 0 {
		req.Limit = g.cfg.SearchLimit
	}
	m, errInfo := g.load(req.ProjectID)
	if errInfo != nil {
		return nil, errInfo
	}
	items, err := g.index.Search(ctx, m, req.Query, req.Limit)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errinfo.UserCanceled(errinfo.PhaseBrowse, "search canceled")
		}
		return nil, toErrorInfo(errinfo.PhaseBrowse, m.ID, "", err)
	}
	return map[string]any{"items": items}, nil
}

func (g *Gateway) FileGet(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		ProjectID string `json:"project_id"`
		Path      string `json:"path"`
	}
	if errInfo := decode(errinfo.PhaseBrowse, params, &req); errInfo != nil {
		return nil, errInfo
	}
	if req.Path == "" {
		return nil, errinfo.ValidationFailed(errinfo.PhaseBrowse, "path required")
	}
	m, errInfo := g.load(req.ProjectID)
	if errInfo != nil {
		return nil, errInfo
	}
	preview, err := g.index.Preview(m, req.Path, 0)
	if err != nil {
		return nil, toErrorInfo(errinfo.PhaseBrowse, m.ID, req.Path, err)
	}
	return preview, nil
}

func (g *Gateway) StagedWrite(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		ProjectID string `json:"project_id"`
		Path      string `json:"path"`
		Content   string `json:"content"`
	}
	if errInfo := decode(errinfo.PhaseStaging, params, &req); errInfo != nil {
		return nil, errInfo
	}
	m, errInfo := g.load(req.ProjectID)
	if errInfo != nil {
		return nil, errInfo
	}
	rel, err := g.staging.Write(m, req.Path, []byte(req.Content))
	if err != nil {
		return nil, toErrorInfo(errinfo.PhaseStaging, m.ID, req.Path, err)
	}
	g.emit("StagedChanged", map[string]any{"project_id": m.ID, "path": rel, "state": "staged"})
	return map[string]any{"path": rel}, nil
}

func (g *Gateway) StagedRead(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		ProjectID string `json:"project_id"`
		Path      string `json:"path"`
		MaxBytes  int64  `json:"max_bytes"`
	}
	if errInfo := decode(errinfo.PhaseStaging, params, &req); errInfo != nil {
		return nil, errInfo
	}
	m, errInfo := g.load(req.ProjectID)
	if errInfo != nil {
		return nil, errInfo
	}
	text, err := g.staging.ReadText(m, req.Path, req.MaxBytes)
	if err != nil {
		return nil, toErrorInfo(errinfo.PhaseStaging, m.ID, req.Path, err)
	}
	return map[string]any{"path": req.Path, "content": text}, nil
}

func (g *Gateway) StagedPromote(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		ProjectID string `json:"project_id"`
		FromRel   string `json:"from_rel"`
		ToRel     string `json:"to_rel"`
		Overwrite *bool  `json:"overwrite"`
	}
	if errInfo := decode(errinfo.PhasePromote, params, &req); errInfo != nil {
		return nil, errInfo
	}
	overwrite := true
	if req.Overwrite != nil {
		overwrite = *req.Overwrite
	}
	m, errInfo := g.load(req.ProjectID)
	if errInfo != nil {
		return nil, errInfo
	}
	record, err := g.approval.Promote(m, req.FromRel, req.ToRel, overwrite)
	if err != nil {
		path := req.ToRel
		if path == "" {
			path = req.FromRel
		}
		return nil, toErrorInfo(errinfo.PhasePromote, m.ID, path, err)
	}
	g.emit("StagedChanged", map[string]any{"project_id": m.ID, "path": record.Source, "state": "promoted", "promoted_to": record.Destination})
	return record, nil
}

func (g *Gateway) StagedDiscard(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		ProjectID string `json:"project_id"`
		Path      string `json:"path"`
	}
	if errInfo := decode(errinfo.PhasePromote, params, &req); errInfo != nil {
		return nil, errInfo
	}
	m, errInfo := g.load(req.ProjectID)
	if errInfo != nil {
		return nil, errInfo
	}
	deleted, err := g.approval.Discard(m, req.Path)
	if err != nil {
		return nil, toErrorInfo(errinfo.PhasePromote, m.ID, req.Path, err)
	}
	g.emit("StagedChanged", map[string]any{"project_id": m.ID, "path": deleted, "state": "discarded"})
	return map[string]any{"deleted": deleted}, nil
}

func (g *Gateway) StagedDiff(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		ProjectID string `json:"project_id"`
		FromRel   string `json:"from_rel"`
		ToRel     string `json:"to_rel"`
	}
	if errInfo := decode(errinfo.PhaseReview, params, &req); errInfo != nil {
		return nil, errInfo
	}
	m, errInfo := g.load(req.ProjectID)
	if errInfo != nil {
		return nil, errInfo
	}
	patch, err := g.approval.Diff(m, req.FromRel, req.ToRel)
	if err != nil {
		return nil, toErrorInfo(errinfo.PhaseReview, m.ID, req.FromRel, err)
	}
	return patch, nil
}

type MentionResult struct {
	Token     string `json:"token"`
	Path      string `json:"path,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

func (g *Gateway) MentionsResolve(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		ProjectID string `json:"project_id"`
		Text      string `json:"text"`
	}
	if errInfo := decode(errinfo.PhaseMention, params, &req); errInfo != nil {
		return nil, errInfo
	}
	m, errInfo := g.load(req.ProjectID)
	if errInfo != nil {
		return nil, errInfo
	}
	resolved := mention.ResolveAll(m, req.Text)
	out := make([]MentionResult, 0, len(resolved))
	for _, r := range resolved {
		item := MentionResult{Token: r.Token, Path: r.Path}
		if r.Err != nil {
			item.Path = ""
			item.ErrorCode = errinfo.CodeInvalidPath
			if errors.Is(r.Err, sandbox.ErrForbidden) {
				item.ErrorCode = errinfo.CodeSandboxViolation
			}
		}
		out = append(out, item)
	}
	return map[string]any{"mentions": out}, nil
}

func (g *Gateway) MentionsSuggest(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		ProjectID string `json:"project_id"`
		Query     string `json:"q"`
		Limit     int    `json:"limit"`
	}
	if errInfo := decode(errinfo.PhaseMention, params, &req); errInfo != nil {
		return nil, errInfo
	}
	m, errInfo := g.load(req.ProjectID)
	if errInfo != nil {
		return nil, errInfo
	}
	return map[string]any{"suggestions": mention.Suggest(m, req.Query, req.Limit)}, nil
}

func (g *Gateway) AgentAsk(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		ProjectID string `json:"project_id"`
		Prompt    string `json:"prompt"`
		SaveAs    string `json:"save_as"`
	}
	if errInfo := decode(errinfo.PhaseAgent, params, &req); errInfo != nil {
		return nil, errInfo
	}
	result, errInfo := g.Ask(ctx, req.ProjectID, req.Prompt, req.SaveAs, func(ev agent.Event) {
		switch ev.Kind {
		case agent.EventChunk:
			g.emit("AgentChunk", map[string]any{"project_id": req.ProjectID, "run_id": ev.RunID, "text": ev.Text})
		case agent.EventFileWritten:
			g.emit("AgentFileWritten", map[string]any{"project_id": req.ProjectID, "run_id": ev.RunID, "path": ev.Path})
		default:
			g.emit("AgentStatus", map[string]any{"project_id": req.ProjectID, "run_id": ev.RunID, "stage": ev.Stage})
		}
	})
	if errInfo != nil {
		return nil, errInfo
	}
	return result, nil
}

func (g *Gateway) emit(method string, params any) {
	if g.notify != nil {
		g.notify(method, params)
	}
}
