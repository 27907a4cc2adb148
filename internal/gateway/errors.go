package gateway

import (
	"errors"

	"filegate/gateway/internal/approval"
	"filegate/gateway/internal/errinfo"
	"filegate/gateway/internal/fsindex"
	"filegate/gateway/internal/project"
	"filegate/gateway/internal/sandbox"
	"filegate/gateway/internal/staging"
)

// toErrorInfo maps package sentinels onto transport error codes. path is
// the caller's relative input; canonical host paths never reach Detail.
func toErrorInfo(phase, projectID, path string, err error) *errinfo.ErrorInfo {
	var pathErr *sandbox.PathError
	if errors.As(err, &pathErr) {
		path = pathErr.Path
	}
	var info *errinfo.ErrorInfo
	switch {
	case errors.Is(err, project.ErrInvalidProjectID):
		info = errinfo.InvalidIdentifier(phase, "invalid project_id")
	case errors.Is(err, project.ErrNotFound):
		info = errinfo.NotFound(phase, "", "manifest not found: "+projectID)
	case errors.Is(err, project.ErrParse):
		info = errinfo.ManifestParseFailed(projectID, err.Error())
	case errors.Is(err, sandbox.ErrInvalidPath):
		info = errinfo.InvalidPath(phase, path, "invalid path")
	case errors.Is(err, sandbox.ErrForbidden):
		info = errinfo.SandboxViolation(phase, path, "path not allowed")
	case errors.Is(err, approval.ErrBadRequest):
		info = errinfo.ValidationFailed(phase, err.Error())
		info.Path = path
	case errors.Is(err, approval.ErrConflict):
		info = errinfo.Conflict(phase, path)
	case errors.Is(err, approval.ErrNotFound), errors.Is(err, staging.ErrNotFound), errors.Is(err, fsindex.ErrNotFound):
		info = errinfo.NotFound(phase, path, err.Error())
	case errors.Is(err, fsindex.ErrNotDirectory):
		info = errinfo.ValidationFailed(phase, "not a directory")
		info.Path = path
	case errors.Is(err, staging.ErrTooLarge):
		var limit int64
		var sizeErr *staging.SizeError
		if errors.As(err, &sizeErr) {
			limit = sizeErr.Limit
		}
		info = errinfo.PayloadTooLarge(phase, path, limit)
	case errors.Is(err, staging.ErrNotText):
		info = errinfo.UnsupportedMedia(phase, path)
	case phase == errinfo.PhasePromote || phase == errinfo.PhaseStaging:
		// Raw I/O errors can carry absolute paths; keep only the class.
		info = errinfo.FileWriteFailed(phase, "write failed")
		info.Path = path
	default:
		info = errinfo.FileReadFailed(phase, "read failed")
		info.Path = path
	}
	if info.ProjectID == "" {
		info.ProjectID = projectID
	}
	return info
}
