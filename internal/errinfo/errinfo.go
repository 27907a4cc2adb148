package errinfo

import "net/http"

// ErrorInfo is the structured error payload shared by the RPC and HTTP
// transports. Detail never carries a canonicalized host path.
type ErrorInfo struct {
	ErrorCode string   `json:"error_code"`
	Phase     string   `json:"phase,omitempty"`
	Retryable bool     `json:"retryable"`
	Actions   []string `json:"actions,omitempty"`
	ProjectID string   `json:"project_id,omitempty"`
	Path      string   `json:"path,omitempty"`
	Limit     int64    `json:"limit,omitempty"`
	Detail    string   `json:"detail,omitempty"`
}

func (e *ErrorInfo) Error() string {
	if e == nil {
		return ""
	}
	if e.Detail == "" {
		return e.ErrorCode
	}
	return e.ErrorCode + ": " + e.Detail
}

const (
	CodeInvalidIdentifier   = "INVALID_IDENTIFIER"
	CodeInvalidPath         = "INVALID_PATH"
	CodeValidationFailed    = "VALIDATION_FAILED"
	CodeSandboxViolation    = "SANDBOX_VIOLATION"
	CodeNotFound            = "NOT_FOUND"
	CodeConflict            = "CONFLICT_DESTINATION_EXISTS"
	CodePayloadTooLarge     = "PAYLOAD_TOO_LARGE"
	CodeUnsupportedMedia    = "UNSUPPORTED_MEDIA"
	CodeManifestParseFailed = "MANIFEST_PARSE_FAILED"
	CodeFileReadFailed      = "FILE_READ_FAILED"
	CodeFileWriteFailed     = "FILE_WRITE_FAILED"
	CodeAgentFailed         = "AGENT_FAILED"
	CodeUserCanceled        = "USER_CANCELED"
)

const (
	ActionRetry         = "retry"
	ActionOverwrite     = "overwrite"
	ActionFixManifest   = "fix_manifest"
	ActionReviewStaged  = "review_staged"
	ActionDiscardStaged = "discard_staged"
)

const (
	PhaseProject = "project"
	PhaseBrowse  = "browse"
	PhaseStaging = "staging"
	PhasePromote = "promote"
	PhaseReview  = "review"
	PhaseMention = "mention"
	PhaseAgent   = "agent"
)

var httpStatus = map[string]int{
	CodeInvalidIdentifier:   http.StatusBadRequest,
	CodeInvalidPath:         http.StatusBadRequest,
	CodeValidationFailed:    http.StatusBadRequest,
	CodeSandboxViolation:    http.StatusForbidden,
	CodeNotFound:            http.StatusNotFound,
	CodeConflict:            http.StatusConflict,
	CodePayloadTooLarge:     http.StatusRequestEntityTooLarge,
	CodeUnsupportedMedia:    http.StatusUnsupportedMediaType,
	CodeManifestParseFailed: http.StatusInternalServerError,
	CodeFileReadFailed:      http.StatusInternalServerError,
	CodeFileWriteFailed:     http.StatusInternalServerError,
	CodeAgentFailed:         http.StatusBadGateway,
	CodeUserCanceled:        499,
}

// HTTPStatus maps an error code onto the status the HTTP transport returns.
// Unknown codes are internal errors.
func HTTPStatus(code string) int {
	if status, ok := httpStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func InvalidIdentifier(phase, detail string) *ErrorInfo {
	return &ErrorInfo{ErrorCode: CodeInvalidIdentifier, Phase: phase, Detail: detail}
}

func InvalidPath(phase, path, detail string) *ErrorInfo {
	return &ErrorInfo{ErrorCode: CodeInvalidPath, Phase: phase, Path: path, Detail: detail}
}

func ValidationFailed(phase, detail string) *ErrorInfo {
	return &ErrorInfo{ErrorCode: CodeValidationFailed, Phase: phase, Detail: detail}
}

func SandboxViolation(phase, path, detail string) *ErrorInfo {
	return &ErrorInfo{ErrorCode: CodeSandboxViolation, Phase: phase, Path: path, Detail: detail}
}

func NotFound(phase, path, detail string) *ErrorInfo {
	return &ErrorInfo{ErrorCode: CodeNotFound, Phase: phase, Path: path, Detail: detail}
}

func Conflict(phase, path string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeConflict,
		Phase:     phase,
		Path:      path,
		Actions:   []string{ActionOverwrite, ActionReviewStaged},
		Detail:    "destination exists",
	}
}

func PayloadTooLarge(phase, path string, limit int64) *ErrorInfo {
	return &ErrorInfo{ErrorCode: CodePayloadTooLarge, Phase: phase, Path: path, Limit: limit, Detail: "inline read limit exceeded"}
}

func UnsupportedMedia(phase, path string) *ErrorInfo {
	return &ErrorInfo{ErrorCode: CodeUnsupportedMedia, Phase: phase, Path: path, Detail: "binary content where text is required"}
}

func ManifestParseFailed(projectID, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeManifestParseFailed,
		Phase:     PhaseProject,
		ProjectID: projectID,
		Actions:   []string{ActionFixManifest},
		Detail:    detail,
	}
}

func FileReadFailed(phase, detail string) *ErrorInfo {
	return &ErrorInfo{ErrorCode: CodeFileReadFailed, Phase: phase, Retryable: true, Actions: []string{ActionRetry}, Detail: detail}
}

// FileWriteFailed is retryable: a failed promote leaves the staged source in
// place.
func FileWriteFailed(phase, detail string) *ErrorInfo {
	return &ErrorInfo{ErrorCode: CodeFileWriteFailed, Phase: phase, Retryable: true, Actions: []string{ActionRetry}, Detail: detail}
}

func AgentFailed(detail string) *ErrorInfo {
	return &ErrorInfo{ErrorCode: CodeAgentFailed, Phase: PhaseAgent, Retryable: true, Actions: []string{ActionRetry}, Detail: detail}
}

func UserCanceled(phase, detail string) *ErrorInfo {
	return &ErrorInfo{ErrorCode: CodeUserCanceled, Phase: phase, Detail: detail}
}
