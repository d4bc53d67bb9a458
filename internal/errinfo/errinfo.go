package errinfo

// ErrorInfo is the structured error payload carried in RPC error data.
type ErrorInfo struct {
	ErrorCode    string   `json:"error_code"`
	Phase        string   `json:"phase,omitempty"`
	Subphase     string   `json:"subphase,omitempty"`
	Retryable    bool     `json:"retryable"`
	Actions      []string `json:"actions,omitempty"`
	ModelID      string   `json:"model_id,omitempty"`
	CheckpointID string   `json:"checkpoint_id,omitempty"`
	Path         string   `json:"path,omitempty"`
	Detail       string   `json:"detail,omitempty"`
}

const (
	CodeProviderNotConfigured = "PROVIDER_NOT_CONFIGURED"
	CodeProviderAuthFailed    = "PROVIDER_AUTH_FAILED"
	CodeProviderUnavailable   = "PROVIDER_UNAVAILABLE"
	CodeEgressBlocked         = "EGRESS_BLOCKED_BY_POLICY"
	CodeGenerationFailed      = "GENERATION_FAILED"
	CodeValidationFailed      = "VALIDATION_FAILED"
	CodeWorkspaceBusy         = "WORKSPACE_BUSY"
	CodeFileNotFound          = "FILE_NOT_FOUND"
	CodeFileReadFailed        = "FILE_READ_FAILED"
	CodeFileWriteFailed       = "FILE_WRITE_FAILED"
	CodeIntegrityViolation    = "INTEGRITY_VIOLATION"
	CodeUserCanceled          = "USER_CANCELED"
)

const (
	ActionRetry        = "retry"
	ActionOpenSettings = "open_settings"
	ActionWait         = "wait"
	ActionStartOver    = "start_over"
)

const (
	PhaseWorkspace  = "workspace"
	PhaseGeneration = "generation"
	PhaseCheckpoint = "checkpoint"
	PhaseSession    = "session"
	PhasePreview    = "preview"
	PhaseEnhance    = "enhance"
)

const (
	SubphaseTemplate = "template"
	SubphaseChat     = "chat"
	SubphaseRestore  = "restore"
	SubphaseDiff     = "diff"
	SubphaseExport   = "export"
	SubphaseImport   = "import"
)

func ProviderNotConfigured(phase string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeProviderNotConfigured,
		Phase:     phase,
		Retryable: false,
		Actions:   []string{ActionOpenSettings},
	}
}

func ProviderAuthFailed(phase string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeProviderAuthFailed,
		Phase:     phase,
		Retryable: false,
		Actions:   []string{ActionOpenSettings},
	}
}

func ProviderUnavailable(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeProviderUnavailable,
		Phase:     phase,
		Retryable: true,
		Actions:   []string{ActionRetry},
		Detail:    detail,
	}
}

func EgressBlocked(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeEgressBlocked,
		Phase:     phase,
		Retryable: false,
		Actions:   []string{ActionOpenSettings},
		Detail:    detail,
	}
}

// GenerationFailed covers model replies that could not be used, such as an
// empty answer or an unknown template.
func GenerationFailed(phase, subphase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeGenerationFailed,
		Phase:     phase,
		Subphase:  subphase,
		Retryable: true,
		Actions:   []string{ActionRetry},
		Detail:    detail,
	}
}

func ValidationFailed(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeValidationFailed,
		Phase:     phase,
		Retryable: false,
		Detail:    detail,
	}
}

func WorkspaceBusy(phase string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeWorkspaceBusy,
		Phase:     phase,
		Retryable: true,
		Actions:   []string{ActionWait},
		Detail:    "a generation is already in progress",
	}
}

func FileNotFound(phase, path string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeFileNotFound,
		Phase:     phase,
		Retryable: false,
		Path:      path,
	}
}

func FileReadFailed(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeFileReadFailed,
		Phase:     phase,
		Retryable: false,
		Detail:    detail,
	}
}

func FileWriteFailed(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeFileWriteFailed,
		Phase:     phase,
		Retryable: false,
		Detail:    detail,
	}
}

// IntegrityViolation is fatal for the session: a checkpoint references
// content that is gone, or an archive does not verify.
func IntegrityViolation(phase, checkpointID, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode:    CodeIntegrityViolation,
		Phase:        phase,
		Retryable:    false,
		Actions:      []string{ActionStartOver},
		CheckpointID: checkpointID,
		Detail:       detail,
	}
}

func UserCanceled(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeUserCanceled,
		Phase:     phase,
		Retryable: false,
		Detail:    detail,
	}
}
