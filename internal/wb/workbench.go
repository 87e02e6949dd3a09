package wb

// Workbench describes a workbench as persisted in meta/workbench.json.
// Timestamps are RFC 3339 UTC strings.
type Workbench struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	CreatedAt           string `json:"created_at"`
	UpdatedAt           string `json:"updated_at"`
	DefaultModelID      string `json:"default_model_id,omitempty"`
	ParentWorkbenchID   string `json:"parent_workbench_id,omitempty"`
	ForkMode            string `json:"fork_mode,omitempty"`
	ForkedFromMessageID string `json:"forked_from_message_id,omitempty"`
	ForkedAt            string `json:"forked_at,omitempty"`
}

// DraftState records the single in-progress draft of a workbench.
// At most one exists per workbench at any time.
type DraftState struct {
	DraftID    string `json:"draft_id"`
	CreatedAt  string `json:"created_at"`
	SourceKind string `json:"source_kind,omitempty"`
	SourceRef  string `json:"source_ref,omitempty"`
}

// Consent is the persisted external-egress consent record. It is invalidated
// implicitly whenever ScopeHash no longer matches the current manifest
// fingerprint; it is never inherited across a fork.
type Consent struct {
	SchemaVersion int             `json:"schema_version"`
	Workshop      WorkshopConsent `json:"workshop"`
}

type WorkshopConsent struct {
	ProviderID  string `json:"provider_id"`
	ModelID     string `json:"model_id,omitempty"`
	ScopeHash   string `json:"scope_hash"`
	ConsentedAt string `json:"consented_at"`
	Persisted   bool   `json:"persisted"`
}

// Fork modes. All modes copy the published tree; they differ in how much
// metadata survives the clone.
const (
	ForkModeCloneFilesOnly             = "clone_files_only"
	ForkModeCloneFilesAndContextNoChat = "clone_files_and_context_no_chat"
	ForkModeCloneAll                   = "clone_all"
)
