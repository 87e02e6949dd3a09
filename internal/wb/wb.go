// Package wb implements the workbench storage engine: a sandboxed,
// versioned local file store with a draft/publish/discard lifecycle,
// checkpoint snapshots, and consent-scope fingerprinting. All physical
// state under a workbench root is owned exclusively by the Service.
package wb

import "errors"

const (
	manifestSchema = 2

	metaDirName      = "meta"
	publishedDirName = "published"
	draftDirName     = "draft"

	workbenchDoc = "workbench.json"
	manifestDoc  = "files.json"
	draftDoc     = "draft.json"
	consentDoc   = "egress_consent.json"
	markerDoc    = "restore.json"

	// Files whose names start with this prefix are agent-internal scratch
	// files: excluded from manifests and deleted at publish time.
	scratchPrefix = "_"
)

// Checkpoint reasons with retention significance. Any other reason string is
// allowed and treated as automatic by the pruning policy.
const (
	ReasonManual     = "manual"
	ReasonPublish    = "publish"
	ReasonPreRestore = "pre_restore"
)

var (
	ErrSandboxViolation   = errors.New("sandbox violation")
	ErrInvalidPath        = errors.New("invalid path")
	ErrInvalidDestination = errors.New("invalid destination")
	ErrDeletionDetected   = errors.New("deletion detected")
	ErrDraftExists        = errors.New("draft exists")
	ErrNoDraft            = errors.New("no draft")
)
