package types

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// IDLength is the length of every public identifier (projects, assets,
// history entries, sessions). Identifiers are the hex-encoded prefix of a
// random 128-bit value.
const IDLength = 12

// NewID generates a new opaque 12-character identifier.
func NewID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:IDLength/2])
}

// Kind identifies what a generation produces
type Kind string

const (
	KindMesh  Kind = "mesh"  // image in, mesh out
	KindImage Kind = "image" // prompt in, image out
	KindFull  Kind = "full"  // prompt in, image + mesh out
)

// Valid reports whether k is a member of the closed kind domain.
func (k Kind) Valid() bool {
	switch k {
	case KindMesh, KindImage, KindFull:
		return true
	}
	return false
}

// Status represents the lifecycle state of a generation attempt.
// Transitions are only allowed along queued -> processing -> {complete, failed}.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a member of the closed status domain.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusComplete, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// CanTransitionTo reports whether the status DAG permits moving from s to next.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusQueued:
		return next == StatusProcessing || next == StatusComplete || next == StatusFailed
	case StatusProcessing:
		return next == StatusComplete || next == StatusFailed
	}
	return false
}

// Project is a named container for generated assets
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// MaxProjectNameBytes caps the user-visible project name.
const MaxProjectNameBytes = 256

// Asset is a persisted generation output belonging to a project
type Asset struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"projectId"`
	Name          string    `json:"name"`
	Kind          Kind      `json:"kind"`
	FilePath      string    `json:"filePath"`
	ThumbnailPath string    `json:"thumbnailPath,omitempty"`
	FileSize      int64     `json:"fileSize"`
	Metadata      string    `json:"metadata,omitempty"` // opaque JSON blob, <= 64 KiB
	CreatedAt     time.Time `json:"createdAt"`
}

// MaxAssetMetadataBytes caps the opaque metadata blob on an asset.
const MaxAssetMetadataBytes = 64 * 1024

// HistoryEntry records one generation attempt, whether or not it produced
// an asset. Project and asset references are nulled on referent deletion so
// the audit trail survives.
type HistoryEntry struct {
	ID          string     `json:"id"`
	AssetID     string     `json:"assetId,omitempty"`
	ProjectID   string     `json:"projectId,omitempty"`
	Kind        Kind       `json:"kind"`
	Prompt      string     `json:"prompt,omitempty"`
	Status      Status     `json:"status"`
	GenTimeSecs *float64   `json:"generationTimeSeconds,omitempty"`
	VRAMUsageMB *float64   `json:"vramUsageMb,omitempty"`
	ErrorMsg    string     `json:"errorMessage,omitempty"`
	Metadata    string     `json:"metadata,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// MaxPromptBytes caps a generation prompt.
const MaxPromptBytes = 8 * 1024

// GenerationOptions is an opaque bag of worker tuning parameters. The
// orchestrator forwards it verbatim; only the worker interprets it.
type GenerationOptions map[string]any

// Job is the closed sum of enqueueable work. Exactly one of the payload
// variants below backs a Job, selected by Kind.
type Job interface {
	JobKind() Kind
}

// ImageJob generates an image from a text prompt.
type ImageJob struct {
	Prompt  string
	Options GenerationOptions
}

// MeshJob generates a mesh from user-supplied image bytes. The image buffer
// lives only in memory and is owned by exactly one component at a time.
type MeshJob struct {
	Image   []byte
	Options GenerationOptions
}

// FullJob runs the two-stage text -> image -> mesh pipeline as one
// serialized unit.
type FullJob struct {
	Prompt  string
	Options GenerationOptions
}

func (ImageJob) JobKind() Kind { return KindImage }
func (MeshJob) JobKind() Kind  { return KindMesh }
func (FullJob) JobKind() Kind  { return KindFull }

// Stats aggregates history counters for the stats endpoint.
type Stats struct {
	TotalGenerations int64    `json:"totalGenerations"`
	Queued           int64    `json:"queued"`
	Processing       int64    `json:"processing"`
	Complete         int64    `json:"complete"`
	Failed           int64    `json:"failed"`
	TotalProjects    int64    `json:"totalProjects"`
	TotalAssets      int64    `json:"totalAssets"`
	TotalAssetBytes  int64    `json:"totalAssetBytes"`
	AvgGenTimeSecs   *float64 `json:"avgGenerationTimeSeconds,omitempty"`
}

// HistoryFilter narrows a history listing. Zero values mean "no filter".
type HistoryFilter struct {
	ProjectID string
	Status    Status
	Kind      Kind
	Limit     int
}
