// Package proposal stores immutable proposal versions on disk and decides
// which version of each proposal is the marked (current) one.
package proposal

import "encoding/json"

// Source records why a version was written. It is informational only.
type Source string

const (
	SourceManual   Source = "manual"
	SourceAutosave Source = "autosave"
	SourcePDF      Source = "pdf"
	SourceCreate   Source = "create"
)

func (s Source) Valid() bool {
	switch s {
	case SourceManual, SourceAutosave, SourcePDF, SourceCreate:
		return true
	default:
		return false
	}
}

// Content is the proposal payload owned by a single version.
type Content struct {
	Title      string  `json:"title"`
	ClientName string  `json:"clientName"`
	ClientID   string  `json:"clientId"`
	Market     string  `json:"market"`
	Service    string  `json:"service"`
	Summary    string  `json:"summary"`
	Scope      string  `json:"scope"`
	Timeline   string  `json:"timeline"`
	ValidUntil string  `json:"validUntil"`
	Notes      string  `json:"notes"`
	Pricing    Pricing `json:"pricing"`
}

type Pricing struct {
	Currency        string      `json:"currency"`
	Items           []PriceItem `json:"items"`
	DiscountPercent float64     `json:"discountPercent"`
}

type PriceItem struct {
	Label     string  `json:"label"`
	Quantity  float64 `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

// Total is the sum of all line items after the discount.
func (p Pricing) Total() float64 {
	var sum float64
	for _, item := range p.Items {
		sum += item.Quantity * item.UnitPrice
	}
	return sum * (1 - p.DiscountPercent/100)
}

// PlanTask is one schedule entry. Start and End are YYYY-MM-DD dates.
type PlanTask struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// StoredVersion is an immutable snapshot of a proposal. Once written its
// record is never modified.
type StoredVersion struct {
	ProposalID      string     `json:"proposalId"`
	VersionID       string     `json:"versionId"`
	CreatedAt       string     `json:"createdAt"`
	Source          Source     `json:"source"`
	PDF             bool       `json:"pdf"`
	Proposal        Content    `json:"proposal"`
	SelectedCaseIDs []string   `json:"selectedCaseIds"`
	PlanTasks       []PlanTask `json:"planTasks"`

	fromLegacy bool
}

// Legacy reports whether the version was synthesized from a pre-versioning
// proposal.json record.
func (v StoredVersion) Legacy() bool {
	return v.fromLegacy
}

// MarkState is the persisted mark of a proposal. An unlocked mark is only a
// cache of the default selection and may be replaced on any read.
type MarkState struct {
	VersionID string `json:"versionId,omitempty"`
	Locked    bool   `json:"locked"`
	MarkedAt  string `json:"markedAt"`
}

// SaveInput describes a new version. An empty ProposalID starts a new proposal.
type SaveInput struct {
	ProposalID      string
	Proposal        Content
	Source          Source
	PDF             bool
	SelectedCaseIDs []string
	PlanTasks       []PlanTask
}

// ProposalGroup is one proposal as presented by listings.
type ProposalGroup struct {
	ProposalID string          `json:"proposalId"`
	Versions   []StoredVersion `json:"versions"`
	Latest     StoredVersion   `json:"latest"`
	Marked     StoredVersion   `json:"marked"`
	Mark       MarkState       `json:"mark"`
}

// MergeResult reports what a merge moved. Rekeyed maps source version ids to
// the ids they received under the target because of collisions.
type MergeResult struct {
	TargetID string            `json:"targetId"`
	SourceID string            `json:"sourceId"`
	Moved    int               `json:"moved"`
	Rekeyed  map[string]string `json:"rekeyed"`
	Marked   *StoredVersion    `json:"marked,omitempty"`
}

// RootResolver returns the data directory. It is asked on every operation
// because configuration can be reloaded while the process runs.
type RootResolver interface {
	DataRoot() string
}

// BackupHook makes sure the periodic off-site backup is running.
type BackupHook interface {
	EnsureStarted()
}

// StaticRoot is a RootResolver for a fixed directory.
type StaticRoot string

func (r StaticRoot) DataRoot() string { return string(r) }

type noopBackup struct{}

func (noopBackup) EnsureStarted() {}

// legacyRecord is the pre-versioning proposal.json shape. Very old files hold
// the bare content object instead, which is detected by an empty Proposal.
type legacyRecord struct {
	ID              string          `json:"id"`
	CreatedAt       string          `json:"createdAt"`
	Proposal        json.RawMessage `json:"proposal"`
	SelectedCaseIDs []string        `json:"selectedCaseIds"`
	PlanTasks       []PlanTask      `json:"planTasks"`
}
