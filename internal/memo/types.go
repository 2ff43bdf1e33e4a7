// Package memo holds the memo domain types and the Document Builder that
// turns a Memo into the indexable nodes the store and index packages
// operate on.
package memo

// Attachment is a file attached to a memo: an image, a text/markdown note,
// or any other MIME type carried along with the memo's content.
type Attachment struct {
	Name         string // e.g. "attachments/{uid}", the attachment_uid
	Filename     string
	Type         string // MIME type
	ExternalLink string
	Content      string // raw, base64, or data-URL content depending on Type
}

// Property mirrors the boolean flags the upstream memo source computes
// over a memo's content (link/task-list/code presence).
type Property struct {
	HasLink            bool
	HasTaskList        bool
	HasCode            bool
	HasIncompleteTasks bool
}

// Memo is a single note fetched from the upstream memo source.
type Memo struct {
	Name        string // memo_uid
	State       string
	Creator     string
	CreateTime  string
	UpdateTime  string
	DisplayTime string
	Content     string
	Visibility  string
	Tags        []string
	AITags      []string
	Pinned      bool
	Attachments []Attachment
	Property    *Property
}

// NodeKind distinguishes the three shapes of node the Document Builder
// emits for a single memo.
type NodeKind string

const (
	NodeKindBaseText       NodeKind = "base_text"
	NodeKindAttachmentText NodeKind = "attachment_text"
	NodeKindImage          NodeKind = "image"
)

// Node is a single indexable unit produced by Build. Text nodes carry their
// text in Content; image nodes carry the resolved image payload (a data URL
// or a direct link) in Content and the resolved caption in Caption.
type Node struct {
	ID       string
	Kind     NodeKind
	MemoUID  string
	Content  string
	Caption  string
	Metadata map[string]string
}

// Docs is the Document Builder's output for one memo: exactly one base text
// node, plus zero or more attachment text and image nodes, in attachment
// order.
type Docs struct {
	BaseText    *Node
	Attachments []*Node
	Images      []*Node
}

// Nodes flattens Docs into the order the Index Manager upserts them in:
// base text first, then attachment text nodes, then image nodes.
func (d *Docs) Nodes() []*Node {
	if d == nil {
		return nil
	}
	nodes := make([]*Node, 0, 1+len(d.Attachments)+len(d.Images))
	if d.BaseText != nil {
		nodes = append(nodes, d.BaseText)
	}
	nodes = append(nodes, d.Attachments...)
	nodes = append(nodes, d.Images...)
	return nodes
}

// BuildConfig controls the Document Builder's per-memo limits and where it
// resolves image payloads from when a memo's attachment carries neither an
// externalLink nor inline content.
type BuildConfig struct {
	MaxImages            int
	MaxAttachments       int
	AttachmentSnippetLen int
	AttachmentTextMaxLen int
	MemosBaseURL         string
	MemosSessionCookie   string
}

// DefaultBuildConfig returns the documented builder defaults.
func DefaultBuildConfig() BuildConfig {
	return BuildConfig{
		MaxImages:            10,
		MaxAttachments:       10,
		AttachmentSnippetLen: 200,
		AttachmentTextMaxLen: 4000,
	}
}
