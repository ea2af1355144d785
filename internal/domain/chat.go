package domain

// Role identifies who authored a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PreviewKind names one of the fixed project preview templates.
type PreviewKind string

const (
	PreviewEcommerce PreviewKind = "ecommerce"
	PreviewLanding   PreviewKind = "landing"
	PreviewPortfolio PreviewKind = "portfolio"
	PreviewBlog      PreviewKind = "blog"
	PreviewCorporate PreviewKind = "corporate"
	PreviewWebsite   PreviewKind = "website"
)

// ProjectPreview is the fabricated project card attached to an assistant reply.
type ProjectPreview struct {
	Kind        PreviewKind `json:"kind"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Features    []string    `json:"features"`
}

// Clone returns a deep copy so callers never share the Features slice.
func (p ProjectPreview) Clone() ProjectPreview {
	p.Features = append([]string(nil), p.Features...)
	return p
}

// ChatMessage is a single rendered chat turn. Turn is the user turn that
// produced it (0 for the greeting).
type ChatMessage struct {
	Role       Role            `json:"role"`
	Text       string          `json:"text"`
	IsCreating bool            `json:"isCreating,omitempty"`
	Preview    *ProjectPreview `json:"preview,omitempty"`
	Turn       int             `json:"turn"`
}

// Clone returns a deep copy of the message.
func (m ChatMessage) Clone() ChatMessage {
	if m.Preview != nil {
		p := m.Preview.Clone()
		m.Preview = &p
	}
	return m
}
