package sequencer

import (
	"math"
	"strings"
	"time"

	"site-assistant/internal/classifier"
	"site-assistant/internal/domain"
)

// Timings are the fixed delays of the scripted response.
type Timings struct {
	Reply  time.Duration `json:"reply"`
	Build  time.Duration `json:"build"`
	Settle time.Duration `json:"settle"`
}

// DefaultTimings returns the widget's 1s / 4s / 0.5s delays.
func DefaultTimings() Timings {
	return Timings{
		Reply:  1000 * time.Millisecond,
		Build:  4000 * time.Millisecond,
		Settle: 500 * time.Millisecond,
	}
}

// Scaled multiplies every delay by factor. A non-positive or non-finite
// factor yields zero delays.
func (t Timings) Scaled(factor float64) Timings {
	if !(factor > 0) || math.IsInf(factor, 1) {
		return Timings{}
	}
	scale := func(d time.Duration) time.Duration { return time.Duration(float64(d) * factor) }
	return Timings{Reply: scale(t.Reply), Build: scale(t.Build), Settle: scale(t.Settle)}
}

// StepKind is a scheduled transition of the per-turn state machine.
type StepKind string

const (
	StepReply   StepKind = "reply"
	StepSettle  StepKind = "settle"
	StepClosing StepKind = "closing"
)

// Step is one pending transition. Append steps carry the message to append;
// settle steps clear IsCreating on the card of the same turn.
type Step struct {
	Turn    int                 `json:"turn"`
	Kind    StepKind            `json:"kind"`
	Due     time.Time           `json:"due"`
	Message *domain.ChatMessage `json:"message,omitempty"`
}

// Stage describes what the assistant is doing right now.
type Stage string

const (
	StageIdle      Stage = "idle"
	StageTyping    Stage = "typing"
	StageCreating  Stage = "creating"
	StageFinishing Stage = "finishing"
)

// Conversation is the message store plus the pending transitions of the
// current turn. It is plain data so it can be persisted between requests;
// it is not safe for concurrent use (see Runner).
type Conversation struct {
	ID        string               `json:"id"`
	Messages  []domain.ChatMessage `json:"messages"`
	Pending   []Step               `json:"pending,omitempty"`
	Turns     int                  `json:"turns"`
	Version   int64                `json:"version"`
	UpdatedAt time.Time            `json:"updatedAt"`
	Timings   Timings              `json:"timings"`
}

// New starts a conversation with the assistant greeting.
func New(id, greeting string, timings Timings, now time.Time) *Conversation {
	return &Conversation{
		ID: id,
		Messages: []domain.ChatMessage{
			{Role: domain.RoleAssistant, Text: greeting},
		},
		UpdatedAt: now,
		Timings:   timings,
	}
}

// Submit appends a user turn and schedules the scripted response.
// Whitespace-only text is ignored and reported as not accepted. Pending
// steps of an earlier turn are cancelled first.
func (c *Conversation) Submit(text string, now time.Time) (classifier.Decision, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return classifier.Decision{}, false
	}

	c.cancelPending()
	c.Turns++
	turn := c.Turns
	c.Messages = append(c.Messages, domain.ChatMessage{Role: domain.RoleUser, Text: text, Turn: turn})

	d := classifier.Route(text)
	c.Pending = plan(turn, d, c.Timings, now)
	c.UpdatedAt = now
	return d, true
}

func plan(turn int, d classifier.Decision, t Timings, now time.Time) []Step {
	replyAt := now.Add(t.Reply)
	if !d.Matched() {
		return []Step{{
			Turn: turn,
			Kind: StepReply,
			Due:  replyAt,
			Message: &domain.ChatMessage{
				Role: domain.RoleAssistant,
				Text: d.Reply,
				Turn: turn,
			},
		}}
	}

	preview := d.Preview.Clone()
	settleAt := replyAt.Add(t.Build)
	return []Step{
		{
			Turn: turn,
			Kind: StepReply,
			Due:  replyAt,
			Message: &domain.ChatMessage{
				Role:       domain.RoleAssistant,
				Text:       classifier.AckText(preview),
				IsCreating: true,
				Preview:    &preview,
				Turn:       turn,
			},
		},
		{Turn: turn, Kind: StepSettle, Due: settleAt},
		{
			Turn: turn,
			Kind: StepClosing,
			Due:  settleAt.Add(t.Settle),
			Message: &domain.ChatMessage{
				Role: domain.RoleAssistant,
				Text: classifier.DoneText(preview),
				Turn: turn,
			},
		},
	}
}

// cancelPending drops every scheduled step and settles any card still
// marked as in progress.
func (c *Conversation) cancelPending() int {
	n := len(c.Pending)
	c.Pending = nil
	for i := range c.Messages {
		c.Messages[i].IsCreating = false
	}
	return n
}

// Cancel drops pending steps, as on teardown. It returns how many were dropped.
func (c *Conversation) Cancel(now time.Time) int {
	n := c.cancelPending()
	if n > 0 {
		c.UpdatedAt = now
	}
	return n
}

// Advance applies every step due at or before now, in order.
func (c *Conversation) Advance(now time.Time) bool {
	applied := 0
	for applied < len(c.Pending) && !c.Pending[applied].Due.After(now) {
		c.apply(c.Pending[applied])
		applied++
	}
	if applied == 0 {
		return false
	}
	c.Pending = c.Pending[applied:]
	if len(c.Pending) == 0 {
		c.Pending = nil
	}
	c.UpdatedAt = now
	return true
}

// Drain applies all pending steps immediately regardless of their due time.
func (c *Conversation) Drain() bool {
	if len(c.Pending) == 0 {
		return false
	}
	last := c.Pending[len(c.Pending)-1].Due
	return c.Advance(last)
}

func (c *Conversation) apply(s Step) {
	switch s.Kind {
	case StepReply, StepClosing:
		if s.Message != nil {
			c.Messages = append(c.Messages, s.Message.Clone())
		}
	case StepSettle:
		for i := len(c.Messages) - 1; i >= 0; i-- {
			if c.Messages[i].Turn == s.Turn && c.Messages[i].IsCreating {
				c.Messages[i].IsCreating = false
				return
			}
		}
	}
}

// NextDue reports when the next pending step fires.
func (c *Conversation) NextDue() (time.Time, bool) {
	if len(c.Pending) == 0 {
		return time.Time{}, false
	}
	return c.Pending[0].Due, true
}

// Stage derives the current stage from the next pending step.
func (c *Conversation) Stage() Stage {
	if len(c.Pending) == 0 {
		return StageIdle
	}
	switch c.Pending[0].Kind {
	case StepSettle:
		return StageCreating
	case StepClosing:
		return StageFinishing
	default:
		return StageTyping
	}
}

// Snapshot is an immutable view of a conversation for rendering.
type Snapshot struct {
	ID       string               `json:"sessionId"`
	Messages []domain.ChatMessage `json:"messages"`
	Stage    Stage                `json:"stage"`
	Typing   bool                 `json:"typing"`
	Turns    int                  `json:"turns"`
	Seq      uint64               `json:"-"`
}

// Snapshot returns a deep copy of the visible state.
func (c *Conversation) Snapshot() Snapshot {
	msgs := make([]domain.ChatMessage, len(c.Messages))
	for i, m := range c.Messages {
		msgs[i] = m.Clone()
	}
	stage := c.Stage()
	return Snapshot{
		ID:       c.ID,
		Messages: msgs,
		Stage:    stage,
		Typing:   stage == StageTyping,
		Turns:    c.Turns,
	}
}
