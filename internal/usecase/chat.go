package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"site-assistant/internal/classifier"
	"site-assistant/internal/domain"
	"site-assistant/internal/integrations/paramstore"
	"site-assistant/internal/sequencer"
)

const (
	defaultMaxMessageLen = 2000
	defaultSessionTTL    = 24 * time.Hour
	defaultSubmitBurst   = 5
	defaultSubmitRate    = rate.Limit(2)
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (domain.SessionRecord, error)
	PutSession(ctx context.Context, rec domain.SessionRecord, prevVersion int64) error
	PutSessionWithTurn(ctx context.Context, rec domain.SessionRecord, prevVersion int64, turn domain.TurnRecord) error
	DeleteSession(ctx context.Context, sessionID string) error
}

// sweeper is implemented by stores that evict expired sessions on demand.
type sweeper interface {
	Sweep() int
}

// Config holds the tunables of ChatService. Zero values select defaults.
type Config struct {
	Timings       sequencer.Timings
	SessionTTL    time.Duration
	MaxMessageLen int
	SubmitRate    rate.Limit
	SubmitBurst   int
	ParamPrefix   string
}

// ChatService drives scripted conversations in request/response mode.
// Each call loads the conversation, advances it to the current time,
// applies the operation and saves it back under a version check.
type ChatService struct {
	store         SessionStore
	params        ParamGetter
	paramPrefix   string
	timings       sequencer.Timings
	sessionTTL    time.Duration
	maxMessageLen int
	submitRate    rate.Limit
	submitBurst   int
	now           func() time.Time

	limitMu  sync.Mutex
	limiters map[string]*sessionLimiter

	cacheMu     sync.RWMutex
	cacheLoaded bool
	greeting    string
}

type sessionLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type SubmitInput struct {
	SessionID string
	Text      string
}

type Output struct {
	SessionID string
	Accepted  bool
	Decision  *classifier.Decision
	Snapshot  sequencer.Snapshot
	NextAt    *time.Time
}

// NewChatService builds the service. params may be nil, in which case the
// built-in greeting is used.
func NewChatService(store SessionStore, params ParamGetter, cfg Config) (*ChatService, error) {
	if store == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	prefix := strings.TrimRight(strings.TrimSpace(cfg.ParamPrefix), "/")
	if params != nil && prefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if cfg.Timings == (sequencer.Timings{}) {
		cfg.Timings = sequencer.DefaultTimings()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.MaxMessageLen <= 0 {
		cfg.MaxMessageLen = defaultMaxMessageLen
	}
	if cfg.SubmitRate <= 0 {
		cfg.SubmitRate = defaultSubmitRate
	}
	if cfg.SubmitBurst <= 0 {
		cfg.SubmitBurst = defaultSubmitBurst
	}
	return &ChatService{
		store:         store,
		params:        params,
		paramPrefix:   prefix,
		timings:       cfg.Timings,
		sessionTTL:    cfg.SessionTTL,
		maxMessageLen: cfg.MaxMessageLen,
		submitRate:    cfg.SubmitRate,
		submitBurst:   cfg.SubmitBurst,
		now:           time.Now,
		limiters:      make(map[string]*sessionLimiter),
	}, nil
}

// Start opens a new conversation seeded with the greeting.
func (s *ChatService) Start(ctx context.Context) (Output, error) {
	greeting, err := s.ensureGreeting(ctx)
	if err != nil {
		return Output{}, newError(ErrorInternal, "param_load_error", err)
	}
	now := s.now()
	if sw, ok := s.store.(sweeper); ok {
		sw.Sweep()
	}
	s.pruneLimiters(now)

	conv := sequencer.New(newUUID(), greeting, s.timings, now)
	if err := s.save(ctx, conv, nil); err != nil {
		return Output{}, err
	}
	return s.output(conv, false, nil), nil
}

// Submit appends a user message. Empty text is a no-op reported with
// Accepted=false and the current transcript.
func (s *ChatService) Submit(ctx context.Context, in SubmitInput) (Output, error) {
	id, err := parseSessionID(in.SessionID)
	if err != nil {
		return Output{}, err
	}
	text := strings.TrimSpace(in.Text)
	if utf8.RuneCountInString(text) > s.maxMessageLen {
		return Output{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}

	conv, err := s.load(ctx, id)
	if err != nil {
		return Output{}, err
	}
	now := s.now()
	advanced := conv.Advance(now)

	if text == "" {
		if advanced {
			if err := s.save(ctx, conv, nil); err != nil && !isConflict(err) {
				return Output{}, err
			}
		}
		return s.output(conv, false, nil), nil
	}

	if !s.limiter(id, now).AllowN(now, 1) {
		return Output{}, newError(ErrorRateLimited, "submit_rate_limited", nil)
	}

	d, _ := conv.Submit(text, now)
	turn := domain.TurnRecord{
		SessionID: id,
		Turn:      conv.Turns,
		Text:      text,
		Topic:     string(d.Topic),
		CreatedAt: now,
		TTL:       now.Add(s.sessionTTL).Unix(),
	}
	if d.Preview != nil {
		turn.Template = string(d.Preview.Kind)
	}
	if err := s.save(ctx, conv, &turn); err != nil {
		return Output{}, err
	}
	return s.output(conv, true, &d), nil
}

// Transcript returns the conversation as it looks right now.
func (s *ChatService) Transcript(ctx context.Context, sessionID string) (Output, error) {
	id, err := parseSessionID(sessionID)
	if err != nil {
		return Output{}, err
	}
	conv, err := s.load(ctx, id)
	if err != nil {
		return Output{}, err
	}
	if conv.Advance(s.now()) {
		// On conflict the advanced view is still valid for this instant.
		if err := s.save(ctx, conv, nil); err != nil && !isConflict(err) {
			return Output{}, err
		}
	}
	return s.output(conv, false, nil), nil
}

// End removes the conversation together with its pending steps.
func (s *ChatService) End(ctx context.Context, sessionID string) error {
	id, err := parseSessionID(sessionID)
	if err != nil {
		return err
	}
	if _, err := s.load(ctx, id); err != nil {
		return err
	}
	if err := s.store.DeleteSession(ctx, id); err != nil {
		return newError(ErrorInternal, "store_delete_error", err)
	}
	s.forgetLimiter(id)
	return nil
}

// Classify routes text without touching any conversation. Every input,
// including empty text, gets a decision.
func (s *ChatService) Classify(text string) (classifier.Decision, error) {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > s.maxMessageLen {
		return classifier.Decision{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}
	return classifier.Route(text), nil
}

func (s *ChatService) load(ctx context.Context, id string) (*sequencer.Conversation, error) {
	rec, err := s.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			s.forgetLimiter(id)
			return nil, newError(ErrorNotFound, "session_not_found", nil)
		}
		return nil, newError(ErrorInternal, "store_load_error", err)
	}
	conv, err := sequencer.Decode(rec.State)
	if err != nil {
		return nil, newError(ErrorInternal, "state_decode_error", err)
	}
	conv.Version = rec.Version
	return conv, nil
}

func (s *ChatService) save(ctx context.Context, conv *sequencer.Conversation, turn *domain.TurnRecord) error {
	prev := conv.Version
	conv.Version++
	state, err := sequencer.Encode(conv)
	if err != nil {
		conv.Version = prev
		return newError(ErrorInternal, "state_encode_error", err)
	}
	now := s.now()
	rec := domain.SessionRecord{
		SessionID: conv.ID,
		State:     state,
		Version:   conv.Version,
		Turns:     conv.Turns,
		UpdatedAt: now,
		TTL:       now.Add(s.sessionTTL).Unix(),
	}

	if turn != nil {
		err = s.store.PutSessionWithTurn(ctx, rec, prev, *turn)
	} else {
		err = s.store.PutSession(ctx, rec, prev)
	}
	if err != nil {
		conv.Version = prev
		if errors.Is(err, domain.ErrVersionConflict) {
			return newError(ErrorConflict, "concurrent_update", err)
		}
		return newError(ErrorInternal, "store_save_error", err)
	}
	return nil
}

func (s *ChatService) output(conv *sequencer.Conversation, accepted bool, d *classifier.Decision) Output {
	out := Output{
		SessionID: conv.ID,
		Accepted:  accepted,
		Decision:  d,
		Snapshot:  conv.Snapshot(),
	}
	if due, ok := conv.NextDue(); ok {
		out.NextAt = &due
	}
	return out
}

func (s *ChatService) limiter(id string, now time.Time) *rate.Limiter {
	s.limitMu.Lock()
	defer s.limitMu.Unlock()
	l, ok := s.limiters[id]
	if !ok {
		l = &sessionLimiter{lim: rate.NewLimiter(s.submitRate, s.submitBurst)}
		s.limiters[id] = l
	}
	l.lastSeen = now
	return l.lim
}

func (s *ChatService) forgetLimiter(id string) {
	s.limitMu.Lock()
	delete(s.limiters, id)
	s.limitMu.Unlock()
}

// pruneLimiters drops limiters idle for longer than the session TTL; their
// sessions have expired in the store by then.
func (s *ChatService) pruneLimiters(now time.Time) int {
	cutoff := now.Add(-s.sessionTTL)
	s.limitMu.Lock()
	defer s.limitMu.Unlock()
	n := 0
	for id, l := range s.limiters {
		if l.lastSeen.Before(cutoff) {
			delete(s.limiters, id)
			n++
		}
	}
	return n
}

func (s *ChatService) ensureGreeting(ctx context.Context) (string, error) {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		g := s.greeting
		s.cacheMu.RUnlock()
		return g, nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return s.greeting, nil
	}

	greeting, err := s.loadGreeting(ctx)
	if err != nil {
		return "", err
	}
	s.greeting = greeting
	s.cacheLoaded = true
	return greeting, nil
}

func (s *ChatService) loadGreeting(ctx context.Context) (string, error) {
	if s.params == nil {
		return classifier.Greeting, nil
	}
	v, err := s.params.GetParameter(ctx, s.paramPrefix+"/greeting")
	if err != nil {
		if errors.Is(err, paramstore.ErrNotFound) {
			return classifier.Greeting, nil
		}
		return "", fmt.Errorf("usecase: load greeting: %w", err)
	}
	if v = strings.TrimSpace(v); v == "" {
		return classifier.Greeting, nil
	}
	return v, nil
}

func parseSessionID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", newError(ErrorInvalidInput, "missing_session_id", nil)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", newError(ErrorInvalidInput, "invalid_session_id", err)
	}
	return id.String(), nil
}

func isConflict(err error) bool {
	return AsError(err).Code == ErrorConflict
}

var newUUID = func() string {
	return uuid.NewString()
}
