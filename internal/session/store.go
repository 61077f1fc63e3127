package session

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Persister is the durable-storage port for the Store. Save receives a
// full snapshot of the non-restricted sessions after every mutation;
// snapshots are idempotent and may coalesce, last write wins. Load
// returns the previously saved snapshot, or (nil, nil) when nothing
// has been saved yet.
type Persister interface {
	Load(ctx context.Context) ([]ChatSession, error)
	Save(ctx context.Context, sessions []ChatSession) error
}

// Store holds the ordered session collection, most recent first, plus
// the currently selected session id. All mutations synchronize to the
// injected Persister; persistence failures are logged, never surfaced.
//
// The zero value is not useful - use NewStore.
type Store struct {
	mu        sync.RWMutex
	sessions  []*ChatSession
	currentID string

	persister Persister
	logger    *slog.Logger

	// Injection points for deterministic tests.
	now   func() time.Time
	newID func() string
}

// NewStore creates a Store backed by the given persister.
func NewStore(persister Persister, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		persister: persister,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// NewMessage constructs a message with a fresh id and the store's
// clock. It does not add the message to any session.
func (s *Store) NewMessage(role Role, content string, mediaType MediaType) Message {
	return Message{
		ID:        s.newID(),
		Role:      role,
		Content:   content,
		Type:      mediaType,
		Timestamp: s.now(),
	}
}

// CreateSession prepends a new empty session, makes it current and
// returns its id. Restricted sessions get the sentinel title and are
// therefore excluded from persistence.
func (s *Store) CreateSession(ctx context.Context, restricted bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	title := DefaultTitle
	if restricted {
		title = RestrictedTitle
	}
	sess := &ChatSession{
		ID:        s.newID(),
		Title:     title,
		Messages:  []Message{},
		UpdatedAt: s.now(),
	}
	s.sessions = append([]*ChatSession{sess}, s.sessions...)
	s.currentID = sess.ID

	s.logger.Debug("session created", "session_id", sess.ID, "restricted", restricted)
	s.persistLocked(ctx)
	return sess.ID
}

// AppendMessagePair appends a user message and its response placeholder
// to the named session as an atomic pair and bumps UpdatedAt. No-op if
// the session no longer exists.
func (s *Store) AppendMessagePair(ctx context.Context, sessionID string, user, response Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.findLocked(sessionID)
	if sess == nil {
		return
	}
	sess.Messages = append(sess.Messages, user, response)
	sess.UpdatedAt = s.now()
	s.persistLocked(ctx)
}

// UpdateMessage merges the given fields into the message identified by
// sessionID/messageID, leaving nil fields untouched. No-op if session
// or message no longer exists. Idempotent: applying the same update
// twice leaves state unchanged.
func (s *Store) UpdateMessage(ctx context.Context, sessionID, messageID string, update MessageUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.findLocked(sessionID)
	if sess == nil {
		return
	}
	for i := range sess.Messages {
		if sess.Messages[i].ID != messageID {
			continue
		}
		if update.Content != nil {
			sess.Messages[i].Content = *update.Content
		}
		if update.MediaURL != nil {
			sess.Messages[i].MediaURL = *update.MediaURL
		}
		s.persistLocked(ctx)
		return
	}
}

// RenameSession overwrites the session title. Used for the one-time
// post-first-exchange summarization. No-op if the session is gone.
func (s *Store) RenameSession(ctx context.Context, sessionID, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.findLocked(sessionID)
	if sess == nil {
		return
	}
	sess.Title = title
	s.persistLocked(ctx)
}

// DeleteSession removes the session. If it was current, the selection
// is cleared; no other session is auto-selected.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.sessions)
	s.sessions = slices.DeleteFunc(s.sessions, func(sess *ChatSession) bool {
		return sess.ID == sessionID
	})
	if len(s.sessions) == before {
		return
	}
	if s.currentID == sessionID {
		s.currentID = ""
	}
	s.logger.Debug("session deleted", "session_id", sessionID)
	s.persistLocked(ctx)
}

// SelectSession makes the named session current. No-op if it does not
// exist, so the selection can never dangle.
func (s *Store) SelectSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findLocked(sessionID) == nil {
		return
	}
	s.currentID = sessionID
}

// CurrentID returns the selected session id, or "" when none is
// selected.
func (s *Store) CurrentID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentID
}

// Current returns a copy of the selected session, if any.
func (s *Store) Current() (ChatSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess := s.findLocked(s.currentID)
	if sess == nil {
		return ChatSession{}, false
	}
	return sess.clone(), true
}

// Session returns a copy of the named session, if it exists.
func (s *Store) Session(sessionID string) (ChatSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess := s.findLocked(sessionID)
	if sess == nil {
		return ChatSession{}, false
	}
	return sess.clone(), true
}

// Sessions returns a deep copy of the in-memory collection, most
// recent first. Restricted sessions are included while they live in
// memory; they simply never reach the persister.
func (s *Store) Sessions() []ChatSession {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ChatSession, len(s.sessions))
	for i, sess := range s.sessions {
		out[i] = sess.clone()
	}
	return out
}

// Hydrate loads the persisted snapshot, drops any entries carrying the
// restricted sentinel title and, when nothing is currently selected,
// selects the most recent loaded session.
func (s *Store) Hydrate(ctx context.Context) error {
	loaded, err := s.persister.Load(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = s.sessions[:0]
	for _, sess := range loaded {
		if sess.Restricted() {
			continue
		}
		c := sess.clone()
		s.sessions = append(s.sessions, &c)
	}
	if s.currentID == "" && len(s.sessions) > 0 {
		s.currentID = s.sessions[0].ID
	}
	s.logger.Debug("store hydrated", "sessions", len(s.sessions))
	return nil
}

// findLocked returns the session with the given id, or nil. Caller
// must hold the mutex.
func (s *Store) findLocked(sessionID string) *ChatSession {
	if sessionID == "" {
		return nil
	}
	for _, sess := range s.sessions {
		if sess.ID == sessionID {
			return sess
		}
	}
	return nil
}

// persistLocked writes the full non-restricted collection to the
// persister. Caller must hold the mutex. Failures are logged only:
// the in-memory state stays authoritative and the next mutation will
// write a fresh snapshot anyway.
func (s *Store) persistLocked(ctx context.Context) {
	if s.persister == nil {
		return
	}
	snapshot := make([]ChatSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if sess.Restricted() {
			continue
		}
		snapshot = append(snapshot, sess.clone())
	}
	if err := s.persister.Save(ctx, snapshot); err != nil {
		s.logger.Warn("persisting sessions", "error", err)
	}
}
