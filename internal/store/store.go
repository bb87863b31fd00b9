package store

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/set-night/mindchat/internal/config"
	"github.com/set-night/mindchat/internal/domain"
)

// Store owns one AppState. It is the only mutation path into the sessions
// map; every mutation runs under a single lock and replaces whole session
// values, so readers never observe a half-applied update.
type Store struct {
	mu       sync.Mutex
	user     *domain.Profile
	current  string
	sessions map[string]domain.ChatSession
	model    domain.ModelID
	errText  string
	inFlight map[string]struct{} // session IDs with a turn in flight

	maxSessions int
	now         func() time.Time
	newID       func() string

	watchers  map[int]chan struct{}
	nextWatch int
}

// Options holds parameters for creating a Store.
type Options struct {
	MaxSessions int              // defaults to config.DefaultMaxSessions
	Now         func() time.Time // defaults to time.Now
	NewID       func() string    // defaults to uuid.NewString
}

func New(opts Options) *Store {
	maxSessions := opts.MaxSessions
	if maxSessions <= 0 {
		maxSessions = config.DefaultMaxSessions
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Store{
		sessions:    make(map[string]domain.ChatSession),
		model:       domain.DefaultModel,
		inFlight:    make(map[string]struct{}),
		maxSessions: maxSessions,
		now:         now,
		newID:       newID,
		watchers:    make(map[int]chan struct{}),
	}
}

// NewID allocates a fresh identifier from the store's generator.
func (s *Store) NewID() string {
	return s.newID()
}

// Now returns the store's clock reading.
func (s *Store) Now() time.Time {
	return s.now()
}

// ---------------------------------------------------------------------------
// Profile
// ---------------------------------------------------------------------------

// SetUser records the onboarded profile. A first session is created when
// none is current, so an active user always has somewhere to type.
func (s *Store) SetUser(p domain.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	s.user = &p
	if _, ok := s.sessions[s.current]; !ok {
		s.createSessionLocked()
	}
	s.notifyLocked()
}

func (s *Store) User() (domain.Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return domain.Profile{}, false
	}
	return *s.user, true
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// CreateSession inserts an empty session titled "New Chat" and makes it
// current. When the session limit is reached the least recently updated idle
// sessions are evicted first.
func (s *Store) CreateSession() domain.ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.createSessionLocked()
	s.notifyLocked()
	return sess.Clone()
}

func (s *Store) createSessionLocked() domain.ChatSession {
	s.evictLocked(s.maxSessions - 1)

	now := s.now()
	sess := domain.ChatSession{
		ID:        s.newID(),
		Title:     domain.DefaultSessionTitle,
		Messages:  []domain.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[sess.ID] = sess
	s.current = sess.ID
	return sess
}

// evictLocked drops idle sessions, oldest first, until at most keep remain.
// Sessions with a turn in flight are never evicted.
func (s *Store) evictLocked(keep int) {
	if len(s.sessions) <= keep {
		return
	}
	for _, sess := range s.sortedLocked(true) {
		if len(s.sessions) <= keep {
			return
		}
		if _, busy := s.inFlight[sess.ID]; busy {
			continue
		}
		delete(s.sessions, sess.ID)
		if s.current == sess.ID {
			s.current = ""
		}
	}
}

// SelectSession makes the session with the given ID current.
func (s *Store) SelectSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("select session %q: %w", id, domain.ErrSessionNotFound)
	}
	s.current = id
	s.notifyLocked()
	return nil
}

// DeleteSession removes a session. A session with a turn in flight cannot be
// deleted. When the current session goes away the most recently updated
// remaining session becomes current.
func (s *Store) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("delete session %q: %w", id, domain.ErrSessionNotFound)
	}
	if _, busy := s.inFlight[id]; busy {
		return fmt.Errorf("delete session %q: %w", id, domain.ErrTurnInFlight)
	}
	delete(s.sessions, id)
	if s.current == id {
		s.current = ""
		if rest := s.sortedLocked(false); len(rest) > 0 {
			s.current = rest[0].ID
		}
	}
	s.notifyLocked()
	return nil
}

// CurrentSession returns a copy of the active session.
func (s *Store) CurrentSession() (domain.ChatSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[s.current]
	if !ok {
		return domain.ChatSession{}, false
	}
	return sess.Clone(), true
}

func (s *Store) CurrentSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Store) Session(id string) (domain.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return domain.ChatSession{}, domain.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

// Sessions lists all sessions, most recently updated first.
func (s *Store) Sessions() []domain.ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.sortedLocked(false)
	for i := range list {
		list[i] = list[i].Clone()
	}
	return list
}

func (s *Store) sortedLocked(oldestFirst bool) []domain.ChatSession {
	list := slices.Collect(maps.Values(s.sessions))
	slices.SortFunc(list, func(a, b domain.ChatSession) int {
		c := a.UpdatedAt.Compare(b.UpdatedAt)
		if c == 0 {
			c = a.CreatedAt.Compare(b.CreatedAt)
		}
		if !oldestFirst {
			c = -c
		}
		return c
	})
	return list
}

// Message returns one message of a session.
func (s *Store) Message(sessionID, messageID string) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return domain.Message{}, domain.ErrSessionNotFound
	}
	i := sess.MessageIndex(messageID)
	if i < 0 {
		return domain.Message{}, domain.ErrMessageNotFound
	}
	m := sess.Messages[i]
	m.Attachments = slices.Clone(m.Attachments)
	return m, nil
}

// UpdateCurrentSession replaces the active session with fn applied to a copy
// of it. It reports false and changes nothing when no session is active or
// the active ID no longer resolves.
func (s *Store) UpdateCurrentSession(fn func(domain.ChatSession) domain.ChatSession) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == "" {
		return false
	}
	return s.updateLocked(s.current, fn)
}

// UpdateSession is UpdateCurrentSession for an explicit session ID.
func (s *Store) UpdateSession(id string, fn func(domain.ChatSession) domain.ChatSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.updateLocked(id, fn) {
		return fmt.Errorf("update session %q: %w", id, domain.ErrSessionNotFound)
	}
	return nil
}

func (s *Store) updateLocked(id string, fn func(domain.ChatSession) domain.ChatSession) bool {
	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	next := fn(sess.Clone())
	next.ID = sess.ID
	if len(next.Messages) > len(sess.Messages) {
		next.UpdatedAt = s.now()
	}
	s.sessions[id] = next
	s.notifyLocked()
	return true
}

// ---------------------------------------------------------------------------
// Model, generating flag and error banner
// ---------------------------------------------------------------------------

func (s *Store) SelectModel(id domain.ModelID) error {
	if _, err := domain.LookupModel(id); err != nil {
		return fmt.Errorf("select model %q: %w", id, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = id
	s.notifyLocked()
	return nil
}

func (s *Store) SelectedModel() domain.ModelID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// BeginTurn marks a session as generating. Only one turn per session may be
// in flight; a second call fails with ErrTurnInFlight until EndTurn.
func (s *Store) BeginTurn(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return domain.ErrSessionNotFound
	}
	if _, busy := s.inFlight[sessionID]; busy {
		return domain.ErrTurnInFlight
	}
	s.inFlight[sessionID] = struct{}{}
	s.notifyLocked()
	return nil
}

// EndTurn clears the generating mark of a session. It is safe to call more
// than once.
func (s *Store) EndTurn(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[sessionID]; !busy {
		return
	}
	delete(s.inFlight, sessionID)
	s.notifyLocked()
}

// Generating reports whether any turn is in flight.
func (s *Store) Generating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight) > 0
}

func (s *Store) SetError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errText = msg
	s.notifyLocked()
}

func (s *Store) DismissError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errText == "" {
		return
	}
	s.errText = ""
	s.notifyLocked()
}

// ---------------------------------------------------------------------------
// Read model
// ---------------------------------------------------------------------------

// Snapshot returns a deep copy of the whole state.
func (s *Store) Snapshot() domain.AppState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := domain.AppState{
		CurrentSessionID: s.current,
		Sessions:         make(map[string]domain.ChatSession, len(s.sessions)),
		SelectedModel:    s.model,
		Generating:       len(s.inFlight) > 0,
		Error:            s.errText,
	}
	if s.user != nil {
		u := *s.user
		st.User = &u
	}
	for id, sess := range s.sessions {
		st.Sessions[id] = sess.Clone()
	}
	return st
}

// Watch returns a channel that receives a signal after mutations. Signals
// coalesce: a slow reader sees at most one pending notification and should
// re-read the Snapshot. The returned func stops the watch and closes the
// channel.
func (s *Store) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	id := s.nextWatch
	s.nextWatch++
	s.watchers[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) notifyLocked() {
	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
