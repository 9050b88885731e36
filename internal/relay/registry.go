package relay

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/drobiss/ChatOnWrist-sub000/domain/entities"
	"github.com/drobiss/ChatOnWrist-sub000/domain/repositories"
)

// Options bound the relay core's buffering and timing behavior.
type Options struct {
	// HistoryMax caps replayed conversation history to the most recent N
	// turns.
	HistoryMax int

	// PendingQueueMax caps audio chunks queued while the upstream is still
	// connecting.
	PendingQueueMax int

	// CloseGrace is how long the upstream stays open after an
	// end-of-conversation signal so the final response can arrive.
	CloseGrace time.Duration
}

func (o Options) withDefaults() Options {
	if o.HistoryMax == 0 {
		o.HistoryMax = 20
	}
	if o.PendingQueueMax == 0 {
		o.PendingQueueMax = 256
	}
	if o.CloseGrace == 0 {
		o.CloseGrace = 2 * time.Second
	}
	return o
}

// Registry is the single source of truth for session existence. It enforces
// at most one live session per conversation id; mutations for the same id
// are serialized by a per-id lock so unrelated conversations never contend.
type Registry struct {
	provider repositories.RealtimeProvider
	cfg      repositories.SessionConfig
	opts     Options
	logger   *zap.Logger

	mu       sync.Mutex
	locks    map[string]*idLock
	sessions map[string]*Session
}

// idLock is a refcounted per-conversation mutex, dropped from the map once
// the last holder releases it.
type idLock struct {
	mu   sync.Mutex
	refs int
}

// NewRegistry creates a session registry backed by the given provider.
func NewRegistry(
	provider repositories.RealtimeProvider,
	cfg repositories.SessionConfig,
	opts Options,
	logger *zap.Logger,
) *Registry {
	return &Registry{
		provider: provider,
		cfg:      cfg,
		opts:     opts.withDefaults(),
		logger:   logger,
		locks:    make(map[string]*idLock),
		sessions: make(map[string]*Session),
	}
}

func (r *Registry) lockID(id string) *idLock {
	r.mu.Lock()
	l := r.locks[id]
	if l == nil {
		l = &idLock{}
		r.locks[id] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return l
}

func (r *Registry) unlockID(id string, l *idLock) {
	l.mu.Unlock()
	r.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(r.locks, id)
	}
	r.mu.Unlock()
}

// Start creates a session for the conversation id, tearing down any
// existing one first: a reconnecting client supersedes its stale session,
// and the old upstream connection is fully closed before the new one opens.
// An empty conversation id gets a server-generated one. The returned handle
// is usable immediately; audio is queued until the upstream reports ready.
func (r *Registry) Start(
	conversationID string,
	device entities.DeviceIdentity,
	history []entities.ConversationTurn,
) *Session {
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	history = entities.CapHistory(history, r.opts.HistoryMax)

	l := r.lockID(conversationID)
	defer r.unlockID(conversationID, l)

	r.mu.Lock()
	old := r.sessions[conversationID]
	delete(r.sessions, conversationID)
	r.mu.Unlock()

	if old != nil {
		r.logger.Info("replacing existing session",
			zap.String("conversationID", conversationID),
			zap.String("deviceID", device.DeviceID))
		old.Close()
	}

	info := entities.SessionInfo{
		ConversationID: conversationID,
		Device:         device,
		CreatedAt:      time.Now(),
	}
	var sess *Session
	sess = newSession(info, r.provider, r.cfg, r.opts, r.logger, func() {
		r.removeSession(conversationID, sess)
	})

	r.mu.Lock()
	r.sessions[conversationID] = sess
	r.mu.Unlock()

	sess.begin(history)

	r.logger.Info("session started",
		zap.String("conversationID", conversationID),
		zap.String("deviceID", device.DeviceID),
		zap.Int("historyTurns", len(history)))

	return sess
}

// Get returns the live session for a conversation id, if any.
func (r *Registry) Get(conversationID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[conversationID]
	return sess, ok
}

// End gracefully ends the session for a conversation id. Unknown ids are a
// no-op; calling twice is safe.
func (r *Registry) End(conversationID string) {
	l := r.lockID(conversationID)
	defer r.unlockID(conversationID, l)

	r.mu.Lock()
	sess := r.sessions[conversationID]
	r.mu.Unlock()

	if sess == nil {
		return
	}
	sess.End()
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Drain ends every live session and waits for them to close, bounded by the
// context. Used on process shutdown.
func (r *Registry) Drain(ctx context.Context) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}
	for _, sess := range sessions {
		select {
		case <-sess.Done():
		case <-ctx.Done():
			r.logger.Warn("drain timed out",
				zap.String("conversationID", sess.ID()))
			return
		}
	}
}

func (r *Registry) removeSession(conversationID string, sess *Session) {
	r.mu.Lock()
	if r.sessions[conversationID] == sess {
		delete(r.sessions, conversationID)
	}
	r.mu.Unlock()
}
