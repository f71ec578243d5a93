package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"styleauth/internal/trust"
)

// NewSessionID returns a random session identifier.
func NewSessionID() string { return uuid.NewString() }

// session is one stream of prompts. mu serializes every mutation of the
// machine and the limiter. lastSeen and inflight are guarded by the
// registry's mutex.
type session struct {
	mu       sync.Mutex
	id       string
	userID   string
	machine  *trust.Machine
	limiter  *rate.Limiter
	lastSeen time.Time
	inflight int
}

type registry struct {
	mu       sync.Mutex
	sessions map[string]*session
	params   trust.Params
	limit    rate.Limit
	burst    int
}

func newRegistry(params trust.Params, limit rate.Limit, burst int) *registry {
	return &registry{
		sessions: make(map[string]*session),
		params:   params,
		limit:    limit,
		burst:    burst,
	}
}

// acquire returns the session for id, creating it bound to userID, and
// marks it in flight until release. The caller must lock the session before
// using it.
func (r *registry) acquire(id, userID string, now time.Time) (*session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		if s.userID != userID {
			return nil, ErrSessionUserMismatch
		}
		s.lastSeen = now
		s.inflight++
		return s, nil
	}

	m, err := trust.NewMachine(r.params)
	if err != nil {
		return nil, err
	}
	s := &session{
		id:       id,
		userID:   userID,
		machine:  m,
		limiter:  rate.NewLimiter(r.limit, r.burst),
		lastSeen: now,
		inflight: 1,
	}
	r.sessions[id] = s
	return s, nil
}

// release ends the in-flight use begun by acquire.
func (r *registry) release(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.inflight--
}

func (r *registry) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// sweep drops sessions idle since before cutoff. A session between acquire
// and release is never idle.
func (r *registry) sweep(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, s := range r.sessions {
		if s.inflight == 0 && s.lastSeen.Before(cutoff) {
			delete(r.sessions, id)
			n++
		}
	}
	return n
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// snapshot returns the trust state of id, if present.
func (r *registry) snapshot(id string) (trust.State, bool) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return trust.State{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.State(), true
}
