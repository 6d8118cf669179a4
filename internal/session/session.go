// Package session holds the unlocked master key for the lifetime of a vault session.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kenneth/zk-vault/internal/crypto"
)

// ErrVaultLocked is returned when an operation needs the master key and none is held.
var ErrVaultLocked = errors.New("session: vault is locked")

// DefaultIdleTimeout locks an unlocked session after this long without activity.
const DefaultIdleTimeout = 10 * time.Minute

// LockReason records why a session was locked.
type LockReason string

const (
	LockReasonManual      LockReason = "manual"
	LockReasonIdleTimeout LockReason = "idle_timeout"
	LockReasonLogout      LockReason = "logout"
	LockReasonRotation    LockReason = "rotation"
)

// LockFunc is called after a session transitions from unlocked to locked.
type LockFunc func(reason LockReason)

// Session is a single-slot container for the master key and its salt. The slot is
// either empty or holds exactly one key. Readers always receive a copy so that
// clearing the slot cannot race with a key in use.
type Session struct {
	mu          sync.Mutex
	key         crypto.Key
	salt        crypto.Salt
	idleTimeout time.Duration
	timer       *time.Timer
	generation  uint64
	onLock      []LockFunc
	logger      *logrus.Logger
}

// New creates a locked session. A zero idleTimeout disables the inactivity lock.
func New(idleTimeout time.Duration, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	return &Session{
		idleTimeout: idleTimeout,
		logger:      logger,
	}
}

// OnLock registers fn to run whenever the session locks.
func (s *Session) OnLock(fn LockFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLock = append(s.onLock, fn)
}

// Unlock stores key and salt, replacing and zeroing any previous key, and arms the idle timer.
// The session takes ownership of key.
func (s *Session) Unlock(key crypto.Key, salt crypto.Salt) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.key != nil {
		s.key.Zero()
	}
	s.key = key
	s.salt = append(crypto.Salt(nil), salt...)
	s.armLocked()

	s.logger.WithField("idle_timeout", s.idleTimeout.String()).Debug("Vault session unlocked")
}

// MasterKey returns a copy of the held key, or ErrVaultLocked. Callers should zero the copy when done.
func (s *Session) MasterKey() (crypto.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key == nil {
		return nil, ErrVaultLocked
	}
	return s.key.Clone(), nil
}

// Salt returns the salt the held key was derived with.
func (s *Session) Salt() (crypto.Salt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key == nil {
		return nil, ErrVaultLocked
	}
	return append(crypto.Salt(nil), s.salt...), nil
}

// IsUnlocked reports whether a key is held.
func (s *Session) IsUnlocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key != nil
}

// Touch records user activity and pushes the idle deadline out by the full timeout.
// It is a no-op on a locked session.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key == nil {
		return
	}
	s.armLocked()
}

// Lock zeroes and clears the held key. Locking an already locked session does nothing.
func (s *Session) Lock(reason LockReason) {
	s.lock(reason, func() bool { return true })
}

// Close locks the session as a logout.
func (s *Session) Close() {
	s.Lock(LockReasonLogout)
}

func (s *Session) clearLocked() {
	s.key.Zero()
	s.key = nil
	s.salt = nil
	s.generation++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// armLocked restarts the idle timer. A timer that fires after being superseded sees a
// stale generation and does nothing.
func (s *Session) armLocked() {
	s.generation++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.idleTimeout <= 0 {
		return
	}
	gen := s.generation
	s.timer = time.AfterFunc(s.idleTimeout, func() {
		s.expire(gen)
	})
}

func (s *Session) expire(gen uint64) {
	s.lock(LockReasonIdleTimeout, func() bool { return s.generation == gen })
}

// lock clears the slot if it is occupied and cond holds, then runs the callbacks outside the mutex.
func (s *Session) lock(reason LockReason, cond func() bool) {
	s.mu.Lock()
	if s.key == nil || !cond() {
		s.mu.Unlock()
		return
	}
	s.clearLocked()
	callbacks := append([]LockFunc(nil), s.onLock...)
	s.mu.Unlock()

	s.logger.WithField("reason", string(reason)).Info("Vault session locked")
	for _, fn := range callbacks {
		fn(reason)
	}
}
