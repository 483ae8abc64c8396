// Package drm implements the DRM coordinator (spec.md §4.3): license
// acquisition bookkeeping and serialized decrypt dispatch against the
// external collab.DRMBackend, plus the single process-wide deferred
// acquisition slot described in spec.md §3 (DeferredDrmState).
package drm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/streamcore/hlscollector/internal/collab"
	"github.com/streamcore/hlscollector/internal/tuning"
	"github.com/streamcore/hlscollector/internal/types"
)

var (
	// ErrKeyAcquisitionTimeout / ErrDecryptFailed are the two decrypt
	// outcomes spec.md §4.3/§7 name explicitly.
	ErrKeyAcquisitionTimeout = errors.New("hlscollector: key acquisition timeout")
	ErrDecryptFailed         = errors.New("hlscollector: decrypt failed")
)

// DeferredState is the process-wide deferred-acquisition record
// (spec.md §3's DeferredDrmState). Exactly one deferred acquisition may
// be pending at a time, enforced by Coordinator under its mutex.
type DeferredState struct {
	PendingHash        [20]byte
	PendingMetadata    types.DrmMetadata
	PendingTrack       types.TrackKind
	HasPending         bool
	FireAt             time.Time
	RequestPending     bool
	TagUnderProcessing bool
}

// Coordinator serializes bookkeeping calls against the DRM back-end
// behind one process-wide mutex, while allowing decrypt calls for
// distinct sessions to run concurrently (spec.md §5: "no two decrypts
// proceed concurrently for the same session, but different sessions
// may decrypt concurrently").
type Coordinator struct {
	backend collab.DRMBackend
	logger  collab.Logger
	clock   func() time.Time

	mu        sync.Mutex
	installed map[[20]byte]collab.Session
	acquiring map[[20]byte]bool
	deferred  DeferredState

	sessionLocksMu sync.Mutex
	sessionLocks   map[collab.Session]*sync.Mutex
}

func New(backend collab.DRMBackend, logger collab.Logger) *Coordinator {
	if logger == nil {
		logger = collab.NopLogger{}
	}
	return &Coordinator{
		backend:      backend,
		logger:       logger,
		clock:        time.Now,
		installed:    make(map[[20]byte]collab.Session),
		acquiring:    make(map[[20]byte]bool),
		sessionLocks: make(map[collab.Session]*sync.Mutex),
	}
}

// SetClock overrides the wall clock used for deferred-acquisition
// scheduling, for deterministic tests.
func (c *Coordinator) SetClock(clock func() time.Time) { c.clock = clock }

// SetMetadata submits a metadata blob for license acquisition.
// Idempotent by hash (spec.md §4.3).
func (c *Coordinator) SetMetadata(ctx context.Context, meta types.DrmMetadata, track types.TrackKind) error {
	c.mu.Lock()
	if _, ok := c.installed[meta.Sha1Hash]; ok {
		c.mu.Unlock()
		return nil
	}
	if c.acquiring[meta.Sha1Hash] {
		c.mu.Unlock()
		return nil
	}
	c.acquiring[meta.Sha1Hash] = true
	c.mu.Unlock()

	err := c.backend.SetMetadata(ctx, meta, track)

	c.mu.Lock()
	delete(c.acquiring, meta.Sha1Hash)
	if err == nil {
		if sess, ok := c.backend.GetSession(meta.Sha1Hash); ok {
			c.installed[meta.Sha1Hash] = sess
		}
	}
	c.mu.Unlock()
	return err
}

// GetSession returns an installed session, if any.
func (c *Coordinator) GetSession(hash [20]byte) (collab.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.installed[hash]
	if ok {
		return sess, true
	}
	return c.backend.GetSession(hash)
}

// Decrypt performs an in-place decrypt with a bounded wait, serialized
// per-session but not globally.
func (c *Coordinator) Decrypt(ctx context.Context, sess collab.Session, buf []byte, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = tuning.MaxLicenseAcqWaitTime
	}
	lock := c.sessionLock(sess)
	lock.Lock()
	defer lock.Unlock()

	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := c.backend.Decrypt(dctx, sess, buf, timeout)
	if err != nil {
		if errors.Is(dctx.Err(), context.DeadlineExceeded) {
			return nil, ErrKeyAcquisitionTimeout
		}
		return nil, ErrDecryptFailed
	}
	return out, nil
}

func (c *Coordinator) sessionLock(sess collab.Session) *sync.Mutex {
	c.sessionLocksMu.Lock()
	defer c.sessionLocksMu.Unlock()
	lock, ok := c.sessionLocks[sess]
	if !ok {
		lock = &sync.Mutex{}
		c.sessionLocks[sess] = lock
	}
	return lock
}

// CancelKeyWait / RestoreKeyState are used during shutdown and re-tune.
func (c *Coordinator) CancelKeyWait(sess collab.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backend.CancelKeyWait(sess)
}

func (c *Coordinator) RestoreKeyState(sess collab.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backend.RestoreKeyState(sess)
}

// Dump is a diagnostic print of coordinator state.
func (c *Coordinator) Dump() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprintf("drm.Coordinator{installed=%d acquiring=%d deferredPending=%v}",
		len(c.installed), len(c.acquiring), c.deferred.HasPending)
}
