package drm

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/streamcore/hlscollector/internal/collab"
	"github.com/streamcore/hlscollector/internal/types"
)

type fakeSession int

type fakeBackend struct {
	mu        sync.Mutex
	installed map[[20]byte]fakeSession
	next      int32
	decryptFn func(sess collab.Session, buf []byte) ([]byte, error)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{installed: make(map[[20]byte]fakeSession)}
}

func (f *fakeBackend) SetMetadata(ctx context.Context, meta types.DrmMetadata, track types.TrackKind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.installed[meta.Sha1Hash] = fakeSession(f.next)
	return nil
}

func (f *fakeBackend) GetSession(hash [20]byte) (collab.Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.installed[hash]
	return sess, ok
}

func (f *fakeBackend) Decrypt(ctx context.Context, sess collab.Session, buf []byte, timeout time.Duration) ([]byte, error) {
	if f.decryptFn != nil {
		return f.decryptFn(sess, buf)
	}
	return buf, nil
}

func (f *fakeBackend) CancelKeyWait(sess collab.Session)    {}
func (f *fakeBackend) RestoreKeyState(sess collab.Session) {}

func TestSetMetadataIdempotentByHash(t *testing.T) {
	backend := newFakeBackend()
	c := New(backend, nil)
	meta := types.DrmMetadata{Bytes: []byte("x"), Sha1Hash: [20]byte{1}}

	if err := c.SetMetadata(context.Background(), meta, types.Video); err != nil {
		t.Fatal(err)
	}
	if err := c.SetMetadata(context.Background(), meta, types.Video); err != nil {
		t.Fatal(err)
	}
	if backend.next != 1 {
		t.Fatalf("backend installed %d times, want 1", backend.next)
	}
}

func TestDecryptSameSessionSerialized(t *testing.T) {
	backend := newFakeBackend()
	var active int32
	var maxActive int32
	backend.decryptFn = func(sess collab.Session, buf []byte) ([]byte, error) {
		n := atomic.AddInt32(&active, 1)
		if n > atomic.LoadInt32(&maxActive) {
			atomic.StoreInt32(&maxActive, n)
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return buf, nil
	}
	c := New(backend, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Decrypt(context.Background(), fakeSession(1), []byte("data"), time.Second)
		}()
	}
	wg.Wait()
	if maxActive != 1 {
		t.Fatalf("max concurrent decrypts for one session=%d, want 1", maxActive)
	}
}

func TestDecryptDifferentSessionsConcurrent(t *testing.T) {
	backend := newFakeBackend()
	var active int32
	var maxActive int32
	backend.decryptFn = func(sess collab.Session, buf []byte) ([]byte, error) {
		n := atomic.AddInt32(&active, 1)
		if n > atomic.LoadInt32(&maxActive) {
			atomic.StoreInt32(&maxActive, n)
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return buf, nil
	}
	c := New(backend, nil)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			_, _ = c.Decrypt(context.Background(), fakeSession(s), []byte("data"), time.Second)
		}(i)
	}
	wg.Wait()
	if maxActive < 2 {
		t.Fatalf("expected concurrent decrypts across distinct sessions, maxActive=%d", maxActive)
	}
}

func TestScheduleDeferredOnlyOnePending(t *testing.T) {
	backend := newFakeBackend()
	c := New(backend, nil)
	ok1 := c.ScheduleDeferred(types.DrmMetadata{Sha1Hash: [20]byte{1}}, types.Video, time.Now().Add(time.Second))
	ok2 := c.ScheduleDeferred(types.DrmMetadata{Sha1Hash: [20]byte{2}}, types.Video, time.Now().Add(time.Second))
	if !ok1 || ok2 {
		t.Fatalf("ok1=%v ok2=%v, want true,false", ok1, ok2)
	}
}

func TestPromoteDueDeferred(t *testing.T) {
	backend := newFakeBackend()
	c := New(backend, nil)
	past := time.Now().Add(-time.Second)
	c.ScheduleDeferred(types.DrmMetadata{Sha1Hash: [20]byte{9}}, types.Audio, past)

	node, track, due := c.PromoteDueDeferred(time.Now())
	if !due || node.Sha1Hash != ([20]byte{9}) || track != types.Audio {
		t.Fatalf("due=%v node=%v track=%v", due, node, track)
	}
	_, _, due = c.PromoteDueDeferred(time.Now())
	if due {
		t.Fatalf("expected no pending deferred after promotion")
	}
}

func TestProcessMetadataMultiAcquiresCurrentOnly(t *testing.T) {
	backend := newFakeBackend()
	c := New(backend, nil)
	mp := &types.MediaPlaylist{
		DrmMetadata: []types.DrmMetadataNode{
			{Sha1Hash: [20]byte{1}},
			{Sha1Hash: [20]byte{2}},
			{Sha1Hash: [20]byte{3}},
		},
	}
	lazy, err := c.ProcessMetadata(context.Background(), mp, 1, types.Video, true)
	if err != nil {
		t.Fatal(err)
	}
	if backend.next != 1 {
		t.Fatalf("installed=%d, want 1", backend.next)
	}
	if len(lazy) != 2 {
		t.Fatalf("lazy=%v", lazy)
	}
}
