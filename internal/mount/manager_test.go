package mount

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drivefs/drivefs/internal/bridge"
	"github.com/drivefs/drivefs/internal/storage/mem"
	derrors "github.com/drivefs/drivefs/pkg/errors"
)

type fakeTransport struct {
	mu         sync.Mutex
	serves     int
	unmounts   int
	detaches   int
	serveErr   error
	unmountErr error
	detachErr  error
	exit       chan struct{}
	exitOnce   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{exit: make(chan struct{})}
}

func (f *fakeTransport) Serve(ctx context.Context, session *bridge.Session, opts Options) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.serves++
	return f.serveErr
}

func (f *fakeTransport) Unmount() error {
	f.mu.Lock()
	f.unmounts++
	err := f.unmountErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.kernelExit()
	return nil
}

func (f *fakeTransport) Detach(string) error {
	f.mu.Lock()
	f.detaches++
	err := f.detachErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.kernelExit()
	return nil
}

func (f *fakeTransport) Wait() {
	<-f.exit
}

// kernelExit simulates the kernel connection ending.
func (f *fakeTransport) kernelExit() {
	f.exitOnce.Do(func() { close(f.exit) })
}

func (f *fakeTransport) counts() (serves, unmounts, detaches int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.serves, f.unmounts, f.detaches
}

func newTestManager(t *testing.T, transport Transport) (*Manager, *mem.Drive) {
	t.Helper()
	drive, err := mem.New(mem.Config{})
	require.NoError(t, err)

	mgr := NewManager(drive, Options{
		MountPath: filepath.Join(t.TempDir(), "mnt"),
		LockPath:  filepath.Join(t.TempDir(), "drivefs.lock"),
	}, nil, nil)
	mgr.newTransport = func(*log.Entry) Transport { return transport }
	return mgr, drive
}

func errorCode(t *testing.T, err error) derrors.ErrorCode {
	t.Helper()
	var dfsErr *derrors.DriveFSError
	require.ErrorAs(t, err, &dfsErr)
	return dfsErr.Code
}

func TestMountTransitionsToMounted(t *testing.T) {
	transport := newFakeTransport()
	mgr, drive := newTestManager(t, transport)

	require.Equal(t, StateUnmounted, mgr.State())

	res, err := mgr.Mount(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateMounted, mgr.State())

	assert.Equal(t, mgr.opts.MountPath, res.MountPath)
	assert.NotNil(t, res.Handlers)
	assert.Same(t, mgr.Session(), res.Handlers)
	assert.Equal(t, hex.EncodeToString(drive.Key()), res.Key)
	assert.Equal(t, drive, res.Drive)

	serves, _, _ := transport.counts()
	assert.Equal(t, 1, serves)

	// Mount point directory exists after mounting.
	fi, err := os.Stat(res.MountPath)
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
}

func TestMountFailsFastWhenAlreadyMounted(t *testing.T) {
	transport := newFakeTransport()
	mgr, _ := newTestManager(t, transport)

	_, err := mgr.Mount(context.Background())
	require.NoError(t, err)

	_, err = mgr.Mount(context.Background())
	require.Error(t, err)
	assert.Equal(t, derrors.ErrCodeAlreadyMounted, errorCode(t, err))

	serves, _, _ := transport.counts()
	assert.Equal(t, 1, serves, "second mount must fail before reaching the transport")
	assert.Equal(t, StateMounted, mgr.State())
}

func TestMountLockRejectsSecondProcess(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "shared.lock")

	first, _ := newTestManager(t, newFakeTransport())
	first.opts.LockPath = lockPath
	second, _ := newTestManager(t, newFakeTransport())
	second.opts.LockPath = lockPath

	_, err := first.Mount(context.Background())
	require.NoError(t, err)

	_, err = second.Mount(context.Background())
	require.Error(t, err)
	assert.Equal(t, derrors.ErrCodeAlreadyMounted, errorCode(t, err))
	assert.Equal(t, derrors.EBUSY, derrors.ErrnoOf(err))
	assert.Equal(t, StateUnmounted, second.State())

	// The lock is released with the first mount, then the second can have it.
	require.NoError(t, first.Unmount(context.Background()))
	_, err = second.Mount(context.Background())
	require.NoError(t, err)
}

func TestMountFailureReturnsToUnmounted(t *testing.T) {
	transport := newFakeTransport()
	transport.serveErr = derrors.NewError(derrors.ErrCodeMountFailed, "no fuse device")
	mgr, _ := newTestManager(t, transport)

	_, err := mgr.Mount(context.Background())
	require.Error(t, err)
	assert.Equal(t, derrors.ErrCodeMountFailed, errorCode(t, err))
	assert.Equal(t, StateUnmounted, mgr.State())

	// The lock was released, so a retry reaches the transport again.
	transport.serveErr = nil
	_, err = mgr.Mount(context.Background())
	require.NoError(t, err)

	serves, _, _ := transport.counts()
	assert.Equal(t, 2, serves)
}

type notReadyDrive struct {
	*mem.Drive
	err error
}

func (d *notReadyDrive) Ready(ctx context.Context) error {
	return d.err
}

func TestDriveNotReadyAbortsMount(t *testing.T) {
	inner, err := mem.New(mem.Config{})
	require.NoError(t, err)
	drive := &notReadyDrive{
		Drive: inner,
		err:   derrors.NewError(derrors.ErrCodeConnectionFailed, "backend unreachable"),
	}

	transport := newFakeTransport()
	mgr := NewManager(drive, Options{
		MountPath: filepath.Join(t.TempDir(), "mnt"),
		LockPath:  filepath.Join(t.TempDir(), "drivefs.lock"),
	}, nil, nil)
	mgr.newTransport = func(*log.Entry) Transport { return transport }

	_, err = mgr.Mount(context.Background())
	require.Error(t, err)
	assert.Equal(t, derrors.ErrCodeNotReady, errorCode(t, err))
	assert.Equal(t, StateUnmounted, mgr.State())

	serves, _, _ := transport.counts()
	assert.Zero(t, serves, "an unready drive must never reach the kernel")
}

func TestUnmountRequiresMounted(t *testing.T) {
	mgr, _ := newTestManager(t, newFakeTransport())

	err := mgr.Unmount(context.Background())
	require.Error(t, err)
	assert.Equal(t, derrors.ErrCodeNotMounted, errorCode(t, err))
}

func TestFailedUnmountStaysMounted(t *testing.T) {
	transport := newFakeTransport()
	transport.unmountErr = derrors.NewError(derrors.ErrCodeUnmountFailed, "target is busy")
	transport.detachErr = derrors.NewError(derrors.ErrCodeUnmountFailed, "still busy")
	mgr, _ := newTestManager(t, transport)

	_, err := mgr.Mount(context.Background())
	require.NoError(t, err)

	err = mgr.Unmount(context.Background())
	require.Error(t, err)
	assert.Equal(t, derrors.ErrCodeUnmountFailed, errorCode(t, err))
	assert.Equal(t, StateMounted, mgr.State())
	assert.NotNil(t, mgr.Session(), "a failed unmount leaves the filesystem serving")

	// Once the kernel lets go, unmounting completes.
	transport.mu.Lock()
	transport.unmountErr = nil
	transport.mu.Unlock()
	require.NoError(t, mgr.Unmount(context.Background()))
	assert.Equal(t, StateUnmounted, mgr.State())
}

func TestUnmountFallsBackToDetach(t *testing.T) {
	transport := newFakeTransport()
	transport.unmountErr = derrors.NewError(derrors.ErrCodeUnmountFailed, "target is busy")
	mgr, _ := newTestManager(t, transport)

	_, err := mgr.Mount(context.Background())
	require.NoError(t, err)

	require.NoError(t, mgr.Unmount(context.Background()))
	assert.Equal(t, StateUnmounted, mgr.State())

	_, unmounts, detaches := transport.counts()
	assert.Equal(t, 1, unmounts)
	assert.Equal(t, 1, detaches)
}

func TestUnmountLeavesDriveServiceable(t *testing.T) {
	mgr, drive := newTestManager(t, newFakeTransport())
	mgr.newTransport = func(*log.Entry) Transport { return newFakeTransport() }

	ctx := context.Background()
	_, err := mgr.Mount(ctx)
	require.NoError(t, err)
	require.NoError(t, drive.Create(ctx, "/kept.txt", 0o644, 1000, 1000))
	require.NoError(t, mgr.Unmount(ctx))

	// The drive keeps its state and stays usable after unmounting.
	st, err := drive.Stat(ctx, "/kept.txt")
	require.NoError(t, err)
	assert.True(t, st.IsRegular())

	// And the same manager can mount it again.
	res, err := mgr.Mount(ctx)
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(drive.Key()), res.Key)
	require.NoError(t, mgr.Unmount(ctx))
}

func TestExternalDetachObserved(t *testing.T) {
	transport := newFakeTransport()
	mgr, _ := newTestManager(t, transport)

	_, err := mgr.Mount(context.Background())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		mgr.Wait()
		close(done)
	}()

	transport.kernelExit()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not observe the kernel connection ending")
	}
	require.Eventually(t, func() bool {
		return mgr.State() == StateUnmounted
	}, 5*time.Second, 10*time.Millisecond)
	assert.Nil(t, mgr.Session())
}

func TestSessionIdentityCapturedAtMount(t *testing.T) {
	mgr, _ := newTestManager(t, newFakeTransport())

	res, err := mgr.Mount(context.Background())
	require.NoError(t, err)

	st, errno := res.Handlers.Getattr(context.Background(), "/")
	require.Zero(t, errno)
	assert.Equal(t, uint32(os.Getuid()), st.UID)
	assert.Equal(t, uint32(os.Getgid()), st.GID)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unmounted", StateUnmounted.String())
	assert.Equal(t, "mounting", StateMounting.String())
	assert.Equal(t, "mounted", StateMounted.String())
	assert.Equal(t, "unmounting", StateUnmounting.String())
}

func writeMountTable(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mounts")
	require.NoError(t, os.WriteFile(path, []byte(lines), 0o644))
	return path
}

func TestInMountTable(t *testing.T) {
	fixture := writeMountTable(t,
		"drivefs /mnt/drive fuse.drivefs rw,nosuid,nodev 0 0\n"+
			"tmpfs /tmp tmpfs rw 0 0\n")

	orig := procMounts
	procMounts = fixture
	defer func() { procMounts = orig }()

	listed, ok := InMountTable("/mnt/drive")
	assert.True(t, ok)
	assert.True(t, listed)

	listed, ok = InMountTable("/mnt/other")
	assert.True(t, ok)
	assert.False(t, listed)

	procMounts = filepath.Join(t.TempDir(), "missing")
	_, ok = InMountTable("/mnt/drive")
	assert.False(t, ok)
}

func TestWatcherReportsDrift(t *testing.T) {
	logger, hook := test.NewNullLogger()

	mgr, _ := newTestManager(t, newFakeTransport())
	mgr.logger = log.NewEntry(logger)

	fixture := writeMountTable(t, "tmpfs /tmp tmpfs rw 0 0\n")
	orig := procMounts
	procMounts = fixture
	defer func() { procMounts = orig }()

	watcher := NewWatcher(mgr, time.Minute)

	// Unmounted and absent from the table: quiet.
	watcher.check()
	assert.Empty(t, hook.Entries)

	// Mounted but missing from the table: drift.
	_, err := mgr.Mount(context.Background())
	require.NoError(t, err)
	watcher.check()
	require.NotEmpty(t, hook.Entries)
	assert.Equal(t, log.WarnLevel, hook.LastEntry().Level)
	assert.Contains(t, hook.LastEntry().Message, "missing from the kernel mount table")
}

func TestWatcherStartStop(t *testing.T) {
	mgr, _ := newTestManager(t, newFakeTransport())
	watcher := NewWatcher(mgr, 10*time.Millisecond)

	watcher.Start()
	time.Sleep(30 * time.Millisecond)
	watcher.Stop()
}
