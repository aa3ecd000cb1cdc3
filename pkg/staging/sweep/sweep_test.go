package sweep_test

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagefs/stagefs/pkg/catalog/models"
	"github.com/stagefs/stagefs/pkg/catalog/store"
	"github.com/stagefs/stagefs/pkg/staging/events"
	"github.com/stagefs/stagefs/pkg/staging/lock"
	"github.com/stagefs/stagefs/pkg/staging/quota"
	"github.com/stagefs/stagefs/pkg/staging/resource"
	"github.com/stagefs/stagefs/pkg/staging/spool"
	"github.com/stagefs/stagefs/pkg/staging/sweep"
	"github.com/stagefs/stagefs/pkg/state/badger"
)

type checkerFunc func(ctx context.Context, project, path string) (bool, error)

func (f checkerFunc) Referenced(ctx context.Context, project, path string) (bool, error) {
	return f(ctx, project, path)
}

type testEnv struct {
	catalog *store.GORMStore
	state   *badger.Store
	spool   *spool.Spool
	ledger  *quota.Ledger
	locks   *lock.Manager
	sweeper *sweep.Sweeper

	mu     sync.Mutex
	events []events.Event
}

func newTestEnv(t *testing.T, cfg sweep.Config, refs sweep.ReferenceChecker) *testEnv {
	t.Helper()

	catalog, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = catalog.Close() })

	stateStore, err := badger.New(badger.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = stateStore.Close() })

	sp, err := spool.New(spool.Config{Root: t.TempDir()})
	require.NoError(t, err)

	env := &testEnv{
		catalog: catalog,
		state:   stateStore,
		spool:   sp,
		ledger:  quota.NewLedger(catalog, nil),
		locks: lock.NewManager(stateStore, lock.Config{
			TTL:            time.Minute,
			AcquireTimeout: 100 * time.Millisecond,
			PollInterval:   10 * time.Millisecond,
		}, nil),
	}

	bus := events.NewBus()
	bus.Subscribe(func(_ context.Context, event events.Event) {
		env.mu.Lock()
		defer env.mu.Unlock()
		env.events = append(env.events, event)
	})

	env.sweeper = sweep.New(catalog, sp, env.locks, env.ledger, bus, refs, cfg, nil)
	return env
}

func (e *testEnv) createProject(t *testing.T, id string, quotaBytes int64) {
	t.Helper()
	err := e.catalog.CreateProject(context.Background(), &models.Project{
		ID:         id,
		QuotaBytes: quotaBytes,
	})
	require.NoError(t, err)
}

// storeCommittedFile lands a file the way a finished upload would: content
// in the durable tree, committed bytes charged, record in the catalog.
func (e *testEnv) storeCommittedFile(t *testing.T, project, name string, content []byte, storedAt time.Time) *models.FileRecord {
	t.Helper()
	ctx := context.Background()

	path, err := resource.ParseFile(name)
	require.NoError(t, err)

	hold, err := e.ledger.Reserve(ctx, project, int64(len(content)))
	require.NoError(t, err)

	ws := e.spool.Workspace(uuid.NewString())
	f, err := ws.CreateScratch("payload")
	require.NoError(t, err)
	_, err = f.Write(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, e.spool.Publish(f.Name(), project, path))
	require.NoError(t, ws.Remove())

	require.NoError(t, e.ledger.Commit(ctx, hold, int64(len(content))))

	sum := md5.Sum(content)
	record := &models.FileRecord{
		ID:        uuid.NewString(),
		ProjectID: project,
		Path:      path.String(),
		Size:      int64(len(content)),
		Checksum:  "md5:" + hex.EncodeToString(sum[:]),
		Source:    models.FileSourceUpload,
		StoredAt:  storedAt,
	}
	_, err = e.catalog.CreateFile(ctx, record)
	require.NoError(t, err)
	return record
}

func (e *testEnv) usage(t *testing.T, project string) (reserved, committed int64) {
	t.Helper()
	p, err := e.catalog.GetProject(context.Background(), project)
	require.NoError(t, err)
	return p.ReservedBytes, p.CommittedBytes
}

func (e *testEnv) assertLeaseFree(t *testing.T, project, p string) {
	t.Helper()
	ctx := context.Background()
	path, err := resource.ParseFile(p)
	require.NoError(t, err)
	guard, err := e.locks.Acquire(ctx, project, path)
	require.NoError(t, err, "lease on %s should be free", p)
	require.NoError(t, e.locks.Release(ctx, guard))
}

func (e *testEnv) deletedEvents() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, event := range e.events {
		if event.Type == events.TypeFileDeleted {
			n++
		}
	}
	return n
}

func TestPurgeFiles(t *testing.T) {
	ctx := context.Background()

	t.Run("purges files past retention", func(t *testing.T) {
		env := newTestEnv(t, sweep.Config{FileRetention: time.Hour}, nil)
		env.createProject(t, "proj", 1000)
		env.storeCommittedFile(t, "proj", "old/data.bin", []byte("stale bytes"), time.Now().Add(-2*time.Hour))

		report, err := env.sweeper.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.FilesPurged)
		assert.Equal(t, int64(len("stale bytes")), report.BytesPurged)

		_, err = env.catalog.GetFile(ctx, "proj", "old/data.bin")
		assert.ErrorIs(t, err, models.ErrFileNotFound)

		path, err := resource.ParseFile("old/data.bin")
		require.NoError(t, err)
		_, err = os.Stat(env.spool.FilePath("proj", path))
		assert.True(t, os.IsNotExist(err))

		_, committed := env.usage(t, "proj")
		assert.Equal(t, int64(0), committed)
		assert.Equal(t, 1, env.deletedEvents())
		env.assertLeaseFree(t, "proj", "old/data.bin")
	})

	t.Run("keeps files inside retention", func(t *testing.T) {
		env := newTestEnv(t, sweep.Config{FileRetention: time.Hour}, nil)
		env.createProject(t, "proj", 1000)
		env.storeCommittedFile(t, "proj", "fresh.bin", []byte("young"), time.Now().Add(-10*time.Minute))

		report, err := env.sweeper.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, report.FilesPurged)

		_, err = env.catalog.GetFile(ctx, "proj", "fresh.bin")
		require.NoError(t, err)
		_, committed := env.usage(t, "proj")
		assert.Equal(t, int64(len("young")), committed)
	})

	t.Run("skips candidates on busy subtrees", func(t *testing.T) {
		env := newTestEnv(t, sweep.Config{FileRetention: time.Hour}, nil)
		env.createProject(t, "proj", 1000)
		env.storeCommittedFile(t, "proj", "busy/data.bin", []byte("held"), time.Now().Add(-2*time.Hour))

		dir, err := resource.ParseDir("busy")
		require.NoError(t, err)
		guard, err := env.locks.Acquire(ctx, "proj", dir)
		require.NoError(t, err)
		defer func() { _ = env.locks.Release(ctx, guard) }()

		report, err := env.sweeper.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, report.FilesPurged)

		_, err = env.catalog.GetFile(ctx, "proj", "busy/data.bin")
		require.NoError(t, err)
	})

	t.Run("never purges referenced files", func(t *testing.T) {
		refs := checkerFunc(func(_ context.Context, _, path string) (bool, error) {
			return path == "kept/data.bin", nil
		})
		env := newTestEnv(t, sweep.Config{FileRetention: time.Hour}, refs)
		env.createProject(t, "proj", 1000)
		env.storeCommittedFile(t, "proj", "kept/data.bin", []byte("preserved"), time.Now().Add(-48*time.Hour))
		env.storeCommittedFile(t, "proj", "loose/data.bin", []byte("expired"), time.Now().Add(-48*time.Hour))

		report, err := env.sweeper.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.FilesPurged)

		_, err = env.catalog.GetFile(ctx, "proj", "kept/data.bin")
		require.NoError(t, err)
		_, err = env.catalog.GetFile(ctx, "proj", "loose/data.bin")
		assert.ErrorIs(t, err, models.ErrFileNotFound)
	})

	t.Run("keeps files when the reference check fails", func(t *testing.T) {
		refs := checkerFunc(func(context.Context, string, string) (bool, error) {
			return false, errors.New("dataset system unreachable")
		})
		env := newTestEnv(t, sweep.Config{FileRetention: time.Hour}, refs)
		env.createProject(t, "proj", 1000)
		env.storeCommittedFile(t, "proj", "unsure.bin", []byte("maybe"), time.Now().Add(-2*time.Hour))

		report, err := env.sweeper.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, report.FilesPurged)

		_, err = env.catalog.GetFile(ctx, "proj", "unsure.bin")
		require.NoError(t, err)
		env.assertLeaseFree(t, "proj", "unsure.bin")
	})
}

func TestExpireSessions(t *testing.T) {
	ctx := context.Background()

	t.Run("abandons sessions idle past the window", func(t *testing.T) {
		env := newTestEnv(t, sweep.Config{SessionIdleAge: 100 * time.Millisecond}, nil)
		env.createProject(t, "proj", 1000)

		path, err := resource.ParseFile("slow/upload.bin")
		require.NoError(t, err)
		guard, err := env.locks.Acquire(ctx, "proj", path)
		require.NoError(t, err)
		hold, err := env.ledger.Reserve(ctx, "proj", 100)
		require.NoError(t, err)

		session := &models.UploadSession{
			ID:            uuid.NewString(),
			ProjectID:     "proj",
			Path:          path.String(),
			Kind:          string(models.UploadKindFile),
			State:         string(models.UploadStateActive),
			Size:          100,
			ReservedBytes: 100,
			LeaseID:       guard.LeaseID,
			Holder:        guard.Holder,
			ReservationID: hold.ID,
		}
		require.NoError(t, env.catalog.CreateUpload(ctx, session))
		_, err = env.spool.Workspace(session.ID).AppendAt(0, bytes.NewReader([]byte("partial")))
		require.NoError(t, err)

		time.Sleep(300 * time.Millisecond)

		report, err := env.sweeper.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.SessionsExpired)

		_, err = env.catalog.GetUpload(ctx, session.ID)
		assert.ErrorIs(t, err, models.ErrUploadNotFound)

		reserved, _ := env.usage(t, "proj")
		assert.Equal(t, int64(0), reserved)

		_, err = os.Stat(env.spool.Workspace(session.ID).Dir())
		assert.True(t, os.IsNotExist(err))
		env.assertLeaseFree(t, "proj", "slow/upload.bin")
	})

	t.Run("leaves active sessions alone", func(t *testing.T) {
		env := newTestEnv(t, sweep.Config{SessionIdleAge: time.Hour}, nil)
		env.createProject(t, "proj", 1000)

		session := &models.UploadSession{
			ID:        uuid.NewString(),
			ProjectID: "proj",
			Path:      "live/upload.bin",
			Kind:      string(models.UploadKindFile),
			State:     string(models.UploadStateActive),
			Size:      10,
		}
		require.NoError(t, env.catalog.CreateUpload(ctx, session))

		report, err := env.sweeper.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, report.SessionsExpired)

		_, err = env.catalog.GetUpload(ctx, session.ID)
		require.NoError(t, err)
	})
}

func TestPruneTasks(t *testing.T) {
	ctx := context.Background()

	env := newTestEnv(t, sweep.Config{TaskRetention: time.Hour}, nil)
	env.createProject(t, "proj", 1000)

	oldTask := &models.Task{ID: uuid.NewString(), Kind: "finalize-large", State: string(models.TaskStateQueued), ProjectID: "proj"}
	require.NoError(t, env.catalog.CreateTask(ctx, oldTask))
	require.NoError(t, env.catalog.MarkTaskFinished(ctx, oldTask.ID, models.TaskStateSucceeded, "", time.Now().Add(-2*time.Hour)))

	recentTask := &models.Task{ID: uuid.NewString(), Kind: "finalize-large", State: string(models.TaskStateQueued), ProjectID: "proj"}
	require.NoError(t, env.catalog.CreateTask(ctx, recentTask))
	require.NoError(t, env.catalog.MarkTaskFinished(ctx, recentTask.ID, models.TaskStateFailed, "boom", time.Now()))

	runningTask := &models.Task{ID: uuid.NewString(), Kind: "extract-archive", State: string(models.TaskStateRunning), ProjectID: "proj"}
	require.NoError(t, env.catalog.CreateTask(ctx, runningTask))

	report, err := env.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.TasksPruned)

	_, err = env.catalog.GetTask(ctx, oldTask.ID)
	assert.ErrorIs(t, err, models.ErrTaskNotFound)
	_, err = env.catalog.GetTask(ctx, recentTask.ID)
	require.NoError(t, err)
	_, err = env.catalog.GetTask(ctx, runningTask.ID)
	require.NoError(t, err)
}

func TestReclaimReservations(t *testing.T) {
	ctx := context.Background()

	env := newTestEnv(t, sweep.Config{OrphanAge: 100 * time.Millisecond}, nil)
	env.createProject(t, "proj", 1000)

	// Orphan: nothing references it once this test moves on.
	_, err := env.ledger.Reserve(ctx, "proj", 40)
	require.NoError(t, err)

	// Backed by a session, so it must survive regardless of age.
	backed, err := env.ledger.Reserve(ctx, "proj", 60)
	require.NoError(t, err)
	session := &models.UploadSession{
		ID:            uuid.NewString(),
		ProjectID:     "proj",
		Path:          "pending/upload.bin",
		Kind:          string(models.UploadKindFile),
		State:         string(models.UploadStateActive),
		Size:          60,
		ReservedBytes: 60,
		ReservationID: backed.ID,
	}
	require.NoError(t, env.catalog.CreateUpload(ctx, session))

	time.Sleep(300 * time.Millisecond)

	report, err := env.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ReservationsReclaimed)

	reserved, _ := env.usage(t, "proj")
	assert.Equal(t, int64(60), reserved)
}

func TestRemoveOrphanWorkspaces(t *testing.T) {
	ctx := context.Background()

	env := newTestEnv(t, sweep.Config{OrphanAge: 100 * time.Millisecond}, nil)
	env.createProject(t, "proj", 1000)

	orphan := env.spool.Workspace(uuid.NewString())
	_, err := orphan.AppendAt(0, bytes.NewReader([]byte("leftover")))
	require.NoError(t, err)

	session := &models.UploadSession{
		ID:        uuid.NewString(),
		ProjectID: "proj",
		Path:      "live/upload.bin",
		Kind:      string(models.UploadKindFile),
		State:     string(models.UploadStateActive),
		Size:      10,
	}
	require.NoError(t, env.catalog.CreateUpload(ctx, session))
	live := env.spool.Workspace(session.ID)
	_, err = live.AppendAt(0, bytes.NewReader([]byte("in flight")))
	require.NoError(t, err)

	time.Sleep(300 * time.Millisecond)

	report, err := env.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.WorkspacesRemoved)

	_, err = os.Stat(orphan.Dir())
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(live.Dir())
	require.NoError(t, err)
}

func TestEmptyTrash(t *testing.T) {
	ctx := context.Background()

	env := newTestEnv(t, sweep.Config{OrphanAge: 100 * time.Millisecond}, nil)
	env.createProject(t, "proj", 1000)
	env.storeCommittedFile(t, "proj", "doomed.bin", []byte("bye"), time.Now())

	path, err := resource.ParseFile("doomed.bin")
	require.NoError(t, err)
	_, err = env.spool.Retract("proj", path)
	require.NoError(t, err)

	time.Sleep(300 * time.Millisecond)

	report, err := env.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.TrashPurged)
}

func TestSweepLeases(t *testing.T) {
	ctx := context.Background()

	env := newTestEnv(t, sweep.Config{}, nil)
	env.createProject(t, "proj", 1000)

	// A second manager with a tiny TTL plants a lease that dies at once.
	path, err := resource.ParseFile("brief.bin")
	require.NoError(t, err)
	short := lock.NewManager(env.state, lock.Config{
		TTL:            20 * time.Millisecond,
		AcquireTimeout: 100 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
	}, nil)
	_, err = short.Acquire(ctx, "proj", path)
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)

	report, err := env.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.LeasesSwept)
}

func TestStartStop(t *testing.T) {
	env := newTestEnv(t, sweep.Config{Interval: 50 * time.Millisecond, FileRetention: time.Hour}, nil)
	env.createProject(t, "proj", 1000)
	env.storeCommittedFile(t, "proj", "old.bin", []byte("stale"), time.Now().Add(-2*time.Hour))

	env.sweeper.Start(context.Background())
	t.Cleanup(func() { env.sweeper.Stop(5 * time.Second) })

	deadline := time.Now().Add(5 * time.Second)
	for {
		_, err := env.catalog.GetFile(context.Background(), "proj", "old.bin")
		if errors.Is(err, models.ErrFileNotFound) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("file was not purged by the running sweeper")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
