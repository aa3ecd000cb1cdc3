package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagefs/stagefs/pkg/catalog/models"
	"github.com/stagefs/stagefs/pkg/catalog/store"
	"github.com/stagefs/stagefs/pkg/staging/checksum"
	stagingerrors "github.com/stagefs/stagefs/pkg/staging/errors"
	"github.com/stagefs/stagefs/pkg/staging/events"
	"github.com/stagefs/stagefs/pkg/staging/jobs"
	"github.com/stagefs/stagefs/pkg/staging/lock"
	"github.com/stagefs/stagefs/pkg/staging/quota"
	"github.com/stagefs/stagefs/pkg/staging/resource"
	"github.com/stagefs/stagefs/pkg/staging/spool"
	"github.com/stagefs/stagefs/pkg/staging/upload"
	"github.com/stagefs/stagefs/pkg/state"
	"github.com/stagefs/stagefs/pkg/state/badger"
)

type testEnv struct {
	catalog   *store.GORMStore
	spool     *spool.Spool
	ledger    *quota.Ledger
	locks     *lock.Manager
	extractor *Extractor

	mu     sync.Mutex
	events []events.Event
}

func newTestEnv(t *testing.T) *testEnv {
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

	env.extractor = New(catalog, sp, env.locks, env.ledger, bus)
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

// admitArchive stands in for the upload path: it takes the lease, reserves
// quota for the payload, creates the session row, and writes the archive
// bytes into the workspace.
func (e *testEnv) admitArchive(t *testing.T, project, dir string, payload []byte, sum string) *models.UploadSession {
	t.Helper()
	ctx := context.Background()

	path, err := resource.ParseDir(dir)
	require.NoError(t, err)

	guard, err := e.locks.Acquire(ctx, project, path)
	require.NoError(t, err)

	hold, err := e.ledger.Reserve(ctx, project, int64(len(payload)))
	require.NoError(t, err)

	session := &models.UploadSession{
		ID:            uuid.NewString(),
		ProjectID:     project,
		Path:          path.String(),
		Kind:          string(models.UploadKindArchive),
		Size:          int64(len(payload)),
		ReservedBytes: int64(len(payload)),
		Offset:        int64(len(payload)),
		Checksum:      sum,
		LeaseID:       guard.LeaseID,
		Holder:        guard.Holder,
		ReservationID: hold.ID,
	}
	require.NoError(t, e.catalog.CreateUpload(ctx, session))

	_, err = e.spool.Workspace(session.ID).AppendAt(0, bytes.NewReader(payload))
	require.NoError(t, err)
	return session
}

func (e *testEnv) usage(t *testing.T, project string) (reserved, committed int64) {
	t.Helper()
	p, err := e.catalog.GetProject(context.Background(), project)
	require.NoError(t, err)
	return p.ReservedBytes, p.CommittedBytes
}

func (e *testEnv) countEvents(eventType events.Type) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, event := range e.events {
		if event.Type == eventType {
			n++
		}
	}
	return n
}

// assertSettled checks that the session, its workspace, and its lease are
// all gone.
func (e *testEnv) assertSettled(t *testing.T, session *models.UploadSession) {
	t.Helper()
	ctx := context.Background()

	_, err := e.catalog.GetUpload(ctx, session.ID)
	assert.ErrorIs(t, err, models.ErrUploadNotFound)

	_, err = os.Stat(e.spool.Workspace(session.ID).Dir())
	assert.True(t, os.IsNotExist(err), "workspace should be removed")

	guard, err := e.locks.Acquire(ctx, session.ProjectID, resource.Path(session.Path))
	require.NoError(t, err, "lease should be free again")
	require.NoError(t, e.locks.Release(ctx, guard))
}

func (e *testEnv) readFile(t *testing.T, project, path string) string {
	t.Helper()
	p, err := resource.ParseFile(path)
	require.NoError(t, err)
	f, err := e.spool.Open(project, p)
	require.NoError(t, err)
	defer f.Close()
	content, err := io.ReadAll(f)
	require.NoError(t, err)
	return string(content)
}

type member struct {
	name string
	body string
}

func makeZip(t *testing.T, members []member) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, m := range members {
		w, err := zw.Create(m.name)
		require.NoError(t, err)
		_, err = w.Write([]byte(m.body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func makeTar(t *testing.T, members []member, gzipped bool) []byte {
	t.Helper()
	var buf bytes.Buffer
	var out io.Writer = &buf
	var gz *gzip.Writer
	if gzipped {
		gz = gzip.NewWriter(&buf)
		out = gz
	}
	tw := tar.NewWriter(out)
	for _, m := range members {
		hdr := &tar.Header{
			Name:     m.name,
			Mode:     0o644,
			Size:     int64(len(m.body)),
			Typeflag: tar.TypeReg,
		}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write([]byte(m.body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	if gz != nil {
		require.NoError(t, gz.Close())
	}
	return buf.Bytes()
}

func extractJob(t *testing.T, uploadID string) *state.Job {
	t.Helper()
	payload, err := json.Marshal(upload.SessionJob{UploadID: uploadID})
	require.NoError(t, err)
	return &state.Job{
		ID:       uuid.NewString(),
		Queue:    jobs.QueueExtract,
		Kind:     upload.KindExtract,
		Payload:  payload,
		Attempts: 1,
	}
}

func sha256Of(t *testing.T, body string) string {
	t.Helper()
	sum, err := checksum.Sum(strings.NewReader(body), checksum.SHA256)
	require.NoError(t, err)
	return sum.String()
}

func requirePermanent(t *testing.T, err error, code stagingerrors.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	var perm *jobs.PermanentError
	require.ErrorAs(t, err, &perm, "extraction failures must not be retried")
	assert.Equal(t, code, stagingerrors.CodeOf(err))
}

func TestDetectFormat(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, content []byte) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, content, 0o644))
		return path
	}

	zipPath := write("a.zip", makeZip(t, []member{{"a.txt", "alpha"}}))
	tarPath := write("a.tar", makeTar(t, []member{{"a.txt", "alpha"}}, false))
	tgzPath := write("a.tgz", makeTar(t, []member{{"a.txt", "alpha"}}, true))
	txtPath := write("a.txt", []byte("just some text, long enough to cover the tar magic offset padding"))
	emptyPath := write("empty", nil)

	format, err := DetectFormat(zipPath)
	require.NoError(t, err)
	assert.Equal(t, FormatZip, format)

	format, err = DetectFormat(tarPath)
	require.NoError(t, err)
	assert.Equal(t, FormatTar, format)

	format, err = DetectFormat(tgzPath)
	require.NoError(t, err)
	assert.Equal(t, FormatTarGz, format)

	_, err = DetectFormat(txtPath)
	assert.Equal(t, stagingerrors.ErrUnsupportedMedia, stagingerrors.CodeOf(err))

	_, err = DetectFormat(emptyPath)
	assert.Equal(t, stagingerrors.ErrUnsupportedMedia, stagingerrors.CodeOf(err))
}

func TestHandleExtract(t *testing.T) {
	ctx := context.Background()

	t.Run("extracts a zip archive into the tree", func(t *testing.T) {
		env := newTestEnv(t)
		env.createProject(t, "proj", 1<<20)

		payload := makeZip(t, []member{
			{"sub/", ""},
			{"a.txt", "alpha"},
			{"sub/b.txt", "beta"},
		})
		session := env.admitArchive(t, "proj", "drop", payload, "")

		err := env.extractor.handleExtract(ctx, extractJob(t, session.ID))
		require.NoError(t, err)

		a, err := env.catalog.GetFile(ctx, "proj", "drop/a.txt")
		require.NoError(t, err)
		assert.Equal(t, models.FileSourceArchive, a.Source)
		assert.Equal(t, int64(5), a.Size)
		assert.Equal(t, sha256Of(t, "alpha"), a.Checksum)

		b, err := env.catalog.GetFile(ctx, "proj", "drop/sub/b.txt")
		require.NoError(t, err)
		assert.Equal(t, int64(4), b.Size)

		assert.Equal(t, "alpha", env.readFile(t, "proj", "drop/a.txt"))
		assert.Equal(t, "beta", env.readFile(t, "proj", "drop/sub/b.txt"))

		reserved, committed := env.usage(t, "proj")
		assert.Zero(t, reserved, "archive and member reservations should be settled")
		assert.Equal(t, int64(9), committed)

		assert.Equal(t, 2, env.countEvents(events.TypeFileCommitted))
		env.assertSettled(t, session)
	})

	t.Run("extracts a tar.gz archive, skipping symlinks", func(t *testing.T) {
		env := newTestEnv(t)
		env.createProject(t, "proj", 1<<20)

		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		tw := tar.NewWriter(gz)
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     "nested/deep/c.txt",
			Mode:     0o644,
			Size:     5,
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte("gamma"))
		require.NoError(t, err)
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     "nested/link",
			Mode:     0o777,
			Typeflag: tar.TypeSymlink,
			Linkname: "deep/c.txt",
		}))
		require.NoError(t, tw.Close())
		require.NoError(t, gz.Close())

		session := env.admitArchive(t, "proj", "", buf.Bytes(), "")

		err = env.extractor.handleExtract(ctx, extractJob(t, session.ID))
		require.NoError(t, err)

		assert.Equal(t, "gamma", env.readFile(t, "proj", "nested/deep/c.txt"))
		_, err = env.catalog.GetFile(ctx, "proj", "nested/link")
		assert.ErrorIs(t, err, models.ErrFileNotFound)

		reserved, committed := env.usage(t, "proj")
		assert.Zero(t, reserved)
		assert.Equal(t, int64(5), committed)
		env.assertSettled(t, session)
	})

	t.Run("finishes quietly when the session is gone", func(t *testing.T) {
		env := newTestEnv(t)
		err := env.extractor.handleExtract(ctx, extractJob(t, uuid.NewString()))
		require.NoError(t, err, "a vanished session means an earlier delivery finished")
	})

	t.Run("fails permanently on a payload that is not an archive", func(t *testing.T) {
		env := newTestEnv(t)
		env.createProject(t, "proj", 1<<20)

		payload := []byte("plain text pretending to be an archive, padded well past the tar magic offset to be safe......")
		session := env.admitArchive(t, "proj", "stuff", payload, "")

		err := env.extractor.handleExtract(ctx, extractJob(t, session.ID))
		requirePermanent(t, err, stagingerrors.ErrUnsupportedMedia)

		reserved, committed := env.usage(t, "proj")
		assert.Zero(t, reserved)
		assert.Zero(t, committed)
		env.assertSettled(t, session)
	})

	t.Run("fails permanently on an archive checksum mismatch", func(t *testing.T) {
		env := newTestEnv(t)
		env.createProject(t, "proj", 1<<20)

		payload := makeZip(t, []member{{"a.txt", "alpha"}})
		session := env.admitArchive(t, "proj", "drop", payload, "md5:"+strings.Repeat("0", 32))

		err := env.extractor.handleExtract(ctx, extractJob(t, session.ID))
		requirePermanent(t, err, stagingerrors.ErrChecksumMismatch)

		reserved, _ := env.usage(t, "proj")
		assert.Zero(t, reserved)
		env.assertSettled(t, session)
	})

	t.Run("rejects a member escaping the extraction root", func(t *testing.T) {
		env := newTestEnv(t)
		env.createProject(t, "proj", 1<<20)

		payload := makeTar(t, []member{
			{"good.txt", "fine"},
			{"../evil.txt", "bad"},
		}, false)
		session := env.admitArchive(t, "proj", "drop", payload, "")

		err := env.extractor.handleExtract(ctx, extractJob(t, session.ID))
		requirePermanent(t, err, stagingerrors.ErrInvalidPath)

		_, err = env.catalog.GetFile(ctx, "proj", "drop/good.txt")
		assert.ErrorIs(t, err, models.ErrFileNotFound, "members before the bad one should be rolled back")
		_, err = env.catalog.GetFile(ctx, "proj", "evil.txt")
		assert.ErrorIs(t, err, models.ErrFileNotFound)

		reserved, committed := env.usage(t, "proj")
		assert.Zero(t, reserved)
		assert.Zero(t, committed)
		env.assertSettled(t, session)
	})

	t.Run("rolls back on a collision with existing content", func(t *testing.T) {
		env := newTestEnv(t)
		env.createProject(t, "proj", 1<<20)

		// An unrelated file published before the session exists at a path
		// the archive also carries.
		existingPath := mustFile(t, "drop/x.txt")
		ws := env.spool.Workspace("seed")
		_, err := ws.AppendAt(0, strings.NewReader("existing"))
		require.NoError(t, err)
		require.NoError(t, env.spool.Publish(ws.PayloadPath(), "proj", existingPath))
		_, err = env.catalog.CreateFile(ctx, &models.FileRecord{
			ID:        uuid.NewString(),
			ProjectID: "proj",
			Path:      "drop/x.txt",
			Size:      8,
			Checksum:  sha256Of(t, "existing"),
			Source:    models.FileSourceUpload,
			StoredAt:  time.Now().UTC().Add(-time.Hour),
		})
		require.NoError(t, err)

		payload := makeZip(t, []member{
			{"first.txt", "one"},
			{"x.txt", "two"},
		})
		session := env.admitArchive(t, "proj", "drop", payload, "")
		reservedBefore, committedBefore := env.usage(t, "proj")

		err = env.extractor.handleExtract(ctx, extractJob(t, session.ID))
		requirePermanent(t, err, stagingerrors.ErrConflict)
		assert.Contains(t, err.Error(), "x.txt")

		_, err = env.catalog.GetFile(ctx, "proj", "drop/first.txt")
		assert.ErrorIs(t, err, models.ErrFileNotFound)

		kept, err := env.catalog.GetFile(ctx, "proj", "drop/x.txt")
		require.NoError(t, err)
		assert.Equal(t, models.FileSourceUpload, kept.Source)
		assert.Equal(t, "existing", env.readFile(t, "proj", "drop/x.txt"))

		reserved, committed := env.usage(t, "proj")
		assert.Equal(t, reservedBefore-int64(len(payload)), reserved)
		assert.Equal(t, committedBefore, committed)
		env.assertSettled(t, session)
	})

	t.Run("adopts members published by an earlier delivery", func(t *testing.T) {
		env := newTestEnv(t)
		env.createProject(t, "proj", 1<<20)

		payload := makeZip(t, []member{
			{"a.txt", "alpha"},
			{"b.txt", "beta"},
		})
		session := env.admitArchive(t, "proj", "drop", payload, "")

		// Replay what a crashed delivery left behind for a.txt: content
		// published, record written, bytes committed.
		ws := env.spool.Workspace("ghost")
		_, err := ws.AppendAt(0, strings.NewReader("alpha"))
		require.NoError(t, err)
		require.NoError(t, env.spool.Publish(ws.PayloadPath(), "proj", mustFile(t, "drop/a.txt")))
		priorID := uuid.NewString()
		_, err = env.catalog.CreateFile(ctx, &models.FileRecord{
			ID:        priorID,
			ProjectID: "proj",
			Path:      "drop/a.txt",
			Size:      5,
			Checksum:  sha256Of(t, "alpha"),
			Source:    models.FileSourceArchive,
			StoredAt:  time.Now().UTC(),
		})
		require.NoError(t, err)
		hold, err := env.ledger.Reserve(ctx, "proj", 5)
		require.NoError(t, err)
		require.NoError(t, env.ledger.Commit(ctx, hold, 5))

		err = env.extractor.handleExtract(ctx, extractJob(t, session.ID))
		require.NoError(t, err)

		a, err := env.catalog.GetFile(ctx, "proj", "drop/a.txt")
		require.NoError(t, err)
		assert.Equal(t, priorID, a.ID, "adopted member keeps its record")

		assert.Equal(t, "beta", env.readFile(t, "proj", "drop/b.txt"))

		reserved, committed := env.usage(t, "proj")
		assert.Zero(t, reserved)
		assert.Equal(t, int64(9), committed, "adoption must not charge quota twice")

		assert.Equal(t, 1, env.countEvents(events.TypeFileCommitted), "only the fresh member fires an event")
		env.assertSettled(t, session)
	})

	t.Run("rolls back when quota runs out mid-archive", func(t *testing.T) {
		env := newTestEnv(t)

		payload := makeZip(t, []member{
			{"small.txt", "four"},
			{"big.txt", "elevenbytes"},
		})
		env.createProject(t, "proj", int64(len(payload))+6)
		session := env.admitArchive(t, "proj", "drop", payload, "")

		err := env.extractor.handleExtract(ctx, extractJob(t, session.ID))
		requirePermanent(t, err, stagingerrors.ErrQuotaExceeded)

		_, err = env.catalog.GetFile(ctx, "proj", "drop/small.txt")
		assert.ErrorIs(t, err, models.ErrFileNotFound)

		reserved, committed := env.usage(t, "proj")
		assert.Zero(t, reserved)
		assert.Zero(t, committed)
		env.assertSettled(t, session)
	})
}

func mustFile(t *testing.T, p string) resource.Path {
	t.Helper()
	parsed, err := resource.ParseFile(p)
	require.NoError(t, err)
	return parsed
}

func TestEntryTarget(t *testing.T) {
	base, err := resource.ParseDir("drop")
	require.NoError(t, err)

	target, err := entryTarget(base, "sub/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "drop/sub/file.txt", target.String())

	// Interior dotdot that stays inside the extraction root is fine.
	target, err = entryTarget(base, "sub/../file.txt")
	require.NoError(t, err)
	assert.Equal(t, "drop/file.txt", target.String())

	for _, name := range []string{"../evil", "../../evil", "..", ".", ""} {
		_, err := entryTarget(base, name)
		assert.Error(t, err, "name %q", name)
	}

	// At the project root everything except degenerate names is in scope.
	target, err = entryTarget(resource.Root, "file.txt")
	require.NoError(t, err)
	assert.Equal(t, "file.txt", target.String())
	_, err = entryTarget(resource.Root, "../evil")
	assert.Error(t, err)
}
