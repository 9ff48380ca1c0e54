package dbsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"taleBook/internal/database"
)

const testKey = "stories.db"

type fakeRemote struct {
	mu           sync.Mutex
	objects      map[string][]byte
	etags        map[string]string
	downloadErrs []error
	uploadErrs   []error
	downloads    int
	uploads      int
	version      int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{objects: map[string][]byte{}, etags: map[string]string{}}
}

func (r *fakeRemote) Download(_ context.Context, key, dstPath string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.downloads++
	if len(r.downloadErrs) > 0 {
		err := r.downloadErrs[0]
		r.downloadErrs = r.downloadErrs[1:]
		if err != nil {
			return "", err
		}
	}
	data, ok := r.objects[key]
	if !ok {
		return "", minio.ErrorResponse{Code: "NoSuchKey", Message: "The specified key does not exist.", StatusCode: 404}
	}
	if err := os.WriteFile(dstPath, data, 0o600); err != nil {
		return "", err
	}
	return r.etags[key], nil
}

func (r *fakeRemote) Upload(_ context.Context, key, srcPath string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uploads++
	if len(r.uploadErrs) > 0 {
		err := r.uploadErrs[0]
		r.uploadErrs = r.uploadErrs[1:]
		if err != nil {
			return "", err
		}
	}
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return "", err
	}
	r.version++
	r.objects[key] = data
	r.etags[key] = fmt.Sprintf("etag-%d", r.version)
	return r.etags[key], nil
}

func (r *fakeRemote) Revision(_ context.Context, key string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.etags[key], nil
}

func (r *fakeRemote) put(key string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.version++
	r.objects[key] = data
	r.etags[key] = fmt.Sprintf("etag-%d", r.version)
}

func newTestManager(t *testing.T, remote Remote, opts Options) *Manager {
	t.Helper()
	if opts.Key == "" {
		opts.Key = testKey
	}
	store := database.Open(filepath.Join(t.TempDir(), "stories.db"), nil)
	return NewManager(remote, store, opts, nil)
}

func seedAlice(t *testing.T, m *Manager) uint {
	t.Helper()
	ctx := context.Background()
	var storyID uint
	err := m.Mutate(ctx, func(store *database.Store) error {
		alice, err := database.NewAccount("alice", "pw", "mail", "une fille", 8)
		if err != nil {
			return err
		}
		if err := store.InsertAccount(ctx, alice); err != nil {
			return err
		}
		if err := store.InsertCharacter(ctx, database.Character{Name: "alice", Description: "une fille aux cheveux bouclés"}); err != nil {
			return err
		}
		story, err := database.NewStory("Le Dragon_1", "Le Dragon", "Aventure", "dragon", "Il était une fois...", alice)
		if err != nil {
			return err
		}
		storyID, err = store.InsertStory(ctx, story)
		if err != nil {
			return err
		}
		for i, ref := range []string{"images/a.png", "images/b.png"} {
			if err := store.InsertImage(ctx, storyID, ref, i); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return storyID
}

func TestPull_RemoteAbsentInitializesEmpty(t *testing.T) {
	remote := newFakeRemote()
	m := newTestManager(t, remote, Options{Attempts: 3})

	res, err := m.Pull(context.Background())
	require.NoError(t, err)

	assert.Equal(t, SourceEmpty, res.Source)
	assert.Equal(t, 1, remote.downloads)
	state := m.Snapshot()
	assert.Empty(t, state.Accounts)
	assert.Empty(t, state.Characters)
	assert.Empty(t, state.Stories)

	require.NoError(t, database.CheckIntegrity(context.Background(), m.Store().Path()))
}

func TestPull_DiscardsStaleLocalCopy(t *testing.T) {
	remote := newFakeRemote()
	m := newTestManager(t, remote, Options{Attempts: 1})
	require.NoError(t, os.WriteFile(m.Store().Path(), []byte("stale garbage"), 0o600))

	res, err := m.Pull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceEmpty, res.Source)
	require.NoError(t, database.CheckIntegrity(context.Background(), m.Store().Path()))
}

func TestPushThenPull_RoundTrip(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()

	writer := newTestManager(t, remote, Options{Attempts: 3})
	_, err := writer.Pull(ctx)
	require.NoError(t, err)
	seedAlice(t, writer)
	require.Equal(t, 1, remote.uploads)

	reader := newTestManager(t, remote, Options{Attempts: 3})
	res, err := reader.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceRemote, res.Source)
	assert.Equal(t, "etag-1", res.Revision)

	want, got := writer.Snapshot(), reader.Snapshot()
	assert.Equal(t, want.Accounts, got.Accounts)
	assert.Equal(t, want.Characters, got.Characters)
	assert.Equal(t, want.Stories, got.Stories)
	assert.Equal(t, []string{"images/a.png", "images/b.png"}, got.Stories["Le Dragon"].ImageRefs())
}

func TestPull_CorruptedBlobFallsBackAfterRetries(t *testing.T) {
	remote := newFakeRemote()
	remote.put(testKey, []byte("this is definitely not a sqlite database"))
	m := newTestManager(t, remote, Options{Attempts: 3})

	res, err := m.Pull(context.Background())
	require.NoError(t, err)

	assert.Equal(t, SourceRecovered, res.Source)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, remote.downloads)
	assert.ErrorIs(t, res.LastErr, ErrIntegrity)
	assert.Empty(t, m.Snapshot().Accounts)

	_, statErr := os.Stat(m.Store().Path() + ".download")
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
	require.NoError(t, database.CheckIntegrity(context.Background(), m.Store().Path()))
}

func TestPull_TransientErrorThenSuccess(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()

	writer := newTestManager(t, remote, Options{Attempts: 3})
	_, err := writer.Pull(ctx)
	require.NoError(t, err)
	seedAlice(t, writer)

	remote.downloadErrs = []error{errors.New("connection reset by peer")}
	reader := newTestManager(t, remote, Options{Attempts: 3})
	res, err := reader.Pull(ctx)
	require.NoError(t, err)

	assert.Equal(t, SourceRemote, res.Source)
	assert.Equal(t, 2, res.Attempts)
	assert.Contains(t, reader.Snapshot().Accounts, "alice")
}

func TestPull_OverwritesMirror(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()

	m := newTestManager(t, remote, Options{Attempts: 1})
	_, err := m.Pull(ctx)
	require.NoError(t, err)
	seedAlice(t, m)
	require.Contains(t, m.Snapshot().Accounts, "alice")

	// 另一个实例用空库覆盖了远端。
	other := newTestManager(t, newFakeRemote(), Options{Attempts: 1})
	_, err = other.Pull(ctx)
	require.NoError(t, err)
	raw, err := os.ReadFile(other.Store().Path())
	require.NoError(t, err)
	remote.put(testKey, raw)

	_, err = m.Pull(ctx)
	require.NoError(t, err)
	assert.Empty(t, m.Snapshot().Accounts)
	assert.Empty(t, m.Snapshot().Stories)
}

func TestPush_RetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	m := newTestManager(t, remote, Options{Attempts: 3})
	_, err := m.Pull(ctx)
	require.NoError(t, err)

	remote.uploadErrs = []error{errors.New("503 slow down"), errors.New("i/o timeout")}
	require.NoError(t, m.Push(ctx))
	assert.Equal(t, 3, remote.uploads)

	remote.uploadErrs = []error{errors.New("x"), errors.New("y"), errors.New("z")}
	err = m.Push(ctx)
	require.ErrorIs(t, err, ErrPushFailed)
	require.ErrorIs(t, err, ErrTransient)
}

func TestMutate_ErrorSkipsPush(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	m := newTestManager(t, remote, Options{Attempts: 1})
	_, err := m.Pull(ctx)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = m.Mutate(ctx, func(*database.Store) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Zero(t, remote.uploads)
}

func TestMutate_FailureRefreshesMirror(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	m := newTestManager(t, remote, Options{Attempts: 1})
	_, err := m.Pull(ctx)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = m.Mutate(ctx, func(store *database.Store) error {
		if err := store.InsertCharacter(ctx, database.Character{Name: "Zouzou", Description: "un chat"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Zero(t, remote.uploads)

	// 已提交的部分写入必须反映在镜像里，和本地文件保持一致。
	onDisk, err := m.Store().LoadCharacters(ctx)
	require.NoError(t, err)
	assert.Equal(t, onDisk, m.Snapshot().Characters)
	assert.Contains(t, m.Snapshot().Characters, "Zouzou")
}

// legacyBlob 构造一个完整性校验能通过、但表结构属于旧版本的 SQLite 文件。
func legacyBlob(t *testing.T) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "legacy.db")
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: path}, &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Exec(`CREATE TABLE stories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		story_id TEXT,
		titre TEXT NOT NULL,
		theme TEXT NOT NULL,
		keywords TEXT,
		sexe TEXT NOT NULL,
		age INTEGER NOT NULL,
		story TEXT NOT NULL,
		utilisateur TEXT NOT NULL
	)`).Error)
	require.NoError(t, db.Exec(`INSERT INTO stories (titre, theme, sexe, age, story, utilisateur)
		VALUES ('Le Dragon', 'Aventure', 'fille', 8, 'Il était une fois', 'alice')`).Error)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, database.CheckIntegrity(context.Background(), path))
	return data
}

func TestPull_IncompatibleSchemaFallsBack(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.put(testKey, legacyBlob(t))
	m := newTestManager(t, remote, Options{Attempts: 2})

	res, err := m.Pull(ctx)
	require.NoError(t, err)

	assert.Equal(t, SourceRecovered, res.Source)
	assert.Equal(t, 2, remote.downloads)
	assert.ErrorIs(t, res.LastErr, ErrIntegrity)
	assert.Empty(t, m.Snapshot().Stories)

	seedAlice(t, m)
	assert.Contains(t, m.Snapshot().Stories, "Le Dragon")
}

func TestPush_LastWriterWinsByDefault(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()

	a := newTestManager(t, remote, Options{Attempts: 1})
	b := newTestManager(t, remote, Options{Attempts: 1})
	_, err := a.Pull(ctx)
	require.NoError(t, err)
	_, err = b.Pull(ctx)
	require.NoError(t, err)

	seedAlice(t, a)
	require.NoError(t, b.Mutate(ctx, func(store *database.Store) error {
		return store.InsertCharacter(ctx, database.Character{Name: "Zouzou", Description: "un chat"})
	}))

	c := newTestManager(t, remote, Options{Attempts: 1})
	_, err = c.Pull(ctx)
	require.NoError(t, err)
	assert.NotContains(t, c.Snapshot().Accounts, "alice", "a's write is clobbered by b's later push")
	assert.Contains(t, c.Snapshot().Characters, "Zouzou")
}

func TestPush_RevisionConflict(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()

	a := newTestManager(t, remote, Options{Attempts: 1, CheckRevision: true})
	b := newTestManager(t, remote, Options{Attempts: 1, CheckRevision: true})
	_, err := a.Pull(ctx)
	require.NoError(t, err)
	_, err = b.Pull(ctx)
	require.NoError(t, err)

	seedAlice(t, a)

	err = b.Mutate(ctx, func(store *database.Store) error {
		return store.InsertCharacter(ctx, database.Character{Name: "Zouzou", Description: "un chat"})
	})
	require.ErrorIs(t, err, ErrRevisionConflict)
	assert.Equal(t, 1, remote.uploads)

	_, err = b.Pull(ctx)
	require.NoError(t, err)
	require.NoError(t, b.Mutate(ctx, func(store *database.Store) error {
		return store.InsertCharacter(ctx, database.Character{Name: "Zouzou", Description: "un chat"})
	}))
	assert.Contains(t, b.Snapshot().Accounts, "alice")
	assert.Contains(t, b.Snapshot().Characters, "Zouzou")
}

func TestPush_RevisionUnknownAfterRecovery(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.put(testKey, []byte("corrupted"))

	m := newTestManager(t, remote, Options{Attempts: 2, CheckRevision: true})
	res, err := m.Pull(ctx)
	require.NoError(t, err)
	require.Equal(t, SourceRecovered, res.Source)

	require.ErrorIs(t, m.Push(ctx), ErrRevisionConflict)
}

func TestStateHelpers(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, newFakeRemote(), Options{Attempts: 1})
	_, err := m.Pull(ctx)
	require.NoError(t, err)
	seedAlice(t, m)

	state := m.Snapshot()
	acc, ok := state.AccountByEmailDigest("mail")
	require.True(t, ok)
	assert.Equal(t, "alice", acc.Username)
	_, ok = state.AccountByEmailDigest("nope")
	assert.False(t, ok)

	stories := state.StoriesBy("alice")
	require.Len(t, stories, 1)
	assert.Equal(t, "Le Dragon", stories[0].Title)
	assert.Empty(t, state.StoriesBy("bob"))
	assert.Equal(t, []string{"alice"}, state.CharacterNames())
}
