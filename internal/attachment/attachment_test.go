package attachment

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marksync/marksync/internal/remote"
	"github.com/marksync/marksync/internal/remote/remotetest"
	"github.com/marksync/marksync/internal/state"
	"github.com/marksync/marksync/internal/utils"
)

func TestReferences(t *testing.T) {
	md := `# Doc

![diagram](welcome.attachments/diagram.png){width="600"}

See [spec](welcome.attachments/spec.pdf) and [external](https://example.com/x.pdf).

![again](welcome.attachments/diagram.png)

[outside dir](other.attachments/nope.png)
[nested](welcome.attachments/sub/deep.png)`

	refs := References(md, "welcome.attachments")
	assert.Equal(t, []string{"diagram.png", "spec.pdf"}, refs)
}

func TestReferencesEmpty(t *testing.T) {
	assert.Nil(t, References("no links here", "x.attachments"))
	assert.Nil(t, References("![a](x.attachments/f.png)", ""))
}

func TestClassify(t *testing.T) {
	// hashes: a/b/c distinct, "" = absent
	cases := []struct {
		name                    string
		local, remote, recorded string
		want                    State
	}{
		{"all equal", "a", "a", "a", Unchanged},
		{"local only new", "a", "", "", LocalOnly},
		{"local edited", "b", "a", "a", NeedsUpload},
		{"remote edited", "a", "b", "a", NeedsDownload},
		{"both edited apart", "b", "c", "a", Conflict},
		{"both edited same", "b", "b", "a", Unchanged},
		{"never pulled", "", "a", "", NeedsDownload},
		{"local deleted", "", "b", "a", NeedsDownload},
		{"remote gone", "a", "", "a", NeedsUpload},
		{"nothing to do", "a", "a", "b", Unchanged},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.local, tc.remote, tc.recorded))
		})
	}
}

func newTestManager(t *testing.T) (*Manager, *remotetest.FakeStore, *state.Store) {
	t.Helper()
	fake := remotetest.NewFakeStore()
	st := state.NewStore(state.MemoryPath)
	require.NoError(t, st.Open())
	t.Cleanup(func() { st.Close() })
	return NewManager(fake, st), fake, st
}

func TestReconcileDownloadsNew(t *testing.T) {
	m, fake, st := newTestManager(t)
	fake.AddPage(&remote.Page{ID: "1", Title: "Doc", SpaceKey: "DOC"})
	fake.AddAttachment("1", "diagram.png", []byte("png-bytes"))

	dir := filepath.Join(t.TempDir(), "doc.attachments")
	results, err := m.Reconcile(context.Background(), "1", dir, []string{"diagram.png"}, Download)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, NeedsDownload, results[0].State)
	assert.True(t, results[0].Transferred)
	require.NoError(t, results[0].Err)

	data, err := os.ReadFile(filepath.Join(dir, "diagram.png"))
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	rec, err := st.GetAttachment("1", "diagram.png")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, utils.ContentHash([]byte("png-bytes")), rec.Hash)
	assert.Equal(t, int64(1), rec.Version)
}

func TestReconcileUnchangedNoTransfer(t *testing.T) {
	m, fake, st := newTestManager(t)
	fake.AddPage(&remote.Page{ID: "1", Title: "Doc", SpaceKey: "DOC"})
	fake.AddAttachment("1", "f.bin", []byte("same"))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.bin"), []byte("same"), 0o644))
	hash := utils.ContentHash([]byte("same"))
	require.NoError(t, st.PutAttachment(&state.AttachmentRecord{PageID: "1", Filename: "f.bin", Version: 1, Hash: hash, SyncedAt: time.Now()}))

	results, err := m.Reconcile(context.Background(), "1", dir, []string{"f.bin"}, Download)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, Unchanged, results[0].State)
	assert.False(t, results[0].Transferred)
}

func TestReconcileConvergedEditsRefreshRecord(t *testing.T) {
	m, fake, st := newTestManager(t)
	fake.AddPage(&remote.Page{ID: "1", Title: "Doc", SpaceKey: "DOC"})
	agreed := []byte("both sides")
	fake.AddAttachment("1", "f.bin", agreed)
	require.NoError(t, st.PutAttachment(&state.AttachmentRecord{
		PageID: "1", Filename: "f.bin", Version: 1,
		Hash: utils.ContentHash([]byte("stale")), SyncedAt: time.Now(),
	}))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.bin"), agreed, 0o644))

	results, err := m.Reconcile(context.Background(), "1", dir, []string{"f.bin"}, Download)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, Unchanged, results[0].State)
	assert.False(t, results[0].Transferred)
	require.NoError(t, results[0].Err)

	rec, err := st.GetAttachment("1", "f.bin")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, utils.ContentHash(agreed), rec.Hash, "record follows the agreed content")
	assert.Equal(t, int64(1), rec.Version)
}

func TestReconcileUploadsLocalEdit(t *testing.T) {
	m, fake, st := newTestManager(t)
	fake.AddPage(&remote.Page{ID: "1", Title: "Doc", SpaceKey: "DOC"})
	old := []byte("v1")
	fake.AddAttachment("1", "f.bin", old)
	require.NoError(t, st.PutAttachment(&state.AttachmentRecord{
		PageID: "1", Filename: "f.bin", Version: 1,
		Hash: utils.ContentHash(old), SyncedAt: time.Now(),
	}))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.bin"), []byte("v2 local"), 0o644))

	results, err := m.Reconcile(context.Background(), "1", dir, []string{"f.bin"}, Upload)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, NeedsUpload, results[0].State)
	assert.True(t, results[0].Transferred)

	data, _, err := fake.GetAttachment(context.Background(), "1", "f.bin")
	require.NoError(t, err)
	assert.Equal(t, "v2 local", string(data))

	rec, err := st.GetAttachment("1", "f.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Version)
	assert.Equal(t, utils.ContentHash([]byte("v2 local")), rec.Hash)
}

func TestReconcileUploadsLocalOnlyNew(t *testing.T) {
	m, fake, _ := newTestManager(t)
	fake.AddPage(&remote.Page{ID: "1", Title: "Doc", SpaceKey: "DOC"})

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.png"), []byte("fresh"), 0o644))

	results, err := m.Reconcile(context.Background(), "1", dir, []string{"new.png"}, Upload)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, LocalOnly, results[0].State)
	assert.True(t, results[0].Transferred)

	data, _, err := fake.GetAttachment(context.Background(), "1", "new.png")
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data))
}

func TestReconcileConflictNeverTransfers(t *testing.T) {
	m, fake, st := newTestManager(t)
	fake.AddPage(&remote.Page{ID: "1", Title: "Doc", SpaceKey: "DOC"})
	fake.AddAttachment("1", "f.bin", []byte("remote edit"))
	require.NoError(t, st.PutAttachment(&state.AttachmentRecord{
		PageID: "1", Filename: "f.bin", Version: 1,
		Hash: utils.ContentHash([]byte("original")), SyncedAt: time.Now(),
	}))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.bin"), []byte("local edit"), 0o644))

	for _, direction := range []Direction{Download, Upload} {
		results, err := m.Reconcile(context.Background(), "1", dir, []string{"f.bin"}, direction)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, Conflict, results[0].State, "direction %s", direction)
		assert.False(t, results[0].Transferred)
	}

	// both sides untouched
	data, _, err := fake.GetAttachment(context.Background(), "1", "f.bin")
	require.NoError(t, err)
	assert.Equal(t, "remote edit", string(data))
	local, err := os.ReadFile(filepath.Join(dir, "f.bin"))
	require.NoError(t, err)
	assert.Equal(t, "local edit", string(local))

	// record still reflects the last confirmed sync
	rec, err := st.GetAttachment("1", "f.bin")
	require.NoError(t, err)
	assert.Equal(t, utils.ContentHash([]byte("original")), rec.Hash)
}

func TestReconcileFlagsOrphans(t *testing.T) {
	m, fake, _ := newTestManager(t)
	fake.AddPage(&remote.Page{ID: "1", Title: "Doc", SpaceKey: "DOC"})
	fake.AddAttachment("1", "kept.png", []byte("a"))
	fake.AddAttachment("1", "dropped.png", []byte("b"))

	dir := t.TempDir()
	results, err := m.Reconcile(context.Background(), "1", dir, []string{"kept.png"}, Download)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "kept.png", results[0].Filename)
	assert.Equal(t, "dropped.png", results[1].Filename)
	assert.Equal(t, Orphaned, results[1].State)
	assert.False(t, results[1].Transferred)

	// orphan still present remotely
	_, _, err = fake.GetAttachment(context.Background(), "1", "dropped.png")
	assert.NoError(t, err)
}

func TestReconcileFailureIsolatedPerAttachment(t *testing.T) {
	m, fake, _ := newTestManager(t)
	fake.AddPage(&remote.Page{ID: "1", Title: "Doc", SpaceKey: "DOC"})
	fake.AddAttachment("1", "good.png", []byte("ok"))
	// bad.png referenced but absent on both sides: download has no source

	dir := t.TempDir()
	results, err := m.Reconcile(context.Background(), "1", dir, []string{"bad.png", "good.png"}, Download)
	require.NoError(t, err)
	require.Len(t, results, 2)

	bad := results[0]
	assert.Equal(t, "bad.png", bad.Filename)
	assert.Error(t, bad.Err)

	good := results[1]
	assert.Equal(t, "good.png", good.Filename)
	require.NoError(t, good.Err)
	assert.True(t, good.Transferred)
}
