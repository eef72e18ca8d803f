package preferences

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWALStore_SetGet(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	_, ok, err := store.Get("captur_location_sharing")
	require.NoError(t, err)
	assert.False(t, ok, "fresh store must not contain the key")

	require.NoError(t, store.Set("captur_location_sharing", "true"))
	require.NoError(t, store.Set("captur_location_sharing", "false"))

	v, ok, err := store.Get("captur_location_sharing")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "false", v)
}

func TestWALStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := NewWALStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Set("captur_location_sharing", "true"))
	require.NoError(t, store.Set("theme", "dark"))
	require.NoError(t, store.Set("captur_location_sharing", "false"))
	require.NoError(t, store.Close())

	reopened, err := NewWALStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	v, ok, err := reopened.Get("captur_location_sharing")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "false", v, "latest write wins on replay")

	v, ok, err = reopened.Get("theme")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "dark", v)
}

func TestWALStore_EmptyKey(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	assert.Error(t, store.Set("", "x"))
}

func TestWALStore_NilStore(t *testing.T) {
	var store *WALStore
	_, _, err := store.Get("k")
	assert.Error(t, err)
	assert.Error(t, store.Set("k", "v"))
	assert.Error(t, store.Close())
}

func TestWALStore_ReplaySkipsForeignRecords(t *testing.T) {
	dir := t.TempDir()

	store, err := NewWALStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Set("captur_location_sharing", "false"))
	require.NoError(t, store.wal.Write(store.wal.CurrentIndex()+1, "snapshot_1", []byte("not json")))
	require.NoError(t, store.Set("theme", "light"))
	require.NoError(t, store.Close())

	reopened, err := NewWALStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	v, ok, err := reopened.Get("captur_location_sharing")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "false", v)

	v, ok, err = reopened.Get("theme")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "light", v)

	_, ok, err = reopened.Get("snapshot_1")
	require.NoError(t, err)
	assert.False(t, ok)
}
