package state

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"alpacadash/pkg/alpaca"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "devices.db"), 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo, err := NewRepository(db)
	require.NoError(t, err)
	return repo
}

func TestRepositoryRoundTrip(t *testing.T) {
	repo := openTestRepo(t)

	focuser := Descriptor{
		ID:      "f-1",
		Name:    "main focuser",
		Type:    alpaca.TypeFocuser,
		Address: "http://10.0.0.5:11111",
		Number:  0,
		State:   Connected, // must not survive persistence
	}
	dome := Descriptor{
		ID:      "d-1",
		Name:    "dome",
		Type:    alpaca.TypeDome,
		Address: "http://10.0.0.6:11111",
		Number:  1,
	}
	require.NoError(t, repo.Save(focuser))
	require.NoError(t, repo.Save(dome))

	devs, err := repo.Load()
	require.NoError(t, err)
	require.Len(t, devs, 2)

	byID := map[string]Descriptor{}
	for _, d := range devs {
		byID[d.ID] = d
	}
	assert.Equal(t, "main focuser", byID["f-1"].Name)
	assert.Equal(t, alpaca.TypeFocuser, byID["f-1"].Type)
	assert.Equal(t, Disconnected, byID["f-1"].State)
	assert.Equal(t, 1, byID["d-1"].Number)
}

func TestRepositorySaveReplaces(t *testing.T) {
	repo := openTestRepo(t)

	d := Descriptor{ID: "f-1", Name: "before", Type: alpaca.TypeFocuser, Address: "http://a"}
	require.NoError(t, repo.Save(d))
	d.Name = "after"
	require.NoError(t, repo.Save(d))

	devs, err := repo.Load()
	require.NoError(t, err)
	require.Len(t, devs, 1)
	assert.Equal(t, "after", devs[0].Name)
}

func TestRepositoryDelete(t *testing.T) {
	repo := openTestRepo(t)

	require.NoError(t, repo.Save(Descriptor{ID: "f-1", Type: alpaca.TypeFocuser, Address: "http://a"}))
	require.NoError(t, repo.Delete("f-1"))
	require.NoError(t, repo.Delete("missing"))

	devs, err := repo.Load()
	require.NoError(t, err)
	assert.Empty(t, devs)
}
