package favorites

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestProfiles_FileStoreKeepsProfilesApart(t *testing.T) {
	ctx := t.Context()
	dir := t.TempDir()
	open := func(profile string) Store { return FileStore{Dir: dir, Profile: profile} }
	profiles := NewProfiles("", open)

	alice, err := profiles.Get(ctx, "alice")
	require.NoError(t, err)
	_, err = alice.Toggle(ctx, "eth")
	require.NoError(t, err)

	bob, err := profiles.Get(ctx, "bob")
	require.NoError(t, err)
	require.Empty(t, bob.IDs())

	def, err := profiles.Get(ctx, "")
	require.NoError(t, err)
	require.Empty(t, def.IDs())

	same, err := profiles.Get(ctx, "alice")
	require.NoError(t, err)
	require.Same(t, alice, same)

	raw, err := os.ReadFile(filepath.Join(dir, "alice", "cryptoFavorites.json"))
	require.NoError(t, err)
	require.JSONEq(t, `["eth"]`, string(raw))
	_, err = os.Stat(filepath.Join(dir, "cryptoFavorites.json"))
	require.True(t, os.IsNotExist(err))

	// A fresh registry reloads what was persisted.
	reloaded, err := NewProfiles("", open).Get(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, []string{"eth"}, reloaded.IDs())
}

func TestProfiles_RedisKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	profiles := NewProfiles("main", func(profile string) Store { return NewRedisStore(client, profile) })
	ctx := context.Background()

	set, err := profiles.Get(ctx, "")
	require.NoError(t, err)
	_, err = set.Toggle(ctx, "btc")
	require.NoError(t, err)

	other, err := profiles.Get(ctx, "work")
	require.NoError(t, err)
	_, err = other.Toggle(ctx, "sol")
	require.NoError(t, err)

	got, err := mr.Get("cryptoFavorites:main")
	require.NoError(t, err)
	require.JSONEq(t, `["btc"]`, got)
	got, err = mr.Get("cryptoFavorites:work")
	require.NoError(t, err)
	require.JSONEq(t, `["sol"]`, got)
}

func TestProfiles_RejectsInvalidNames(t *testing.T) {
	profiles := NewProfiles("", func(string) Store { return &MemoryStore{} })
	for _, name := range []string{"../etc", "a/b", "has space", string(make([]byte, 65))} {
		_, err := profiles.Get(t.Context(), name)
		require.ErrorIsf(t, err, ErrInvalidProfile, "profile %q", name)
	}
}
