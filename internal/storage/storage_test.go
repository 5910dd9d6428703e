package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenAt(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestProbeCacheRoundTrip(t *testing.T) {
	s := openTestStore(t)

	_, ok, err := s.GetProbe(42)
	require.NoError(t, err)
	require.False(t, ok, "expected miss on empty store")

	require.NoError(t, s.PutProbe(42, -2))
	require.NoError(t, s.PutProbe(43, 2))
	require.NoError(t, s.PutProbe(44, 0))

	for key, want := range map[uint64]int{42: -2, 43: 2, 44: 0} {
		wdl, ok, err := s.GetProbe(key)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want, wdl)
	}
}

func TestFileFingerprint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "net.nnue")
	require.NoError(t, os.WriteFile(path, []byte("network weights"), 0o644))

	fp1, err := FileFingerprint(path)
	require.NoError(t, err)

	fp2, err := FileFingerprint(path)
	require.NoError(t, err)
	require.Equal(t, fp1, fp2)

	require.NoError(t, os.WriteFile(path, []byte("different weights"), 0o644))
	fp3, err := FileFingerprint(path)
	require.NoError(t, err)
	require.NotEqual(t, fp1, fp3)
}

func TestVerifyAsset(t *testing.T) {
	s := openTestStore(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "asset.bin")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o644))

	// Unknown asset verifies false without error.
	ok, err := s.VerifyAsset(path)
	require.NoError(t, err)
	require.False(t, ok)

	fp, err := FileFingerprint(path)
	require.NoError(t, err)
	require.NoError(t, s.PutAsset(path, fp))

	ok, err = s.VerifyAsset(path)
	require.NoError(t, err)
	require.True(t, ok)

	// Tampering is detected.
	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0o644))
	ok, err = s.VerifyAsset(path)
	require.NoError(t, err)
	require.False(t, ok)
}
