package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileExists(t *testing.T) {
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "file")

	t.Run("DirIsNotAFile", func(t *testing.T) {
		assert.False(t, FileExists(tmpDir))
	})

	t.Run("FileExists", func(t *testing.T) {
		err := os.WriteFile(tmpFile, []byte{}, 0600)
		assert.NoError(t, err)
		assert.True(t, FileExists(tmpFile))
	})

	t.Run("FileDoesntExist", func(t *testing.T) {
		noFile := filepath.Join(tmpFile, "foo/bar/baz")
		assert.False(t, FileExists(noFile))
	})
}

func TestPathExists(t *testing.T) {
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "file")

	t.Run("DirExists", func(t *testing.T) {
		assert.True(t, PathExists(tmpDir))
	})

	t.Run("FileExists", func(t *testing.T) {
		err := os.WriteFile(tmpFile, []byte{}, 0600)
		assert.NoError(t, err)
		assert.True(t, PathExists(tmpFile))
	})

	t.Run("DirDoesntExist", func(t *testing.T) {
		noDir := filepath.Join(tmpDir, "foo/bar/baz")
		assert.False(t, PathExists(noDir))
	})
}

func TestWithinBase(t *testing.T) {
	t.Run("TraversalIsRejected", func(t *testing.T) {
		_, err := WithinBase("/mnt/semgrep/results", "/mnt/semgrep/results/../../etc/passwd")
		assert.ErrorIs(t, err, ErrOutsideBase)
	})

	t.Run("SiblingWithSharedPrefixIsRejected", func(t *testing.T) {
		_, err := WithinBase("/mnt/semgrep/results", "/mnt/semgrep/results-other/scan.json")
		assert.ErrorIs(t, err, ErrOutsideBase)
	})

	t.Run("CaseInsensitive", func(t *testing.T) {
		path, err := WithinBase("/mnt/semgrep/results", "/MNT/semgrep/Results/scan.json")
		assert.NoError(t, err)
		assert.Equal(t, "/MNT/semgrep/Results/scan.json", path)
	})

	t.Run("MissingFileUnderBaseIsAllowed", func(t *testing.T) {
		base := t.TempDir()
		canonicalBase, err := Canonicalize(base)
		require.NoError(t, err)

		path, err := WithinBase(base, filepath.Join(base, "scans", "missing.json"))
		assert.NoError(t, err)
		assert.Equal(t, filepath.Join(canonicalBase, "scans", "missing.json"), path)
	})

	t.Run("SymlinkEscapeIsRejected", func(t *testing.T) {
		base := t.TempDir()
		outside := t.TempDir()
		secret := filepath.Join(outside, "secret.json")
		require.NoError(t, os.WriteFile(secret, []byte("{}"), 0600))
		require.NoError(t, os.Symlink(secret, filepath.Join(base, "link.json")))

		_, err := WithinBase(base, filepath.Join(base, "link.json"))
		assert.ErrorIs(t, err, ErrOutsideBase)
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := WithinBase("/mnt/semgrep/results", " ")
		assert.Error(t, err)
	})
}
