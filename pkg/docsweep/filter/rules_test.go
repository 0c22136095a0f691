package filter

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	r, err := New(t.TempDir())
	require.NoError(t, err)

	assert.True(t, r.AllowFile("a.md"))
	assert.True(t, r.AllowFile("deep/nested/file.bin"))
	assert.True(t, r.AllowDir("docs"))
	assert.Equal(t, 0, r.MaxDepth())
}

func TestRules_Extensions(t *testing.T) {
	r, err := New(t.TempDir(), WithExtensions("md", ".DOCX", " "))
	require.NoError(t, err)

	assert.True(t, r.AllowFile("a.md"))
	assert.True(t, r.AllowFile("A.MD"))
	assert.True(t, r.AllowFile("docs/report.docx"))
	assert.False(t, r.AllowFile("main.go"))
	assert.False(t, r.AllowFile("README"))

	// Directories are never filtered by extension.
	assert.True(t, r.AllowDir("src"))
}

func TestRules_ExcludeDirs(t *testing.T) {
	r, err := New(t.TempDir(), WithExcludeDirs(DefaultExcludeDirs...), WithExcludeDirs("docs/private"))
	require.NoError(t, err)

	assert.False(t, r.AllowDir("node_modules"))
	assert.False(t, r.AllowDir("pkg/node_modules"))
	assert.False(t, r.AllowDir(".git"))
	assert.False(t, r.AllowDir("docs/private"))
	assert.True(t, r.AllowDir("docs"))
	assert.True(t, r.AllowDir("docs/public"))

	assert.False(t, r.AllowFile("node_modules/pkg/readme.md"))
	assert.False(t, r.AllowFile("docs/private/secret.md"))
	assert.True(t, r.AllowFile("docs/a.md"))

	assert.False(t, r.Allow("pkg/node_modules/sub", true))
	assert.True(t, r.Allow("pkg/sub", true))
}

func TestRules_Whitelist(t *testing.T) {
	r, err := New(t.TempDir(), WithWhitelist("*.md", "docs/**/*.pdf"))
	require.NoError(t, err)

	assert.True(t, r.AllowFile("a.md"))
	assert.True(t, r.AllowFile("deep/dir/b.md"), "pattern without slash matches the name at any depth")
	assert.True(t, r.AllowFile("docs/x/y.pdf"))
	assert.False(t, r.AllowFile("other/y.pdf"))
	assert.False(t, r.AllowFile("notes.txt"))
	assert.Equal(t, []string{"*.md", "docs/**/*.pdf"}, r.Patterns())
}

func TestRules_InvalidWhitelist(t *testing.T) {
	_, err := New(t.TempDir(), WithWhitelist("[unclosed"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidPattern))
}

func TestRules_MaxDepth(t *testing.T) {
	r, err := New(t.TempDir(), WithMaxDepth(2))
	require.NoError(t, err)

	assert.True(t, r.AllowFile("a.md"))
	assert.True(t, r.AllowFile("docs/a.md"))
	assert.False(t, r.AllowFile("docs/sub/a.md"))

	assert.True(t, r.AllowDir("docs"))
	assert.True(t, r.AllowDir("docs/sub"))
	assert.True(t, r.Descend("docs"))
	assert.False(t, r.Descend("docs/sub"), "directory at the limit is listed but not entered")
	assert.False(t, r.AllowDir("docs/sub/deeper"))
}

func TestRules_NegativeMaxDepth(t *testing.T) {
	r, err := New(t.TempDir(), WithMaxDepth(-3))
	require.NoError(t, err)
	assert.Equal(t, 0, r.MaxDepth())
}

func TestRules_Gitignore(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, GitignoreFile), []byte("*.log\ntmp/\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", GitignoreFile), []byte("draft.md\n"), 0o644))

	r, err := New(root, WithGitignore(true))
	require.NoError(t, err)

	assert.False(t, r.AllowFile("debug.log"))
	assert.False(t, r.AllowDir("tmp"))
	assert.True(t, r.AllowFile("a.md"))

	// Nested ignore files apply once loaded.
	assert.True(t, r.AllowFile("sub/draft.md"))
	r.LoadIgnoreFile("sub")
	assert.False(t, r.AllowFile("sub/draft.md"))
	assert.True(t, r.AllowFile("draft.md"), "nested rule is anchored at its directory")

	r.ForgetIgnoreFile("sub")
	assert.True(t, r.AllowFile("sub/draft.md"))
}

func TestRules_GitignoreDisabled(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, GitignoreFile), []byte("*.log\n"), 0o644))

	r, err := New(root)
	require.NoError(t, err)
	assert.True(t, r.AllowFile("debug.log"))
}
