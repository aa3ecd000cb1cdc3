package resource

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stagingerrors "github.com/stagefs/stagefs/pkg/staging/errors"
)

func TestValidateProjectID(t *testing.T) {
	t.Parallel()

	valid := []string{"test_project", "p1", "Project-2024", "a"}
	for _, id := range valid {
		assert.NoError(t, ValidateProjectID(id), id)
	}

	invalid := []string{"", "-leading", "_leading", "has/slash", "has space", "a.b", strings.Repeat("x", 65)}
	for _, id := range invalid {
		assert.Error(t, ValidateProjectID(id), id)
	}
}

func TestParseDir(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want Path
	}{
		{"", Root},
		{"/", Root},
		{".", Root},
		{"data", "data"},
		{"/data/", "data"},
		{"data//nested///file.txt", "data/nested/file.txt"},
		{"./data/./file.txt", "data/file.txt"},
		{"a/b/../c", "a/c"},
		{"a/..", Root},
	}

	for _, tt := range tests {
		got, err := ParseDir(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestParseDirRejectsEscapes(t *testing.T) {
	t.Parallel()

	escaping := []string{
		"..",
		"../",
		"../../etc/passwd",
		"a/../../b",
		"a/b/../../../c",
	}

	for _, raw := range escaping {
		_, err := ParseDir(raw)
		require.Error(t, err, raw)
		assert.Equal(t, stagingerrors.ErrInvalidPath, stagingerrors.CodeOf(err), raw)
	}
}

func TestParseDirRejectsNULAndOversize(t *testing.T) {
	t.Parallel()

	_, err := ParseDir("data/fi\x00le")
	assert.Equal(t, stagingerrors.ErrInvalidPath, stagingerrors.CodeOf(err))

	_, err = ParseDir(strings.Repeat("a/", 3000))
	assert.Equal(t, stagingerrors.ErrInvalidPath, stagingerrors.CodeOf(err))
}

func TestParseFileRejectsRoot(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "/", ".", "a/.."} {
		_, err := ParseFile(raw)
		require.Error(t, err, raw)
		assert.Equal(t, stagingerrors.ErrInvalidPath, stagingerrors.CodeOf(err), raw)
	}

	p, err := ParseFile("/data/file.txt")
	require.NoError(t, err)
	assert.Equal(t, Path("data/file.txt"), p)
}

func TestJoin(t *testing.T) {
	t.Parallel()

	base, err := ParseDir("archive/batch1")
	require.NoError(t, err)

	joined, err := base.Join("sub", "entry.txt")
	require.NoError(t, err)
	assert.Equal(t, Path("archive/batch1/sub/entry.txt"), joined)

	_, err = base.Join("../../../outside")
	assert.Error(t, err)
}

func TestBaseAndDir(t *testing.T) {
	t.Parallel()

	p := Path("data/nested/file.txt")
	assert.Equal(t, "file.txt", p.Base())
	assert.Equal(t, Path("data/nested"), p.Dir())

	top := Path("file.txt")
	assert.Equal(t, "file.txt", top.Base())
	assert.Equal(t, Root, top.Dir())

	assert.Equal(t, "", Root.Base())
	assert.Equal(t, Root, Root.Dir())
}

func TestHasPrefix(t *testing.T) {
	t.Parallel()

	assert.True(t, Path("data/file.txt").HasPrefix(Root))
	assert.True(t, Path("data/file.txt").HasPrefix("data"))
	assert.True(t, Path("data").HasPrefix("data"))
	assert.False(t, Path("database").HasPrefix("data"))
	assert.False(t, Path("data").HasPrefix("data/file.txt"))
}

func TestConflictsWith(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b Path
		want bool
	}{
		{"data", "data", true},
		{"data", "data/file.txt", true},
		{"data/file.txt", "data", true},
		{Root, "anything", true},
		{"anything", Root, true},
		{"data", "database", false},
		{"a/b", "a/c", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.a.ConflictsWith(tt.b), "%q vs %q", tt.a, tt.b)
		assert.Equal(t, tt.want, tt.b.ConflictsWith(tt.a), "%q vs %q (sym)", tt.b, tt.a)
	}
}

func TestSegments(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Root.Segments())
	assert.Equal(t, []string{"a", "b"}, Path("a/b").Segments())
}
