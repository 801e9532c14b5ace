package inputs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

func paths(in []Input) []string {
	out := make([]string, len(in))
	for i, x := range in {
		out[i] = x.Path
	}
	return out
}

func TestExpand_PlainPaths(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.png")
	b := filepath.Join(dir, "b.jpg")
	writeFile(t, a, 3)
	writeFile(t, b, 5)

	res, err := Expand([]string{b, a, b}, Config{})
	require.NoError(t, err)
	assert.Equal(t, []string{b, a}, paths(res.Inputs), "order kept, duplicates dropped")
	assert.Equal(t, int64(5), res.Inputs[0].Size)
}

func TestExpand_PlainPathErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Expand([]string{filepath.Join(dir, "missing.png")}, Config{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	_, err = Expand([]string{dir}, Config{})
	assert.ErrorIs(t, err, ErrNotRegular)

	big := filepath.Join(dir, "big.png")
	writeFile(t, big, 2048)
	_, err = Expand([]string{big}, Config{MaxSize: KiB})
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestExpand_Glob(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "photos", "chair.png"), 1)
	writeFile(t, filepath.Join(dir, "photos", "2024", "table.png"), 1)
	writeFile(t, filepath.Join(dir, "photos", "2024", "notes.txt"), 1)
	writeFile(t, filepath.Join(dir, "photos", ".cache", "thumb.png"), 1)
	writeFile(t, filepath.Join(dir, "photos", "draft-lamp.png"), 1)
	writeFile(t, filepath.Join(dir, "photos", "huge.png"), 4096)

	pattern := filepath.ToSlash(dir) + "/photos/**/*.png"
	res, err := Expand([]string{pattern}, Config{Excludes: []string{"draft-*"}, MaxSize: KiB})
	require.NoError(t, err)

	var got []string
	for _, p := range paths(res.Inputs) {
		got = append(got, filepath.Base(p))
	}
	assert.ElementsMatch(t, []string{"chair.png", "table.png"}, got)

	reasons := map[string]string{}
	for _, s := range res.Skipped {
		reasons[filepath.Base(s.Path)] = s.Reason
	}
	assert.Equal(t, "hidden", reasons["thumb.png"])
	assert.Equal(t, "excluded by draft-*", reasons["draft-lamp.png"])
	assert.Equal(t, "larger than 1.0KiB", reasons["huge.png"])
}

func TestExpand_GlobIncludeHidden(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".cache", "thumb.png"), 1)

	res, err := Expand([]string{filepath.ToSlash(dir) + "/**/*.png"}, Config{IncludeHidden: true})
	require.NoError(t, err)
	assert.Len(t, res.Inputs, 1)
}

func TestExpand_HiddenRootIsExplicit(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".cache", "thumb.png"), 1)

	res, err := Expand([]string{filepath.ToSlash(dir) + "/.cache/*.png"}, Config{})
	require.NoError(t, err)
	assert.Len(t, res.Inputs, 1, "a dot-directory named before the glob is not hidden")
}

func TestExpand_NoMatches(t *testing.T) {
	dir := t.TempDir()
	res, err := Expand([]string{filepath.ToSlash(dir) + "/*.png"}, Config{})
	assert.ErrorIs(t, err, ErrNoInputs)
	require.NotNil(t, res)
	assert.Empty(t, res.Inputs)
}

func TestExpand_InvalidPatterns(t *testing.T) {
	_, err := Expand([]string{"photos/[.png"}, Config{})
	var perr *PatternError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, ErrInvalidPattern)

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.png"), 1)
	_, err = Expand([]string{filepath.Join(dir, "a.png")}, Config{Excludes: []string{"[bad"}})
	assert.ErrorIs(t, err, ErrInvalidPattern)
}

func TestIsGlobPattern(t *testing.T) {
	tests := []struct {
		pattern string
		want    bool
	}{
		{"photos/**/*.png", true},
		{"photos/chair?.png", true},
		{"photos/[ab].png", true},
		{"photos/{a,b}.png", true},
		{`photos/chair\*.png`, false},
		{"photos/chair.png", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsGlobPattern(tt.pattern), tt.pattern)
	}
}

func TestStaticRoot(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{"photos/2024/**/*.png", "photos/2024/"},
		{"*.png", ""},
		{"photos/chair.png", "photos/chair.png"},
		{"photos/img-*.png", "photos/"},
		{`photos\2024\chair.png`, "photos/2024/chair.png"},
		{`photos/\[raw\]/*.png`, "photos/[raw]/"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StaticRoot(tt.pattern), tt.pattern)
	}
}

func TestNormalizePattern(t *testing.T) {
	assert.Equal(t, "photos/2024/chair.png", NormalizePattern(`photos\2024\chair.png`))
	assert.Equal(t, `photos/chair\*.png`, NormalizePattern(`photos/chair\*.png`))
	assert.Equal(t, "photos/a.png", NormalizePattern("photos/a.png"))
}

func TestIsHidden(t *testing.T) {
	assert.False(t, IsHidden("photos/chair.png"))
	assert.False(t, IsHidden("./photos/chair.png"))
	assert.False(t, IsHidden("../photos/chair.png"))
	assert.True(t, IsHidden(".cache/chair.png"))
	assert.True(t, IsHidden("photos/.chair.png"))
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1024", 1024, false},
		{"10MB", 10 * MB, false},
		{"32MiB", 32 * MiB, false},
		{"1.5KiB", 1536, false},
		{"2gib", 2 * GiB, false},
		{"", 0, true},
		{"MB", 0, true},
		{"10XB", 0, true},
		{"99999999999999999999", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidSize, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512B", FormatSize(512))
	assert.Equal(t, "1.5KiB", FormatSize(1536))
	assert.Equal(t, "32.0MiB", FormatSize(32*MiB))
	assert.Equal(t, "2.0GiB", FormatSize(2*GiB))
}
