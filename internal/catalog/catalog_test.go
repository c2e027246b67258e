package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStyles = []Style{
	{ID: "id-general", Name: "General"},
	{ID: "id-y2k", Name: "Y2K"},
	{ID: "id-90s", Name: "90's Grain"},
	{ID: "id-film", Name: "Film-Noir Look"},
}

func TestResolveStyle(t *testing.T) {
	c := New(testStyles)
	tests := []struct {
		name, style, id, want string
	}{
		{"explicit id wins", "y2k", "given", "given"},
		{"case insensitive", "y2k", "", "id-y2k"},
		{"apostrophe dropped", "90s grain", "", "id-90s"},
		{"hyphen and space equal", "film noir-look", "", "id-film"},
		{"id as name", "id-y2k", "", "id-y2k"},
		{"unknown falls back to general", "vaporwave", "", "id-general"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.ResolveStyle(tt.style, tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveStyleWithoutGeneral(t *testing.T) {
	c := New([]Style{{ID: "a", Name: "Alpha"}})
	_, err := c.ResolveStyle("beta", "")
	assert.ErrorIs(t, err, ErrStyleUnresolved)

	_, err = c.ResolveStyle("", "")
	assert.ErrorIs(t, err, ErrStyleUnresolved)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	c, err := Load(filepath.Join(dir, "missing.json"))
	require.NoError(t, err)
	assert.Empty(t, c.Styles())

	path := filepath.Join(dir, "styles.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"s1","name":"General","description":"d","preview_url":"https://x/p.webp"}]`), 0o600))
	c, err = Load(path)
	require.NoError(t, err)
	require.Len(t, c.Styles(), 1)
	assert.Equal(t, "https://x/p.webp", c.Styles()[0].PreviewURL)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"id":1}`), 0o600))
	_, err = Load(bad)
	assert.Error(t, err)
}

func TestStylesIsACopy(t *testing.T) {
	c := New(testStyles)
	s := c.Styles()
	s[0].Name = "changed"
	assert.Equal(t, "General", c.Styles()[0].Name)
}

func TestDimensions(t *testing.T) {
	d, ok := StandardDimensions("16:9")
	require.True(t, ok)
	assert.Equal(t, Dimensions{1344, 768}, d)

	_, ok = StandardDimensions("2:3")
	assert.False(t, ok)

	d, ok = SoulDimensions("1080p", "2:3")
	require.True(t, ok)
	assert.Equal(t, Dimensions{1365, 2048}, d)

	d, ok = SoulDimensions("4k", "1:1")
	require.True(t, ok)
	assert.Equal(t, Dimensions{1152, 1152}, d)

	_, ok = SoulDimensions("720p", "21:9")
	assert.False(t, ok)
}

func TestMotionsAndFrames(t *testing.T) {
	c := New(nil)
	m, ok := c.Motion("GENERAL")
	require.True(t, ok)
	assert.Equal(t, "d2389a9a-91c2-4276-bc9c-c9e35e8fb85a", m.ID)

	_, ok = c.Motion("general")
	assert.False(t, ok)

	all := c.Motions()
	assert.Len(t, all, 12)
	assert.Equal(t, "3D_ROTATION", all[0].Name)

	n, ok := Frames("5")
	require.True(t, ok)
	assert.Equal(t, 81, n)
	_, ok = Frames("4")
	assert.False(t, ok)
}
