package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClean(t *testing.T) {
	tests := map[string]string{
		"":                "",
		"/":               "",
		"backup":          "backup",
		"/backup/photos/": "backup/photos",
		`backup\photos`:   `backup\photos`,
		"a/./b/../c":      "a/c",
		"../../escape":    "escape",
	}
	for in, want := range tests {
		assert.Equal(t, want, Clean(in), "Clean(%q)", in)
	}
}

func TestCleanRoot(t *testing.T) {
	assert.Equal(t, "backup/photos", CleanRoot(`backup\photos`))
	assert.Equal(t, "backup/photos", CleanRoot(`\backup\photos\`))
	assert.Equal(t, "backup", CleanRoot("/backup/"))
}

func TestJoin_KeepsBackslash(t *testing.T) {
	assert.Equal(t, `backup/a\b.txt`, Join("backup", `a\b.txt`))
	assert.Equal(t, `a\b.txt`, Base(`backup/a\b.txt`))
	assert.Equal(t, "backup", Dir(`backup/a\b.txt`))
	assert.True(t, ValidKey(`backup/a\b.txt`))
	assert.False(t, ValidKey(`..\escape`))
}

func TestJoinBaseDir(t *testing.T) {
	assert.Equal(t, "backup/photos/a.jpg", Join("/backup", "photos", "a.jpg"))
	assert.Equal(t, "a.jpg", Join("", "a.jpg"))
	assert.Equal(t, "a.jpg", Base("backup/photos/a.jpg"))
	assert.Equal(t, "backup/photos", Dir("backup/photos/a.jpg"))
	assert.Equal(t, "", Dir("a.jpg"))
	assert.Equal(t, "", Base(""))
}

func TestValidKey(t *testing.T) {
	assert.True(t, ValidKey("backup/a.txt"))
	assert.False(t, ValidKey(""))
	assert.False(t, ValidKey("backup/"))
	assert.False(t, ValidKey("../etc/passwd"))
	assert.False(t, ValidKey("/"))
}
