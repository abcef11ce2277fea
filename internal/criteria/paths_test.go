package criteria

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithin(t *testing.T) {
	assert.True(t, Within("/data/cmip5/file.nc", "/data"))
	assert.True(t, Within("/data", "/data"))
	assert.True(t, Within("/data/", "/data"))
	assert.False(t, Within("/data2/file.nc", "/data"))
	assert.False(t, Within("/dat", "/data"))
	assert.True(t, Within("/anything", "/"))
	assert.True(t, Within("rel/x", "rel"))
	assert.False(t, Within("/rel/x", "rel"))
}

func TestAncestors(t *testing.T) {
	assert.Equal(t,
		[]string{"/data/cmip5/file.nc", "/data/cmip5", "/data", "/"},
		Ancestors("/data/cmip5/file.nc"))
	assert.Equal(t, []string{"/"}, Ancestors("/"))
	assert.Equal(t, []string{"a/b", "a", "."}, Ancestors("a/b"))
}

func TestAncestorsAgreeWithWithin(t *testing.T) {
	p := "/data/cmip5/tas/file.nc"
	for _, a := range Ancestors(p) {
		assert.True(t, Within(p, a), a)
	}
}

func TestExtensionsOf(t *testing.T) {
	assert.Equal(t, []string{".tar.gz", ".gz"}, ExtensionsOf("a.tar.gz"))
	assert.Equal(t, []string{".nc"}, ExtensionsOf("file.nc"))
	assert.Empty(t, ExtensionsOf(".bashrc"))
	assert.Empty(t, ExtensionsOf("Makefile"))
}
