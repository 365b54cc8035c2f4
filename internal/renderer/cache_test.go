package renderer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCacheKey(t *testing.T) {
	inline := RenderRequest{ID: "a", Tex: "x"}
	display := RenderRequest{ID: "a", Tex: "x", DisplayMode: true}
	otherID := RenderRequest{ID: "b", Tex: "x"}

	assert.Equal(t, CacheKey("p", inline), CacheKey("p", otherID))
	assert.NotEqual(t, CacheKey("p", inline), CacheKey("p", display))
	assert.NotEqual(t, CacheKey("p", inline), CacheKey("q", inline))
	assert.NotEqual(t, CacheKey("p\x00", RenderRequest{Tex: "x"}), CacheKey("p", RenderRequest{Tex: "\x00x"}))
}

func TestCacheLRU(t *testing.T) {
	c := NewCache(2)
	c.Add("a", "A")
	c.Add("b", "B")

	_, ok := c.Get("a")
	assert.True(t, ok)

	c.Add("c", "C")
	_, ok = c.Get("b")
	assert.False(t, ok, "least recently used entry evicted")

	svg, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "A", svg)
	assert.Equal(t, 2, c.Len())

	c.Add("a", "A2")
	svg, _ = c.Get("a")
	assert.Equal(t, "A2", svg)
	assert.Equal(t, 2, c.Len())
}

func TestCachePurge(t *testing.T) {
	c := NewCache(4)
	c.Add("a", "A")
	c.Purge()

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestCacheDisabled(t *testing.T) {
	c := NewCache(0)
	c.Add("a", "A")
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Zero(t, c.Len())

	var nilCache *Cache
	assert.NotPanics(t, func() {
		nilCache.Add("a", "A")
		nilCache.Purge()
		_, _ = nilCache.Get("a")
	})
}
