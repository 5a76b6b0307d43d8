package pictures

import "testing"

func TestMemoryCacheNeverRegresses(t *testing.T) {
	c := NewMemoryCache()

	c.Put("u1", "https://cdn.example/a.png")
	c.Put("u1", "") // ignored

	got, ok := c.Get("u1")
	if !ok || got != "https://cdn.example/a.png" {
		t.Errorf("Get() = %q/%v, want cached URL", got, ok)
	}

	if _, ok := c.Get("u2"); ok {
		t.Error("Get() hit for unknown user")
	}
}
