package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey_EquivalentURLsMatch(t *testing.T) {
	tests := []struct {
		a, b string
	}{
		{"https://x.com/a/?q=1", "http://x.com/a"},
		{"https://X.COM/a#frag", "x.com/a"},
		{"https://a.com/x/", "a.com/x"},
		{"//a.com/x", "https://a.com/x/"},
		{"https://a.com/", "a.com"},
		{"  https://a.com/x  ", "http://a.com/x"},
		{"https://user:pw@a.com/x", "a.com/x"},
	}
	for _, tt := range tests {
		t.Run(tt.a, func(t *testing.T) {
			assert.Equal(t, Key(tt.b), Key(tt.a))
		})
	}
}

func TestKey_Values(t *testing.T) {
	assert.Equal(t, "x.com/a", Key("https://x.com/a/?q=1"))
	assert.Equal(t, "x.com", Key("https://x.com/"))
	assert.Equal(t, "/pricing", Key("/pricing/"))
	assert.Equal(t, "/", Key("/"))
	assert.Equal(t, "localhost:8080/a", Key("http://LOCALHOST:8080/a"))
}

func TestKey_PathCasePreservedByDefault(t *testing.T) {
	assert.Equal(t, "x.com/About", Key("https://X.com/About"))
	assert.NotEqual(t, Key("https://x.com/About"), Key("https://x.com/about"))
}

func TestKey_FoldPathCasePolicy(t *testing.T) {
	n := Normalizer{Policy: Policy{FoldPathCase: true}}
	assert.Equal(t, n.Key("https://x.com/about"), n.Key("https://x.com/About"))
}

func TestKey_StripWWWPolicy(t *testing.T) {
	n := Normalizer{Policy: Policy{StripWWW: true}}
	assert.Equal(t, "x.com/a", n.Key("https://www.x.com/a"))
	assert.Equal(t, "www.x.com/a", Key("https://www.x.com/a"))
}

func TestKey_SingleLabelAndIPv6Hosts(t *testing.T) {
	assert.Equal(t, "intranet/Docs/A", Key("https://intranet/Docs/A"))
	assert.Equal(t, "intranet/Docs/A", Key("intranet/Docs/A"))
	assert.Equal(t, "[::1]:8080/A", Key("http://[::1]:8080/A/"))
	assert.Equal(t, "[::1]/A", Key("[::1]/A"))
	assert.True(t, Normalizer{}.HasHost("[::1]/A"))
	assert.False(t, Normalizer{}.HasHost("[::1/A"))
}

func TestKey_Fallback(t *testing.T) {
	assert.Equal(t, "hello world", Key("  Hello World "))
	assert.Equal(t, "pricing", Key("Pricing"))
	assert.Equal(t, "", Key("   "))
	assert.Equal(t, "mailto:foo@bar.com", Key("mailto:Foo@Bar.com"))
}

func TestKey_Idempotent(t *testing.T) {
	inputs := []string{
		"https://x.com/a/?q=1",
		"http://X.com/A/B/",
		"/Pricing/",
		"/",
		"a.com/x",
		"Hello World",
		"https:///broken",
		"https://www.x.com",
		"",
		"x.com:443/a?b#c",
		"https://intranet/Docs/A",
		"intranet/Docs/A",
		"http://[::1]:8080/A/",
		"[::1]/A",
		"https://foo!bar/A",
		"mailto:Foo@Bar.com",
	}
	policies := []Normalizer{
		{},
		{Policy: Policy{FoldPathCase: true}},
		{Policy: Policy{StripWWW: true}},
	}
	for _, n := range policies {
		for _, in := range inputs {
			k := n.Key(in)
			assert.Equal(t, k, n.Key(k), "input %q policy %+v", in, n.Policy)
		}
	}
}

func TestPathKey(t *testing.T) {
	assert.Equal(t, "/x", PathKey("https://a.com/x/"))
	assert.Equal(t, "/x", PathKey("/x"))
	assert.Equal(t, "/", PathKey("https://a.com"))
}

func TestHasHost(t *testing.T) {
	n := Normalizer{}
	assert.True(t, n.HasHost("https://a.com/x"))
	assert.True(t, n.HasHost("a.com/x"))
	assert.False(t, n.HasHost("/x"))
	assert.False(t, n.HasHost("hello world"))
}
