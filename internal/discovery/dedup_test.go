package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://www.Example.co.jp/path", "example.co.jp"},
		{"example.com", "example.com"},
		{"http://example.com:8080/", "example.com"},
		{"https://WWW.EXAMPLE.COM.", "example.com"},
		{"localhost", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeDomain(tt.in))
		})
	}
}

func TestNormalizeWebsite(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"example.co.jp", "https://example.co.jp"},
		{"http://example.com/#top", "http://example.com/"},
		{"https://tabelog.com/tokyo/123", ""},
		{"https://sub.tabelog.com/x", ""},
		{"ftp://example.com", ""},
		{"  ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeWebsite(tt.in, DefaultDirectoryBlocklist))
		})
	}
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"株式会社 ＡＢＣ", "abc"},
		{"ABC(株)", "abc"},
		{"㈱ＡＢＣ", "abc"},
		{"ABC Co., Ltd.", "abc"},
		{"Princeton Dental", "princetondental"},
		{"Inc", "inc"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeName(tt.in))
		})
	}
}

func TestSyntheticKey(t *testing.T) {
	a := SyntheticKey("株式会社 ＡＢＣ", "13101")
	assert.Equal(t, a, SyntheticKey("ABC(株)", "13101"))
	assert.NotEqual(t, a, SyntheticKey("ABC(株)", "13102"))
	assert.Contains(t, a, keySynthetic)
}

func TestCanonicalKey(t *testing.T) {
	tests := []struct {
		name string
		c    Candidate
		want string
	}{
		{"registry id", Candidate{Source: SourceRegistry, ProviderID: "123", Website: "https://a.jp"}, "reg:123"},
		{"place id", Candidate{Source: SourcePlaces, ProviderID: "ChIJ1"}, "place:ChIJ1"},
		{"domain fallback", Candidate{Name: "Acme", Website: "https://www.acme.jp/"}, "domain:acme.jp"},
		{"synthetic", Candidate{Name: "Acme", LocationID: "13101"}, SyntheticKey("Acme", "13101")},
		{"nothing usable", Candidate{Name: "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalKey(tt.c))
		})
	}
}

func TestDedupe_MergesBySightingOrder(t *testing.T) {
	in := []Candidate{
		{Source: SourcePlaces, ProviderID: "p1", Name: "A"},
		{Source: SourcePlaces, ProviderID: "p1", Name: "A dup", Phone: "03-1111-2222"},
		{Name: "B", Website: "https://b.jp"},
		{Name: "B2", Website: "http://www.b.jp/contact"},
		{Name: ""},
	}

	out, dropped := Dedupe(in)
	require.Len(t, out, 2)
	assert.Equal(t, 3, dropped)

	assert.Equal(t, "place:p1", out[0].Key)
	assert.Equal(t, "A", out[0].Name)
	assert.Equal(t, "03-1111-2222", out[0].Phone)

	assert.Equal(t, "domain:b.jp", out[1].Key)
	assert.Equal(t, "B", out[1].Name)
}

func TestDedupe_Idempotent(t *testing.T) {
	in := []Candidate{
		{Source: SourceRegistry, ProviderID: "1", Name: "One"},
		{Source: SourceRegistry, ProviderID: "1", Name: "One", Email: "a@one.jp"},
		{Name: "Two", LocationID: "13101"},
		{Name: "two", LocationID: "13101"},
		{Name: "Three", Website: "three.jp"},
	}

	once, _ := Dedupe(in)
	twice, dropped := Dedupe(once)
	assert.Equal(t, once, twice)
	assert.Zero(t, dropped)
	assert.Len(t, once, 3)
}
