package urlnorm

import "testing"

func TestNormalize_Strict(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		canonical string
		want      string
	}{
		{
			name: "lowercase host and scheme",
			url:  "HTTPS://Example.COM/Article",
			want: "https://example.com/Article",
		},
		{
			name: "default https port stripped",
			url:  "https://example.com:443/a",
			want: "https://example.com/a",
		},
		{
			name: "default http port stripped",
			url:  "http://example.com:80/a",
			want: "http://example.com/a",
		},
		{
			name: "non-default port kept",
			url:  "https://example.com:8443/a",
			want: "https://example.com:8443/a",
		},
		{
			name: "trailing slash stripped except root",
			url:  "https://example.com/a/",
			want: "https://example.com/a",
		},
		{
			name: "root slash kept",
			url:  "https://example.com/",
			want: "https://example.com/",
		},
		{
			name: "bare host with no path defaults to root",
			url:  "https://example.com",
			want: "https://example.com/",
		},
		{
			name: "collapse repeated slashes",
			url:  "https://example.com/a//b///c",
			want: "https://example.com/a/b/c",
		},
		{
			name: "fragment dropped",
			url:  "https://example.com/a#section-2",
			want: "https://example.com/a",
		},
		{
			name: "utm params stripped",
			url:  "https://example.com/a?utm_source=x&utm_medium=y&id=5",
			want: "https://example.com/a?id=5",
		},
		{
			name: "named tracking params stripped",
			url:  "https://example.com/a?fbclid=1&gclid=2&mc_eid=3&x=1",
			want: "https://example.com/a?x=1",
		},
		{
			name:      "canonical preferred over url",
			url:       "https://example.com/amp/a",
			canonical: "https://example.com/a",
			want:      "https://example.com/a",
		},
		{
			name: "query order preserved",
			url:  "https://example.com/a?b=1&a=2&utm_source=x",
			want: "https://example.com/a?b=1&a=2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.url, tt.canonical, ModeStrict)
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Normalize() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	urls := []string{
		"HTTPS://Example.COM:443/a/b//c/?utm_source=x&id=5#frag",
		"http://news.example.com/",
		"https://example.com/story/2026/a-thing?fbclid=abc",
	}

	for _, u := range urls {
		once, err := Normalize(u, "", ModeStrict)
		if err != nil {
			t.Fatalf("Normalize() error = %v", err)
		}
		twice, err := Normalize(once, "", ModeStrict)
		if err != nil {
			t.Fatalf("Normalize() second pass error = %v", err)
		}
		if once != twice {
			t.Errorf("normalize not idempotent: %q != %q", once, twice)
		}
	}
}

func TestNormalize_TrackingEquivalence(t *testing.T) {
	a, err := Normalize("https://Example.com/a/?utm_source=x", "", ModeStrict)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Normalize("https://example.com/a", "", ModeStrict)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("expected equivalent normalized urls, got %q and %q", a, b)
	}
}

func TestNormalize_LenientKeepsQuery(t *testing.T) {
	got, err := Normalize("https://Example.com/a?utm_source=x&id=1", "", ModeLenient)
	if err != nil {
		t.Fatal(err)
	}
	want := "https://example.com/a?utm_source=x&id=1"
	if got != want {
		t.Errorf("Normalize(lenient) = %q, want %q", got, want)
	}
}

func TestNormalize_NoneUnchanged(t *testing.T) {
	got, err := Normalize("https://Example.com/a?utm_source=x", "", ModeNone)
	if err != nil {
		t.Fatal(err)
	}
	if got != "https://Example.com/a?utm_source=x" {
		t.Errorf("Normalize(none) changed input: %q", got)
	}
}

func TestNormalize_EmptyInputsError(t *testing.T) {
	if _, err := Normalize("", "", ModeStrict); err == nil {
		t.Error("expected error for empty url and canonical")
	}
}

func TestHash_StableAcrossCalls(t *testing.T) {
	normalized, err := Normalize("https://example.com/a", "", ModeStrict)
	if err != nil {
		t.Fatal(err)
	}

	h1, err := Hash(normalized, "sha256")
	if err != nil {
		t.Fatal(err)
	}
	h2, err := Hash(normalized, "sha256")
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Errorf("hash not stable: %q != %q", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("expected 64 hex chars for sha256, got %d", len(h1))
	}
}

func TestHash_UnsupportedAlgo(t *testing.T) {
	if _, err := Hash("x", "whirlpool"); err == nil {
		t.Error("expected error for unsupported algorithm")
	}
}

func TestHash_DifferentAlgosDiffer(t *testing.T) {
	sha256Hash, err := Hash("https://example.com/a", "sha256")
	if err != nil {
		t.Fatal(err)
	}
	sha1Hash, err := Hash("https://example.com/a", "sha1")
	if err != nil {
		t.Fatal(err)
	}
	if sha256Hash == sha1Hash {
		t.Error("expected different hashes for different algorithms")
	}
}
