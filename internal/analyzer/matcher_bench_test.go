package analyzer

import (
	"strings"
	"testing"
)

// benchmarkContent generates a realistic article body for benchmarking.
func benchmarkContent(size int) string {
	sb := strings.Builder{}
	sb.Grow(size)

	paragraphs := []string{
		"Newsroom staffing cuts are affecting regional coverage across the state. Editors describe a difficult budget cycle.",
		"The city council meeting addressed zoning changes downtown. Residents raised concerns about traffic and parking.",
		"Local election turnout exceeded forecasts this cycle. Officials credit expanded early voting access.",
		"A public health advisory was issued after water quality tests returned elevated readings. Officials urge caution.",
		"The school board approved a new curriculum for the fall term. Teachers will receive training over the summer.",
	}

	for sb.Len() < size {
		for _, p := range paragraphs {
			sb.WriteString(p)
			sb.WriteString(". ")
		}
	}
	return sb.String()
}

func BenchmarkFindTermMatches_SmallContent(b *testing.B) {
	content := benchmarkContent(1024)
	terms := []string{"council", "election", "advisory", "curriculum"}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		FindTermMatches(content, "https://example.com/news/test", "example.com", terms)
	}
}

func BenchmarkFindTermMatches_MediumContent(b *testing.B) {
	content := benchmarkContent(10 * 1024)
	terms := []string{"council", "election", "advisory", "curriculum", "staffing"}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		FindTermMatches(content, "https://example.com/news/test", "example.com", terms)
	}
}

func BenchmarkFindTermMatches_LargeContent(b *testing.B) {
	content := benchmarkContent(100 * 1024)
	terms := []string{"council", "election", "advisory", "curriculum", "staffing", "turnout"}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		FindTermMatches(content, "https://example.com/news/test", "example.com", terms)
	}
}

func BenchmarkFindTermMatches_ManyTerms(b *testing.B) {
	content := benchmarkContent(50 * 1024)
	terms := []string{
		"council", "election", "advisory", "curriculum", "staffing",
		"turnout", "zoning", "budget", "residents", "officials",
		"training", "coverage", "regional", "downtown", "public",
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		FindTermMatches(content, "https://example.com/news/test", "example.com", terms)
	}
}

func BenchmarkSplitIntoSentences(b *testing.B) {
	content := benchmarkContent(50 * 1024)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		splitIntoSentences(content)
	}
}

func BenchmarkSplitIntoSentences_Short(b *testing.B) {
	content := "This is a short sentence. Here is another one! And a third?"

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		splitIntoSentences(content)
	}
}

// TestFindTermMatchesBasic is a sanity check for the matcher.
func TestFindTermMatchesBasic(t *testing.T) {
	content := "City council met today. The council discussed the budget. Election turnout was high."
	terms := []string{"council", "election"}

	results := FindTermMatches(content, "https://example.com", "example.com", terms)

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	if results[0].Term != "council" {
		t.Errorf("expected term council, got %s", results[0].Term)
	}
	if results[0].Count != 2 {
		t.Errorf("expected count 2, got %d", results[0].Count)
	}

	if results[1].Term != "election" {
		t.Errorf("expected term election, got %s", results[1].Term)
	}
	if results[1].Count != 1 {
		t.Errorf("expected count 1, got %d", results[1].Count)
	}
}

func TestFindTermMatches_NoTerms(t *testing.T) {
	if got := FindTermMatches("some content", "https://example.com", "example.com", nil); got != nil {
		t.Errorf("expected nil for no terms, got %v", got)
	}
}

func TestFindTermMatches_EmptyContent(t *testing.T) {
	if got := FindTermMatches("", "https://example.com", "example.com", []string{"council"}); got != nil {
		t.Errorf("expected nil for empty content, got %v", got)
	}
}

// TestSplitIntoSentencesBasic tests sentence splitting.
func TestSplitIntoSentencesBasic(t *testing.T) {
	content := "First sentence. Second one! Third?"
	sentences := splitIntoSentences(content)

	if len(sentences) != 3 {
		t.Fatalf("expected 3 sentences, got %d", len(sentences))
	}

	if sentences[0].original != "First sentence." {
		t.Errorf("expected 'First sentence.', got '%s'", sentences[0].original)
	}
	if sentences[1].original != "Second one!" {
		t.Errorf("expected 'Second one!', got '%s'", sentences[1].original)
	}
	if sentences[2].original != "Third?" {
		t.Errorf("expected 'Third?', got '%s'", sentences[2].original)
	}
}
