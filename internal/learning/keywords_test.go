package learning

import (
	"reflect"
	"strings"
	"testing"
)

func TestExtractKeywordsBasic(t *testing.T) {
	got := ExtractKeywords("Add OAuth login, with token refresh!")
	want := []string{"oauth", "login", "token", "refresh"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestExtractKeywordsDropsShortAndStopWords(t *testing.T) {
	got := ExtractKeywords("we should fix the bug that this api has")
	for _, k := range got {
		if len(k) < minTokenLen {
			t.Errorf("token %q shorter than %d", k, minTokenLen)
		}
		if stopWords[k] {
			t.Errorf("stop word %q leaked through", k)
		}
	}
}

func TestExtractKeywordsCap(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 30; i++ {
		b.WriteString("keyword")
		b.WriteString(strings.Repeat("x", i+1))
		b.WriteString(" ")
	}
	got := ExtractKeywords(b.String())
	if len(got) > maxKeywords {
		t.Errorf("expected at most %d keywords, got %d", maxKeywords, len(got))
	}
}

func TestExtractKeywordsDedupPreservesOrder(t *testing.T) {
	got := ExtractKeywords("deploy deploy rollback deploy rollback")
	want := []string{"deploy", "rollback"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestExtractKeywordsIdempotent(t *testing.T) {
	text := "Implement payment gateway integration with retry logic"
	first := ExtractKeywords(text)
	second := ExtractKeywords(text)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("not idempotent: %v vs %v", first, second)
	}
}

func TestExtractKeywordsEmpty(t *testing.T) {
	if got := ExtractKeywords("a an it !!! ..."); len(got) != 0 {
		t.Errorf("expected no keywords, got %v", got)
	}
}
