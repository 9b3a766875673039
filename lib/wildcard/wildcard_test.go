package wildcard

import "testing"

func TestWildCard(t *testing.T) {
	p := CompilePattern("")
	if !p.IsMatch("") {
		t.Error("empty pattern should match empty string")
	}
	p = CompilePattern("a")
	if !p.IsMatch("a") {
		t.Error("literal should match itself")
	}
	if p.IsMatch("b") {
		t.Error("literal should not match other byte")
	}

	p = CompilePattern("a?")
	if !p.IsMatch("ab") {
		t.Error("? should match one byte")
	}
	if p.IsMatch("a") || p.IsMatch("abb") || p.IsMatch("bb") {
		t.Error("? must match exactly one byte")
	}

	p = CompilePattern("a*")
	for _, s := range []string{"a", "ab", "abb"} {
		if !p.IsMatch(s) {
			t.Errorf("a* should match %s", s)
		}
	}
	if p.IsMatch("bb") {
		t.Error("a* should not match bb")
	}

	p = CompilePattern("h[ae]llo")
	if !p.IsMatch("hallo") || !p.IsMatch("hello") {
		t.Error("set should match listed bytes")
	}
	if p.IsMatch("hillo") {
		t.Error("set should not match unlisted byte")
	}

	p = CompilePattern(`a\*`)
	if !p.IsMatch("a*") {
		t.Error("escaped star should match literal *")
	}
	if p.IsMatch("ab") {
		t.Error("escaped star should not act as wildcard")
	}

	p = CompilePattern("*user:*:cart")
	if !p.IsMatch("app:user:42:cart") {
		t.Error("multi star backtracking failed")
	}
}
