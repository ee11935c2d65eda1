package ctoken

import "testing"

func collect(t *Tokenizer, reserved ReservedWordFunc) []Token {
	var out []Token
	for {
		tok := t.NextToken("", reserved)
		out = append(out, tok)
		if tok.Type == EOF {
			return out
		}
	}
}

func cReserved(text string) (TokenType, bool) {
	switch text {
	case "int", "void", "return", "struct":
		return 1000, true
	}
	return 0, false
}

func TestSymbolsAndPunctuation(t *testing.T) {
	tok := New([]byte("foo(bar);"), false)
	toks := collect(tok, nil)
	if len(toks) != 6 { // foo ( bar ) ; EOF
		t.Fatalf("got %d tokens: %+v", len(toks), toks)
	}
	if toks[0].Type != SYMBOL || toks[0].Text != "foo" {
		t.Fatalf("toks[0] = %+v", toks[0])
	}
	if toks[1].Type != TokenType('(') {
		t.Fatalf("toks[1] = %+v", toks[1])
	}
	if toks[4].Type != TokenType(';') {
		t.Fatalf("toks[4] = %+v", toks[4])
	}
	if toks[5].Type != EOF {
		t.Fatalf("toks[5] = %+v", toks[5])
	}
}

func TestReservedWordFn(t *testing.T) {
	tok := New([]byte("int main"), false)
	toks := collect(tok, cReserved)
	if toks[0].Type != 1000 || toks[0].Text != "int" {
		t.Fatalf("toks[0] = %+v", toks[0])
	}
	if toks[1].Type != SYMBOL || toks[1].Text != "main" {
		t.Fatalf("toks[1] = %+v", toks[1])
	}
}

func TestLineCommentsElided(t *testing.T) {
	tok := New([]byte("foo // this is a comment\nbar"), false)
	toks := collect(tok, nil)
	if len(toks) != 3 || toks[0].Text != "foo" || toks[1].Text != "bar" {
		t.Fatalf("got %+v", toks)
	}
	if toks[1].Line != 2 {
		t.Fatalf("bar line = %d, want 2", toks[1].Line)
	}
}

func TestBlockCommentsElided(t *testing.T) {
	tok := New([]byte("foo /* multi\nline\ncomment */ bar"), false)
	toks := collect(tok, nil)
	if len(toks) != 3 || toks[0].Text != "foo" || toks[1].Text != "bar" {
		t.Fatalf("got %+v", toks)
	}
	if toks[1].Line != 3 {
		t.Fatalf("bar line = %d, want 3", toks[1].Line)
	}
}

func TestStringLiteralElided(t *testing.T) {
	tok := New([]byte(`foo "a string with \" escape" bar`), false)
	toks := collect(tok, nil)
	if len(toks) != 3 || toks[0].Text != "foo" || toks[1].Text != "bar" {
		t.Fatalf("got %+v", toks)
	}
}

func TestCharLiteralTerminatesAtNewline(t *testing.T) {
	tok := New([]byte("foo 'a\nbar"), false)
	toks := collect(tok, nil)
	if len(toks) != 3 || toks[0].Text != "foo" || toks[1].Text != "bar" {
		t.Fatalf("got %+v", toks)
	}
}

func TestBackslashContinuation(t *testing.T) {
	tok := New([]byte("foo\\\nbar"), false)
	toks := collect(tok, nil)
	if len(toks) != 3 {
		t.Fatalf("got %+v, want foo bar EOF (backslash-newline elided)", toks)
	}
	if toks[0].Text != "foo" || toks[1].Text != "bar" {
		t.Fatalf("got %+v", toks)
	}
}

func TestDirectiveRecognitionAtColumnZero(t *testing.T) {
	tok := New([]byte("#include <foo.h>\nint x;"), false)
	first := tok.NextToken("", nil)
	if first.Type != SharpInclude {
		t.Fatalf("first = %+v, want SharpInclude", first)
	}
}

func TestHashNotAtColumnZeroIsPunctuation(t *testing.T) {
	tok := New([]byte("a # b"), false)
	tok.NextToken("", nil) // "a"
	hash := tok.NextToken("", nil)
	if hash.Type != TokenType('#') {
		t.Fatalf("hash = %+v, want punctuation #", hash)
	}
}

func TestSharpPaste(t *testing.T) {
	tok := New([]byte("a ## b"), false)
	tok.NextToken("", nil) // "a"
	paste := tok.NextToken("", nil)
	if paste.Type != SharpPaste {
		t.Fatalf("paste = %+v, want SharpPaste", paste)
	}
}

func TestYaccDirectives(t *testing.T) {
	tok := New([]byte("%{\nfoo\n%}\n%%\n%union"), true)
	begin := tok.NextToken("", nil)
	if begin.Type != YaccBegin {
		t.Fatalf("begin = %+v", begin)
	}
	sym := tok.NextToken("", nil)
	if sym.Type != SYMBOL || sym.Text != "foo" {
		t.Fatalf("sym = %+v", sym)
	}
	end := tok.NextToken("", nil)
	if end.Type != YaccEnd {
		t.Fatalf("end = %+v", end)
	}
	sep := tok.NextToken("", nil)
	if sep.Type != YaccSep {
		t.Fatalf("sep = %+v", sep)
	}
	union := tok.NextToken("", nil)
	if union.Type != YaccUnion {
		t.Fatalf("union = %+v", union)
	}
}

func TestPushbackToken(t *testing.T) {
	tok := New([]byte("foo bar"), false)
	first := tok.NextToken("", nil)
	tok.PushbackToken(first)
	again := tok.NextToken("", nil)
	if again.Text != first.Text {
		t.Fatalf("pushback mismatch: %+v vs %+v", again, first)
	}
	second := tok.NextToken("", nil)
	if second.Text != "bar" {
		t.Fatalf("second = %+v, want bar", second)
	}
}

func TestPeekCharSkipsInsignificant(t *testing.T) {
	tok := New([]byte("  // comment\nbar"), false)
	if got := tok.PeekChar(false); got != 'b' {
		t.Fatalf("PeekChar(false) = %q, want b", got)
	}
	// Peek must not have consumed anything.
	tok2 := tok.NextToken("", nil)
	if tok2.Text != "bar" {
		t.Fatalf("next after peek = %+v", tok2)
	}
}

func TestExpectCharSet(t *testing.T) {
	tok := New([]byte("abc,def"), false)
	captured := tok.ExpectCharSet(",")
	if captured != "abc" {
		t.Fatalf("ExpectCharSet = %q, want abc", captured)
	}
}

func TestStopCharsEndsSymbolEarly(t *testing.T) {
	tok := New([]byte("foo::bar"), false)
	first := tok.NextToken(":", nil)
	if first.Text != "foo" {
		t.Fatalf("first = %+v, want foo", first)
	}
}

func TestTryReadQuoted(t *testing.T) {
	tok := New([]byte(`extern "C" {`), false)
	tok.NextToken("", nil) // "extern"
	text, ok := tok.TryReadQuoted()
	if !ok || text != "C" {
		t.Fatalf("TryReadQuoted = %q, %v, want C, true", text, ok)
	}
	brace := tok.NextToken("", nil)
	if brace.Type != TokenType('{') {
		t.Fatalf("brace = %+v", brace)
	}
}

func TestStack(t *testing.T) {
	var s Stack
	outer := New([]byte("outer"), false)
	inner := New([]byte("inner"), false)
	s.Push(outer)
	if s.Current() != outer {
		t.Fatalf("Current should be outer")
	}
	s.Push(inner)
	if s.Current() != inner {
		t.Fatalf("Current should be inner")
	}
	popped := s.Pop()
	if popped != inner {
		t.Fatalf("Pop should return inner")
	}
	if s.Current() != outer {
		t.Fatalf("Current should be back to outer")
	}
	if s.Depth() != 1 {
		t.Fatalf("Depth = %d, want 1", s.Depth())
	}
}
