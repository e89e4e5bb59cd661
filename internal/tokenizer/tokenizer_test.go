package tokenizer

import "testing"

func TestNormalizeExecutableComment(t *testing.T) {
	got := Normalize("CREATE TABLE t (a INT) /*!50100 PARTITION BY HASH(a) */")
	want := "CREATE TABLE t (a INT) PARTITION BY HASH(a)"
	if got != want {
		t.Fatalf("Normalize() = %q, want %q", got, want)
	}
}

func TestNormalizeOrdinaryCommentStripped(t *testing.T) {
	got := Normalize("ALTER   TABLE t /* comment */ ADD COLUMN  c INT")
	want := "ALTER TABLE t ADD COLUMN c INT"
	if got != want {
		t.Fatalf("Normalize() = %q, want %q", got, want)
	}
}

func TestScanKeywordsAndIdents(t *testing.T) {
	toks, err := Scan("ALTER TABLE `my table` ADD COLUMN c INT", nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []Kind{KEYWORD, KEYWORD, IDENT, KEYWORD, KEYWORD, IDENT, IDENT, END}
	if len(toks) != len(want) {
		t.Fatalf("got %d tokens, want %d: %v", len(toks), len(want), toks)
	}
	for i, k := range want {
		if toks[i].Kind != k {
			t.Errorf("token %d: kind = %v, want %v (%v)", i, toks[i].Kind, k, toks[i])
		}
	}
	if toks[2].Tag != "my table" {
		t.Errorf("backtick-quoted ident = %q, want %q", toks[2].Tag, "my table")
	}
}

func TestScanSanitizer(t *testing.T) {
	toks, err := Scan("ADD COLUMN order INT", func(ident string) string {
		if ident == "order" {
			return "order_"
		}
		return ident
	})
	if err != nil {
		t.Fatal(err)
	}
	foundSanitized := false
	for _, tk := range toks {
		if tk.Kind == IDENT && tk.Raw == "order" {
			if tk.Tag != "order_" {
				t.Errorf("sanitized tag = %q, want %q", tk.Tag, "order_")
			}
			foundSanitized = true
		}
	}
	if !foundSanitized {
		t.Fatal("expected a sanitized identifier token")
	}
}

func TestScanQuoteEscaping(t *testing.T) {
	toks, err := Scan(`RENAME TABLE 'a\'b' TO c`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if toks[2].Tag != "a'b" {
		t.Fatalf("escaped quote = %q, want %q", toks[2].Tag, "a'b")
	}
}

func TestScanUnterminatedQuote(t *testing.T) {
	_, err := Scan("ALTER TABLE `t ADD COLUMN c INT", nil)
	if err == nil {
		t.Fatal("expected TOKEN_UNTERMINATED error")
	}
	if _, ok := err.(*ErrUnterminated); !ok {
		t.Fatalf("error type = %T, want *ErrUnterminated", err)
	}
}

func TestScanNullLiteral(t *testing.T) {
	toks, err := Scan("DEFAULT NULL", nil)
	if err != nil {
		t.Fatal(err)
	}
	if toks[1].Kind != NULL_LITERAL {
		t.Fatalf("kind = %v, want NULL_LITERAL", toks[1].Kind)
	}
}
