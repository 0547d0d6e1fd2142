package transcript

import "testing"

func TestAppendJoinsWithSpace(t *testing.T) {
	a := New("es")
	gen := a.Generation()
	if !a.Append(gen, "hola", 0.8) {
		t.Fatal("expected first append applied")
	}
	if !a.Append(gen, "mundo", 0.6) {
		t.Fatal("expected second append applied")
	}
	s := a.Snapshot()
	if s.Text != "hola mundo" {
		t.Fatalf("expected %q, got %q", "hola mundo", s.Text)
	}
	if s.Confidence != 0.6 {
		t.Fatalf("expected latest confidence 0.6, got %v", s.Confidence)
	}
}

func TestResetInvalidatesOlderGeneration(t *testing.T) {
	a := New("es")
	gen := a.Generation()
	a.Reset()
	if a.Append(gen, "tarde", 0.9) {
		t.Fatal("stale fragment must be dropped")
	}
	if s := a.Snapshot(); s.Text != "" || s.Confidence != 0 {
		t.Fatalf("expected empty transcript, got %+v", s)
	}
}

func TestReplaceInvalidatesOlderGeneration(t *testing.T) {
	a := New("en")
	gen := a.Generation()
	a.Append(gen, "hello", 0.5)
	a.Replace("Hello there.")
	if a.Append(gen, "late", 0.4) {
		t.Fatal("fragment from before replace must be dropped")
	}
	if got := a.Snapshot().Text; got != "Hello there." {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestReplaceIfRequiresUnchangedRevision(t *testing.T) {
	a := New("es")
	a.Append(a.Generation(), "yo", 0.7)
	rev := a.Revision()
	a.Append(a.Generation(), "comer", 0.7)
	if a.ReplaceIf(rev, "Yo como.") {
		t.Fatal("replace against an outdated revision must be rejected")
	}
	if !a.ReplaceIf(a.Revision(), "Yo quiero comer.") {
		t.Fatal("expected replace against current revision")
	}
	if got := a.Snapshot().Text; got != "Yo quiero comer." {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestBlankFragmentIgnored(t *testing.T) {
	a := New("es")
	if a.Append(a.Generation(), "  ", 0.3) {
		t.Fatal("blank fragment must not apply")
	}
	if a.Snapshot().Revision != 0 {
		t.Fatal("blank fragment changed revision")
	}
}

func TestInvalidateKeepsText(t *testing.T) {
	a := New("es")
	gen := a.Generation()
	a.Append(gen, "hola", 1)
	a.Invalidate()
	if a.Append(gen, "adios", 1) {
		t.Fatal("expected stale after invalidate")
	}
	if got := a.Snapshot().Text; got != "hola" {
		t.Fatalf("invalidate must keep text, got %q", got)
	}
}
