package theme

import (
	"strings"
	"testing"
)

func TestLookupBuiltins(t *testing.T) {
	for _, name := range []string{"pastel", "midnight", " Pastel ", ""} {
		th, err := Lookup(name)
		if err != nil {
			t.Fatalf("Lookup(%q) failed: %v", name, err)
		}
		if th.Title == "" || th.ButtonLabel == "" || th.CaptionPrefix == "" {
			t.Errorf("theme %s is missing copy", th.Name)
		}
		if len(th.Palette.Background) < 2 {
			t.Errorf("theme %s needs a gradient", th.Name)
		}
		if len(th.Shapes) == 0 {
			t.Errorf("theme %s has no shapes", th.Name)
		}
	}
}

func TestLookupDefault(t *testing.T) {
	th, _ := Lookup("")
	if th.Name != Default {
		t.Errorf("expected %s, got %s", Default, th.Name)
	}
	if th.Palette.Title != "#6a1b9a" {
		t.Errorf("unexpected pastel title color %s", th.Palette.Title)
	}
}

func TestLookupUnknown(t *testing.T) {
	_, err := Lookup("neon")
	if err == nil {
		t.Fatal("expected error for unknown theme")
	}
	if !strings.Contains(err.Error(), "midnight") {
		t.Errorf("error should list available themes: %v", err)
	}
}

func TestLookupReturnsCopy(t *testing.T) {
	a, _ := Lookup("pastel")
	a.Shapes[0].Kind = "changed"
	a.Palette.Background[0] = "#000000"

	b, _ := Lookup("pastel")
	if b.Shapes[0].Kind == "changed" || b.Palette.Background[0] == "#000000" {
		t.Error("Lookup must not share slices between callers")
	}
}

func TestNamesAndGradient(t *testing.T) {
	names := Names()
	if len(names) != 2 || names[0] != "midnight" || names[1] != "pastel" {
		t.Errorf("unexpected names %v", names)
	}
	th, _ := Lookup("pastel")
	if got := th.Gradient(); got != "#fde2e4, #e0f7fa, #f3e5f5, #fffde7" {
		t.Errorf("unexpected gradient %q", got)
	}
}
