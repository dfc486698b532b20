package tokenizer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var testVocab = []string{
	"[PAD]",   // 0
	"[UNK]",   // 1
	"[CLS]",   // 2
	"[SEP]",   // 3
	"[DEC]",   // 4
	"a",       // 5
	"dog",     // 6
	"running", // 7
	"on",      // 8
	"the",     // 9
	"grass",   // 10
	"##es",    // 11
	".",       // 12
	"it",      // 13
	"'",       // 14
	"s",       // 15
}

func TestDecodeSkipsSpecialTokens(t *testing.T) {
	d := New(testVocab, nil)

	got, err := d.Decode([]int{4, 5, 6, 7, 8, 9, 10, 3, 0, 0}, true)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got != "a dog running on the grass" {
		t.Errorf("unexpected caption %q", got)
	}
	for _, marker := range []string{"[SEP]", "[DEC]", "[PAD]"} {
		if strings.Contains(got, marker) {
			t.Errorf("caption %q still contains %s", got, marker)
		}
	}
}

func TestDecodeKeepsSpecialTokensWhenAsked(t *testing.T) {
	d := New(testVocab, nil)

	got, err := d.Decode([]int{4, 6, 3}, false)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got != "[DEC] dog [SEP]" {
		t.Errorf("unexpected text %q", got)
	}
}

func TestDecodeMergesContinuationsAndPunctuation(t *testing.T) {
	d := New(testVocab, nil)

	got, err := d.Decode([]int{10, 11, 12}, true)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got != "grasses." {
		t.Errorf("expected %q, got %q", "grasses.", got)
	}
}

func TestDecodeOutOfRange(t *testing.T) {
	d := New(testVocab, nil)

	if _, err := d.Decode([]int{5, 999}, true); err == nil {
		t.Error("expected error for out-of-range id")
	}
	if _, err := d.Decode([]int{-1}, true); err == nil {
		t.Error("expected error for negative id")
	}
}

func TestDecodeWithoutVocab(t *testing.T) {
	d := New(nil, nil)
	if d.HasVocab() {
		t.Fatal("decoder without vocab reports HasVocab")
	}
	if _, err := d.Decode([]int{1}, true); err == nil {
		t.Error("expected error without vocabulary")
	}
}

func TestStripSpecial(t *testing.T) {
	d := New(nil, nil)

	cases := map[string]string{
		"<s> a cat sitting on a couch </s>":          "a cat sitting on a couch",
		"A red bus.<|im_end|>":                        "A red bus.",
		"  [CLS] two people [SEP] ":                   "two people",
		"<start_of_turn>a bowl of fruit<end_of_turn>": "a bowl of fruit",
		"Plain caption":                               "Plain caption",
	}
	for in, want := range cases {
		if got := d.StripSpecial(in); got != want {
			t.Errorf("StripSpecial(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStripSpecialPreservesCasing(t *testing.T) {
	d := New(nil, nil)
	in := "A Golden Retriever On GRASS"
	if got := d.StripSpecial(in); got != in {
		t.Errorf("casing changed: %q", got)
	}
}

func TestLoadVocab(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.txt")
	if err := os.WriteFile(path, []byte(strings.Join(testVocab, "\r\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	vocab, err := LoadVocab(path)
	if err != nil {
		t.Fatalf("LoadVocab failed: %v", err)
	}
	if len(vocab) != len(testVocab) {
		t.Fatalf("expected %d tokens, got %d", len(testVocab), len(vocab))
	}
	if vocab[6] != "dog" {
		t.Errorf("expected id 6 to be dog, got %q", vocab[6])
	}
}

func TestReadVocabEmpty(t *testing.T) {
	if _, err := ReadVocab(strings.NewReader("")); err == nil {
		t.Error("expected error for empty vocabulary")
	}
}
