// Package tokenizer turns generated token ids back into text.
//
// Vocabularies use the WordPiece vocab.txt layout shipped with BERT-derived
// captioning models (BLIP, GIT): one token per line, the line number being
// the token id. Continuation pieces are prefixed with "##".
package tokenizer

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// DefaultSpecialTokens are control markers that never belong in a caption
var DefaultSpecialTokens = []string{
	"[CLS]", "[SEP]", "[PAD]", "[UNK]", "[MASK]", "[DEC]",
	"<s>", "</s>", "<pad>", "<unk>", "<eos>", "<bos>",
	"<|endoftext|>", "<|im_start|>", "<|im_end|>", "<|eot_id|>",
	"<start_of_turn>", "<end_of_turn>",
}

const continuationPrefix = "##"

// Decoder decodes token ids and scrubs control markup from free text.
// A Decoder without a vocabulary can still strip text.
type Decoder struct {
	vocab   []string
	special map[string]struct{}
	scrub   *regexp.Regexp
}

// New creates a Decoder with the given vocabulary and special tokens.
// A nil special slice selects DefaultSpecialTokens.
func New(vocab []string, special []string) *Decoder {
	if special == nil {
		special = DefaultSpecialTokens
	}
	d := &Decoder{
		vocab:   vocab,
		special: make(map[string]struct{}, len(special)),
	}
	quoted := make([]string, 0, len(special))
	for _, s := range special {
		d.special[s] = struct{}{}
		quoted = append(quoted, regexp.QuoteMeta(s))
	}
	if len(quoted) > 0 {
		d.scrub = regexp.MustCompile(strings.Join(quoted, "|"))
	}
	return d
}

// LoadVocab reads a vocab.txt file
func LoadVocab(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vocabulary: %w", err)
	}
	defer f.Close()
	return ReadVocab(f)
}

// ReadVocab reads vocab.txt content from r
func ReadVocab(r io.Reader) ([]string, error) {
	var vocab []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		vocab = append(vocab, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vocabulary: %w", err)
	}
	if len(vocab) == 0 {
		return nil, fmt.Errorf("vocabulary is empty")
	}
	return vocab, nil
}

// HasVocab reports whether token ids can be decoded
func (d *Decoder) HasVocab() bool {
	return len(d.vocab) > 0
}

// VocabSize returns the number of known tokens
func (d *Decoder) VocabSize() int {
	return len(d.vocab)
}

// IsSpecial reports whether tok is a control token
func (d *Decoder) IsSpecial(tok string) bool {
	_, ok := d.special[tok]
	return ok
}

// Decode converts token ids to text. With skipSpecial set, control tokens
// are dropped instead of rendered.
func (d *Decoder) Decode(ids []int, skipSpecial bool) (string, error) {
	if !d.HasVocab() {
		return "", fmt.Errorf("no vocabulary loaded")
	}

	var b strings.Builder
	for _, id := range ids {
		if id < 0 || id >= len(d.vocab) {
			return "", fmt.Errorf("token id %d out of range [0,%d)", id, len(d.vocab))
		}
		tok := d.vocab[id]
		if skipSpecial && d.IsSpecial(tok) {
			continue
		}
		if piece, ok := strings.CutPrefix(tok, continuationPrefix); ok {
			b.WriteString(piece)
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(tok)
	}
	return cleanupSpaces(b.String()), nil
}

// StripSpecial removes control markup from generated text and trims the
// surrounding whitespace. Inner wording is left untouched.
func (d *Decoder) StripSpecial(text string) string {
	if d.scrub != nil {
		text = d.scrub.ReplaceAllString(text, " ")
	}
	return strings.Join(strings.Fields(text), " ")
}

var spaceBeforePunct = strings.NewReplacer(
	" .", ".",
	" ?", "?",
	" !", "!",
	" ,", ",",
	" ' ", "'",
	" n't", "n't",
	" 'm", "'m",
	" 's", "'s",
	" 've", "'ve",
	" 're", "'re",
)

func cleanupSpaces(s string) string {
	return strings.TrimSpace(spaceBeforePunct.Replace(s))
}
