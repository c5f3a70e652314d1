package detect

import (
	"os"
	"path/filepath"
	"testing"
)

// writeVocab writes a tokenizer vocabulary file holding the given tokens
func writeVocab(t *testing.T, tokens []string) string {

	t.Helper()

	path := filepath.Join(t.TempDir(), "vocab.txt")
	data := ""

	for _, tok := range tokens {
		data += tok + "\n"
	}

	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("error writing vocab file: %v", err)
	}

	return path
}

func testVocab(t *testing.T) string {
	return writeVocab(t, []string{
		"[PAD]", "[UNK]", "[CLS]", "[SEP]", ".",
		"cat", "dog", "traffic", "light", "fire", "##fly", "##s",
	})
}

func TestNewTokenizerMissingSpecials(t *testing.T) {

	path := writeVocab(t, []string{"cat", "dog"})

	if _, err := NewTokenizer(path); err == nil {
		t.Errorf("expected error for vocabulary without special tokens")
	}
}

func TestEncodePrompt(t *testing.T) {

	tok, err := NewTokenizer(testVocab(t))

	if err != nil {
		t.Fatalf("error creating tokenizer: %v", err)
	}

	enc, err := tok.EncodePrompt([]string{"cat", "traffic light"})

	if err != nil {
		t.Fatalf("error encoding prompt: %v", err)
	}

	// [CLS] cat . traffic light . [SEP]
	want := []int64{2, 5, 4, 7, 8, 4, 3}

	if len(enc.IDs) != len(want) {
		t.Fatalf("expected %d token ids, got %d", len(want), len(enc.IDs))
	}

	for i, id := range enc.IDs {
		if id != want[i] {
			t.Errorf("token %d: expected id %d, got %d", i, want[i], id)
		}
	}

	if len(enc.Spans) != 2 {
		t.Fatalf("expected 2 class spans, got %d", len(enc.Spans))
	}

	if enc.Spans[0] != [2]int{1, 2} {
		t.Errorf("expected span [1,2) for cat, got %v", enc.Spans[0])
	}

	if enc.Spans[1] != [2]int{3, 5} {
		t.Errorf("expected span [3,5) for traffic light, got %v", enc.Spans[1])
	}

	if enc.Classes[1] != "traffic light" {
		t.Errorf("expected class names retained, got %v", enc.Classes)
	}
}

func TestEncodePromptEmpty(t *testing.T) {

	tok, err := NewTokenizer(testVocab(t))

	if err != nil {
		t.Fatalf("error creating tokenizer: %v", err)
	}

	if _, err := tok.EncodePrompt(nil); err == nil {
		t.Errorf("expected error for empty class list")
	}
}

func TestTokenizeWordPieces(t *testing.T) {

	tok, err := NewTokenizer(testVocab(t))

	if err != nil {
		t.Fatalf("error creating tokenizer: %v", err)
	}

	tests := []struct {
		word string
		want []int64
	}{
		// single vocabulary word
		{"cat", []int64{5}},
		// greedy longest match with continuation pieces
		{"firefly", []int64{9, 10}},
		{"cats", []int64{5, 11}},
		// unknown sequence collapses to [UNK]
		{"zebra", []int64{1}},
	}

	for _, tt := range tests {

		got := tok.tokenizeWord(tt.word)

		if len(got) != len(tt.want) {
			t.Errorf("word %q: expected %v, got %v", tt.word, tt.want, got)
			continue
		}

		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("word %q: expected %v, got %v", tt.word, tt.want, got)
				break
			}
		}
	}
}
