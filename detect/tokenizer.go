package detect

import (
	"fmt"
	"strings"

	autolabel "github.com/tygwan/ALA-AutoLabelAgent-sub001"
)

// special vocabulary tokens
const (
	tokenCLS = "[CLS]"
	tokenSEP = "[SEP]"
	tokenUNK = "[UNK]"
	tokenDot = "."
)

// Tokenizer converts class name prompts into the model's token ids
// using a WordPiece vocabulary with one token per line
type Tokenizer struct {
	vocab map[string]int64
	clsID int64
	sepID int64
	unkID int64
	dotID int64
}

// EncodedPrompt is a tokenized class list.  Spans records the [start,
// end) token index range each class name occupies so decode can align
// query logits back to class names.
type EncodedPrompt struct {
	// IDs are the token ids including [CLS], per class separators, and
	// the closing [SEP]
	IDs []int64
	// Spans holds one token range per class, in class order
	Spans [][2]int
	// Classes are the class names in prompt order
	Classes []string
}

// NewTokenizer loads the vocabulary from the given file
func NewTokenizer(vocabFile string) (*Tokenizer, error) {

	tokens, err := autolabel.LoadLabels(vocabFile)

	if err != nil {
		return nil, fmt.Errorf("error loading vocabulary: %w", err)
	}

	t := &Tokenizer{
		vocab: make(map[string]int64, len(tokens)),
	}

	for i, tok := range tokens {
		t.vocab[tok] = int64(i)
	}

	var ok bool

	if t.clsID, ok = t.vocab[tokenCLS]; !ok {
		return nil, fmt.Errorf("vocabulary is missing %s", tokenCLS)
	}

	if t.sepID, ok = t.vocab[tokenSEP]; !ok {
		return nil, fmt.Errorf("vocabulary is missing %s", tokenSEP)
	}

	if t.unkID, ok = t.vocab[tokenUNK]; !ok {
		return nil, fmt.Errorf("vocabulary is missing %s", tokenUNK)
	}

	if t.dotID, ok = t.vocab[tokenDot]; !ok {
		return nil, fmt.Errorf("vocabulary is missing %q", tokenDot)
	}

	return t, nil
}

// VocabSize returns the number of tokens in the vocabulary
func (t *Tokenizer) VocabSize() int {
	return len(t.vocab)
}

// EncodePrompt tokenizes the class names into the prompt layout the
// text encoder was trained with: [CLS] class . class . ... [SEP]
func (t *Tokenizer) EncodePrompt(classes []string) (*EncodedPrompt, error) {

	if len(classes) == 0 {
		return nil, fmt.Errorf("prompt contains no class names")
	}

	enc := &EncodedPrompt{
		IDs:     []int64{t.clsID},
		Spans:   make([][2]int, 0, len(classes)),
		Classes: classes,
	}

	for _, class := range classes {

		start := len(enc.IDs)

		for _, word := range strings.Fields(class) {
			enc.IDs = append(enc.IDs, t.tokenizeWord(word)...)
		}

		enc.Spans = append(enc.Spans, [2]int{start, len(enc.IDs)})

		// class separator
		enc.IDs = append(enc.IDs, t.dotID)
	}

	enc.IDs = append(enc.IDs, t.sepID)

	return enc, nil
}

// tokenizeWord performs greedy longest match WordPiece tokenization of
// a single lowercased word, falling back to [UNK] when no prefix of the
// remaining characters is in the vocabulary
func (t *Tokenizer) tokenizeWord(word string) []int64 {

	var ids []int64

	chars := []rune(word)
	start := 0

	for start < len(chars) {

		end := len(chars)
		matched := int64(-1)

		for end > start {

			sub := string(chars[start:end])

			if start > 0 {
				sub = "##" + sub
			}

			if id, ok := t.vocab[sub]; ok {
				matched = id
				break
			}

			end--
		}

		if matched == -1 {
			// unknown character sequence, emit [UNK] for the whole word
			return []int64{t.unkID}
		}

		ids = append(ids, matched)
		start = end
	}

	return ids
}
