package graph

import (
	"context"
	"strings"
	"unicode"

	"github.com/loreforge/loreforge/backend/pkg/loader"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pkoukk/tiktoken-go"
)

// processUnit is one token-bounded chunk of a narrative document, fed to
// the extraction collaborator independently.
type processUnit struct {
	id         string
	documentID string
	start      int
	end        int
	text       string
}

// getUnitsFromDocument loads the document text and splits it into
// token-bounded units along sentence boundaries.
func (g *Engine) getUnitsFromDocument(ctx context.Context, doc loader.Document) ([]processUnit, error) {
	textBytes, err := doc.GetText(ctx)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(string(textBytes))
	if text == "" {
		return nil, nil
	}

	maxTokens := doc.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.maxUnitTokens
	}

	return transformIntoUnits(text, doc.ID, g.tokenEncoder, maxTokens)
}

// transformIntoUnits packs consecutive sentences into units of at most
// maxTokens tokens. A single sentence longer than the budget becomes its
// own unit rather than being split mid-sentence.
func transformIntoUnits(
	text string,
	documentID string,
	encoder string,
	maxTokens int,
) ([]processUnit, error) {
	enc, err := tiktoken.GetEncoding(encoder)
	if err != nil {
		return nil, err
	}

	sentences := splitIntoSentences(text)
	if len(sentences) == 0 {
		return nil, nil
	}

	var units []processUnit
	chunkStart := -1
	chunkEnd := -1

	flushChunk := func() error {
		if chunkStart < 0 || chunkEnd <= chunkStart {
			return nil
		}
		uID, err := gonanoid.New()
		if err != nil {
			return err
		}

		unit := processUnit{
			id:         uID,
			documentID: documentID,
			start:      chunkStart,
			end:        chunkEnd,
			text:       strings.TrimSpace(strings.Join(sentences[chunkStart:chunkEnd], " ")),
		}
		units = append(units, unit)
		chunkStart = -1
		chunkEnd = -1
		return nil
	}

	for i := range sentences {
		if chunkStart < 0 {
			chunkStart = i
			chunkEnd = i + 1
			continue
		}

		candidate := strings.Join(sentences[chunkStart:i+1], " ")
		if len(enc.Encode(candidate, nil, nil)) <= maxTokens {
			chunkEnd = i + 1
			continue
		}

		if err := flushChunk(); err != nil {
			return nil, err
		}
		chunkStart = i
		chunkEnd = i + 1
	}

	if err := flushChunk(); err != nil {
		return nil, err
	}

	return units, nil
}

// splitIntoSentences breaks narrative prose into sentences. Blank lines
// always terminate a sentence, so headings and list items in session notes
// stay intact as their own units.
func splitIntoSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	flush := func() {
		s := strings.TrimSpace(current.String())
		if s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			flush()
			continue
		}

		for _, sentence := range splitLineIntoSentences(trimmed) {
			if current.Len() > 0 {
				current.WriteString(" ")
			}
			current.WriteString(sentence)
			if endsSentence(sentence) {
				flush()
			}
		}
	}
	flush()

	return sentences
}

func endsSentence(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasSuffix(s, ".") || strings.HasSuffix(s, "!") || strings.HasSuffix(s, "?")
}

func splitLineIntoSentences(line string) []string {
	var sentences []string
	var current strings.Builder

	for i := 0; i < len(line); i++ {
		current.WriteByte(line[i])

		if line[i] != '.' && line[i] != '!' && line[i] != '?' {
			continue
		}

		// "1. The party sets out" is a list item, not a sentence end.
		if i > 0 && unicode.IsDigit(rune(line[i-1])) && i+1 < len(line) && line[i+1] == ' ' {
			continue
		}

		j := i + 1
		for j < len(line) && (line[j] == '.' || line[j] == '!' || line[j] == '?') {
			current.WriteByte(line[j])
			j++
		}
		for j < len(line) && (line[j] == '"' || line[j] == '\'' || line[j] == ')' ||
			line[j] == ']' || line[j] == '}') {
			current.WriteByte(line[j])
			j++
		}

		sentence := strings.TrimSpace(current.String())
		if sentence != "" {
			sentences = append(sentences, sentence)
		}
		current.Reset()
		i = j - 1
	}

	remaining := strings.TrimSpace(current.String())
	if remaining != "" {
		sentences = append(sentences, remaining)
	}

	return sentences
}
