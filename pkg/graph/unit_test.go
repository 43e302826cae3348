package graph

import "testing"

func TestSplitIntoSentencesBasic(t *testing.T) {
	text := "The party reached Dunmere. They met Queen Elara! Did she trust them?"
	sentences := splitIntoSentences(text)
	if len(sentences) != 3 {
		t.Fatalf("expected 3 sentences, got %d: %v", len(sentences), sentences)
	}
	if sentences[1] != "They met Queen Elara!" {
		t.Fatalf("unexpected sentence: %q", sentences[1])
	}
}

func TestSplitIntoSentencesBlankLineTerminates(t *testing.T) {
	text := "Session 12 notes\n\nThe party reached Dunmere."
	sentences := splitIntoSentences(text)
	if len(sentences) != 2 {
		t.Fatalf("headings must stay intact, got %v", sentences)
	}
	if sentences[0] != "Session 12 notes" {
		t.Fatalf("unexpected heading handling: %q", sentences[0])
	}
}

func TestSplitIntoSentencesNumberedListItems(t *testing.T) {
	text := "1. The party sets out for the keep and rests at nightfall."
	sentences := splitIntoSentences(text)
	if len(sentences) != 1 {
		t.Fatalf("list markers must not split, got %v", sentences)
	}
}

func TestSplitIntoSentencesQuotedSpeechJoins(t *testing.T) {
	// A piece ending in a closing quote does not terminate the sentence,
	// so quoted speech stays joined with the prose around it.
	text := `She said "leave now." Then the gate closed.`
	sentences := splitIntoSentences(text)
	if len(sentences) != 1 {
		t.Fatalf("expected quoted speech to join, got %v", sentences)
	}
	if sentences[0] != `She said "leave now." Then the gate closed.` {
		t.Fatalf("unexpected join: %q", sentences[0])
	}
}

func TestSplitIntoSentencesUnterminatedLineCarries(t *testing.T) {
	text := "The ambush came from\nthe western ridge."
	sentences := splitIntoSentences(text)
	if len(sentences) != 1 {
		t.Fatalf("wrapped prose must rejoin, got %v", sentences)
	}
	if sentences[0] != "The ambush came from the western ridge." {
		t.Fatalf("unexpected join: %q", sentences[0])
	}
}

func TestEndsSentence(t *testing.T) {
	if !endsSentence("It was over.") || !endsSentence("Run!") || !endsSentence("Why?") {
		t.Fatalf("terminal punctuation must end a sentence")
	}
	if endsSentence("and then") {
		t.Fatalf("unterminated text must not end a sentence")
	}
}
