package ai

import "testing"

type extractionResult struct {
	Name  string   `json:"name"`
	Facts []string `json:"facts"`
}

func TestUnmarshalFlexibleValidJSON(t *testing.T) {
	var out extractionResult
	err := UnmarshalFlexible(`{"name":"Elara","facts":["rules the city"]}`, &out)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out.Name != "Elara" {
		t.Fatalf("expected name Elara, got %q", out.Name)
	}
	if len(out.Facts) != 1 || out.Facts[0] != "rules the city" {
		t.Fatalf("unexpected facts: %v", out.Facts)
	}
}

func TestUnmarshalFlexibleDoubleEncoded(t *testing.T) {
	var out extractionResult
	err := UnmarshalFlexible(`"{\"name\":\"Elara\",\"facts\":[]}"`, &out)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out.Name != "Elara" {
		t.Fatalf("expected name Elara, got %q", out.Name)
	}
}

func TestUnmarshalFlexibleRepairsMalformed(t *testing.T) {
	var out extractionResult
	err := UnmarshalFlexible(`{"name":"Elara","facts":["unterminated]}`, &out)
	if err != nil {
		t.Fatalf("expected repair to succeed, got %v", err)
	}
	if out.Name != "Elara" {
		t.Fatalf("expected name Elara, got %q", out.Name)
	}
}

func TestUnmarshalFlexibleDuplicateLeadingBrace(t *testing.T) {
	var out extractionResult
	err := UnmarshalFlexible(`{{"name":"Elara","facts":[]}`, &out)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out.Name != "Elara" {
		t.Fatalf("expected name Elara, got %q", out.Name)
	}
}

func TestGenerateSchemaFromPointer(t *testing.T) {
	s1 := GenerateSchema(extractionResult{})
	s2 := GenerateSchema(&extractionResult{})
	if s1 == nil || s2 == nil {
		t.Fatal("expected non-nil schemas")
	}
}
