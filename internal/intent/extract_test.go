package intent

import "testing"

func TestExtractCreditID(t *testing.T) {
	tests := []struct {
		text   string
		want   int64
		wantOK bool
	}{
		{"quiero ver el credito 4521", 4521, true},
		{"15000", 15000, true},
		{"tengo 2 creditos y pagué 300", 0, false},
		{"detalle del préstamo #77", 77, true},
		{"Prestamo: 12 de 2024", 12, true},
		{"crédito 9", 9, true},
		{"sin numero", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ExtractCreditID(tt.text)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("ExtractCreditID(%q) = %d,%v want %d,%v", tt.text, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestExtractAuth(t *testing.T) {
	data, ok := ExtractAuth("mi dni es 12345678 1990 gracias")
	if !ok {
		t.Fatal("expected auth data")
	}
	if data.DocumentNumber != "12345678" || data.BirthYear != "1990" {
		t.Fatalf("unexpected auth data %+v", data)
	}

	for _, text := range []string{"1234567 1990", "12345678-1990", "123456789 1990", "hola"} {
		if _, ok := ExtractAuth(text); ok {
			t.Errorf("expected no auth data for %q", text)
		}
	}
}

func TestParse(t *testing.T) {
	if got, ok := Parse(" list_credits "); !ok || got != ListCredits {
		t.Fatalf("expected LIST_CREDITS, got %s %v", got, ok)
	}
	if got, ok := Parse("nope"); ok || got != Unknown {
		t.Fatalf("expected unknown, got %s %v", got, ok)
	}
}

func TestFoldNormalizer(t *testing.T) {
	got := FoldNormalizer{}.Normalize("  información   del  préstamo ")
	if got != "informacion del prestamo" {
		t.Fatalf("unexpected fold %q", got)
	}
}
