package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/wolfman30/coop-chat-agent/pkg/logging"
)

type stubClassifier struct {
	verdict Classification
	err     error
	calls   int
}

func (s *stubClassifier) ClassifyIntent(ctx context.Context, text string) (Classification, error) {
	s.calls++
	return s.verdict, s.err
}

func TestDetectKeywords(t *testing.T) {
	d := NewDetector(logging.Discard())
	ctx := context.Background()

	tests := []struct {
		text string
		want Type
	}{
		{"hola ayuda", Greeting},
		{"Buenos días", Greeting},
		{"chao, gracias", Goodbye},
		{"necesito ayuda", Help},
		{"quiero ver mis datos", PartnerDetail},
		{"cual es mi saldo?", AccountStatement},
		{"ver mis creditos", ListCredits},
		{"Mis Créditos por favor", ListCredits},
		{"muéstrame el crónograma", CreditDetail},
		{"tengo una queja", CreateTicket},
		{"envío mi voucher", UploadReceipt},
		{"12345678 1990", Authentication},
		{"hola, mi dni es 12345678 1990", Authentication},
		{"   ", Unknown},
	}
	for _, tt := range tests {
		if got := d.Detect(ctx, tt.text); got != tt.want {
			t.Errorf("Detect(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

func TestDetectWithoutNormalizerStillMatchesRaw(t *testing.T) {
	d := NewDetector(logging.Discard(), WithNormalizer(nil))
	if got := d.Detect(context.Background(), "Mis Préstamos"); got != ListCredits {
		t.Fatalf("expected LIST_CREDITS, got %s", got)
	}
	if got := d.Detect(context.Background(), "el cronograma"); got != CreditDetail {
		t.Fatalf("expected CREDIT_DETAIL, got %s", got)
	}
}

func TestDetectAIFallback(t *testing.T) {
	ctx := context.Background()
	const text = "necesito dinero urgente"

	tests := []struct {
		name    string
		verdict Classification
		err     error
		want    Type
		source  Source
	}{
		{"confident", Classification{Intent: "LIST_CREDITS", Confidence: 0.9}, nil, ListCredits, SourceAI},
		{"threshold inclusive", Classification{Intent: "account_statement", Confidence: 0.6}, nil, AccountStatement, SourceAI},
		{"low confidence", Classification{Intent: "LIST_CREDITS", Confidence: 0.59}, nil, Unknown, SourceNone},
		{"invalid intent", Classification{Intent: "TRANSFER_MONEY", Confidence: 0.99}, nil, Unknown, SourceNone},
		{"backend error", Classification{}, errors.New("boom"), Unknown, SourceNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &stubClassifier{verdict: tt.verdict, err: tt.err}
			d := NewDetector(logging.Discard(), WithClassifier(c))
			got := d.DetectWithSource(ctx, text)
			if got.Intent != tt.want || got.Source != tt.source {
				t.Fatalf("got %+v, want %s/%s", got, tt.want, tt.source)
			}
			if c.calls != 1 {
				t.Fatalf("expected one classifier call, got %d", c.calls)
			}
		})
	}
}

func TestDetectSkipsAIWhenKeywordMatches(t *testing.T) {
	c := &stubClassifier{verdict: Classification{Intent: "HELP", Confidence: 1}}
	d := NewDetector(logging.Discard(), WithClassifier(c))
	if got := d.Detect(context.Background(), "hola"); got != Greeting {
		t.Fatalf("expected GREETING, got %s", got)
	}
	if c.calls != 0 {
		t.Fatalf("classifier should not be consulted, got %d calls", c.calls)
	}
}

func TestCustomKeywordTableOrder(t *testing.T) {
	table, err := ParseKeywords([]byte(`
- intent: help
  phrases: [ayuda]
- intent: GREETING
  phrases: [hola]
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	d := NewDetector(logging.Discard(), WithKeywords(table))
	if got := d.Detect(context.Background(), "hola ayuda"); got != Help {
		t.Fatalf("expected HELP to win with reordered table, got %s", got)
	}
}

func TestParseKeywordsRejectsUnknownIntent(t *testing.T) {
	if _, err := ParseKeywords([]byte("- intent: TRANSFER\n  phrases: [x]\n")); err == nil {
		t.Fatal("expected error for unknown intent")
	}
	if _, err := ParseKeywords([]byte("- intent: UNKNOWN\n  phrases: [x]\n")); err == nil {
		t.Fatal("expected error for UNKNOWN rule")
	}
	if _, err := ParseKeywords([]byte("[]")); err == nil {
		t.Fatal("expected error for empty table")
	}
}

func TestDefaultKeywordsPriority(t *testing.T) {
	table := DefaultKeywords()
	want := []Type{Greeting, Goodbye, Help, PartnerDetail, AccountStatement, ListCredits, CreditDetail, CreateTicket, UploadReceipt}
	if len(table) != len(want) {
		t.Fatalf("expected %d rules, got %d", len(want), len(table))
	}
	for i, rule := range table {
		if rule.Intent != want[i] {
			t.Fatalf("rule %d: got %s, want %s", i, rule.Intent, want[i])
		}
	}
}

func TestLoadKeywordsEmptyPathUsesDefault(t *testing.T) {
	table, err := LoadKeywords("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if table[0].Intent != Greeting {
		t.Fatalf("expected default table, got %+v", table[0])
	}
	if _, err := LoadKeywords("/nonexistent/keywords.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
