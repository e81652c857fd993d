package intent

import (
	"context"
	"strings"

	"github.com/wolfman30/coop-chat-agent/pkg/logging"
)

// DefaultConfidenceThreshold is the minimum AI confidence accepted.
const DefaultConfidenceThreshold = 0.6

// Source records which stage produced a detection.
type Source string

const (
	SourceAuth Source = "auth"
	SourceRule Source = "rule"
	SourceAI   Source = "ai"
	SourceNone Source = "none"
)

// Classification is the AI backend's verdict on a message.
type Classification struct {
	Intent     string
	Confidence float64
	Entities   map[string]string
}

// Classifier is the AI fallback consulted when no keyword matches.
type Classifier interface {
	ClassifyIntent(ctx context.Context, text string) (Classification, error)
}

// Result is a detection together with its source.
type Result struct {
	Intent Type
	Source Source
}

// Detector runs the auth pattern, the keyword table and the AI fallback in
// that order.
type Detector struct {
	table      KeywordTable
	folded     [][]string
	normalizer Normalizer
	classifier Classifier
	threshold  float64
	logger     *logging.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithKeywords replaces the built-in keyword table.
func WithKeywords(table KeywordTable) Option {
	return func(d *Detector) {
		if len(table) > 0 {
			d.table = table
		}
	}
}

// WithNormalizer sets the normalization stage. A nil normalizer disables it.
func WithNormalizer(n Normalizer) Option {
	return func(d *Detector) { d.normalizer = n }
}

// WithClassifier sets the AI fallback.
func WithClassifier(c Classifier) Option {
	return func(d *Detector) { d.classifier = c }
}

// WithThreshold sets the minimum AI confidence.
func WithThreshold(threshold float64) Option {
	return func(d *Detector) {
		if threshold > 0 && threshold <= 1 {
			d.threshold = threshold
		}
	}
}

// NewDetector builds a detector with the default keyword table and accent folding.
func NewDetector(logger *logging.Logger, opts ...Option) *Detector {
	if logger == nil {
		logger = logging.Default()
	}
	d := &Detector{
		table:      DefaultKeywords(),
		normalizer: FoldNormalizer{},
		threshold:  DefaultConfidenceThreshold,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.folded = make([][]string, len(d.table))
	for i, rule := range d.table {
		d.folded[i] = make([]string, len(rule.Phrases))
		for j, p := range rule.Phrases {
			d.folded[i][j] = d.normalize(p)
		}
	}
	return d
}

// Detect returns the intent of text.
func (d *Detector) Detect(ctx context.Context, text string) Type {
	return d.DetectWithSource(ctx, text).Intent
}

// DetectWithSource returns the intent of text and the stage that decided it.
func (d *Detector) DetectWithSource(ctx context.Context, text string) Result {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return Result{Intent: Unknown, Source: SourceNone}
	}
	if IsAuthMessage(lower) {
		return Result{Intent: Authentication, Source: SourceAuth}
	}

	if t, ok := d.matchKeywords(lower); ok {
		d.logger.Debug("intent matched by keywords", "intent", t)
		return Result{Intent: t, Source: SourceRule}
	}

	return d.classify(ctx, text)
}

func (d *Detector) matchKeywords(lower string) (Type, bool) {
	normalized := d.normalize(lower)
	for i, rule := range d.table {
		for j, phrase := range rule.Phrases {
			if strings.Contains(lower, phrase) || strings.Contains(normalized, d.folded[i][j]) {
				return rule.Intent, true
			}
		}
	}
	return "", false
}

func (d *Detector) normalize(s string) string {
	if d.normalizer == nil {
		return s
	}
	out := d.normalizer.Normalize(s)
	if out == "" {
		return s
	}
	return out
}

func (d *Detector) classify(ctx context.Context, text string) Result {
	if d.classifier == nil {
		return Result{Intent: Unknown, Source: SourceNone}
	}
	verdict, err := d.classifier.ClassifyIntent(ctx, text)
	if err != nil {
		d.logger.Warn("ai intent classification failed", "error", err)
		return Result{Intent: Unknown, Source: SourceNone}
	}
	t, ok := Parse(verdict.Intent)
	if !ok {
		d.logger.Warn("ai returned invalid intent", "intent", verdict.Intent)
		return Result{Intent: Unknown, Source: SourceNone}
	}
	if verdict.Confidence < d.threshold {
		d.logger.Info("ai confidence too low", "intent", t, "confidence", verdict.Confidence)
		return Result{Intent: Unknown, Source: SourceNone}
	}
	return Result{Intent: t, Source: SourceAI}
}
