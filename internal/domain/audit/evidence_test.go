package audit

import "testing"

func TestEvidenceBundleValidate(t *testing.T) {
	ok := EvidenceBundle{
		Transcript:      []Segment{{ID: "s1", Text: "hello", StartSec: 0, EndSec: 2.5}},
		OCRText:         []Segment{{ID: "o1", Text: "50% OFF", StartSec: 1, EndSec: 3}},
		DetectedMarks:   []Mark{{Label: "Acme", Occurrences: []float64{1.2, 4.0}}},
		DurationSeconds: 10,
	}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid bundle rejected: %v", err)
	}

	startBeyond := ok
	startBeyond.Transcript = []Segment{{ID: "s1", Text: "x", StartSec: 11, EndSec: 12}}
	if err := startBeyond.Validate(); err == nil {
		t.Fatalf("expected start-beyond-duration error")
	}

	endBeforeStart := ok
	endBeforeStart.OCRText = []Segment{{ID: "o1", Text: "x", StartSec: 5, EndSec: 4}}
	if err := endBeforeStart.Validate(); err == nil {
		t.Fatalf("expected end-before-start error")
	}

	markOut := ok
	markOut.DetectedMarks = []Mark{{Label: "Acme", Occurrences: []float64{99}}}
	if err := markOut.Validate(); err == nil {
		t.Fatalf("expected mark occurrence out-of-range error")
	}
}

func TestEvidenceBundleIsEmpty(t *testing.T) {
	empty := EvidenceBundle{DetectedMarks: []Mark{{Label: "Acme"}}}
	if !empty.IsEmpty() {
		t.Fatalf("bundle with only marks should count as empty")
	}
	withOCR := EvidenceBundle{OCRText: []Segment{{Text: "terms apply"}}}
	if withOCR.IsEmpty() {
		t.Fatalf("bundle with OCR text is not empty")
	}
}

func TestOCRLinesDedupe(t *testing.T) {
	b := EvidenceBundle{
		OCRText: []Segment{
			{Text: "50% OFF"},
			{Text: "  50% OFF "},
			{Text: "terms apply"},
			{Text: ""},
		},
	}
	lines := b.OCRLines()
	if len(lines) != 2 {
		t.Fatalf("lines length: want=2 got=%d (%v)", len(lines), lines)
	}
	if lines[0] != "50% OFF" || lines[1] != "terms apply" {
		t.Fatalf("lines order mismatch: %v", lines)
	}
}

func TestMarkLabelsDedupe(t *testing.T) {
	b := EvidenceBundle{
		DetectedMarks: []Mark{{Label: "Acme"}, {Label: "Acme"}, {Label: "Globex"}, {Label: " "}},
	}
	labels := b.MarkLabels()
	if len(labels) != 2 || labels[0] != "Acme" || labels[1] != "Globex" {
		t.Fatalf("labels mismatch: %v", labels)
	}
}
