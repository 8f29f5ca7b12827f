package audit

import (
	"fmt"
	"strings"
)

// Segment is one timestamped piece of extracted text. Timestamps are float
// seconds, zero-based, normalized from whatever units the upstream
// intelligence provider reports.
type Segment struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	StartSec   float64 `json:"start_sec"`
	EndSec     float64 `json:"end_sec"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Mark is a brand/logo detection with its occurrence timestamps.
type Mark struct {
	Label       string    `json:"label"`
	Occurrences []float64 `json:"occurrences,omitempty"`
}

type SourceMetadata struct {
	Title      string `json:"title,omitempty"`
	Channel    string `json:"channel,omitempty"`
	UploadDate string `json:"upload_date,omitempty"`
	Platform   string `json:"platform,omitempty"`
}

// EvidenceBundle is the normalized multimodal extraction for a single audit
// run. It is owned by exactly one run and never shared.
type EvidenceBundle struct {
	Transcript      []Segment      `json:"transcript"`
	OCRText         []Segment      `json:"ocr_text"`
	DetectedMarks   []Mark         `json:"detected_marks"`
	DurationSeconds float64        `json:"duration_seconds"`
	Source          SourceMetadata `json:"source_metadata"`
}

// Validate enforces timestamp consistency: no segment may start after the
// bundle duration, and segment ends may not precede their starts.
func (e *EvidenceBundle) Validate() error {
	check := func(kind string, segs []Segment) error {
		for i, s := range segs {
			if s.StartSec < 0 {
				return fmt.Errorf("%s segment %d: negative start %.3f", kind, i, s.StartSec)
			}
			if s.EndSec < s.StartSec {
				return fmt.Errorf("%s segment %d: end %.3f before start %.3f", kind, i, s.EndSec, s.StartSec)
			}
			if e.DurationSeconds > 0 && s.StartSec > e.DurationSeconds {
				return fmt.Errorf("%s segment %d: start %.3f beyond duration %.3f", kind, i, s.StartSec, e.DurationSeconds)
			}
		}
		return nil
	}
	if err := check("transcript", e.Transcript); err != nil {
		return err
	}
	if err := check("ocr", e.OCRText); err != nil {
		return err
	}
	for i, m := range e.DetectedMarks {
		for _, t := range m.Occurrences {
			if t < 0 || (e.DurationSeconds > 0 && t > e.DurationSeconds) {
				return fmt.Errorf("mark %d (%s): occurrence %.3f out of range", i, m.Label, t)
			}
		}
	}
	return nil
}

// IsEmpty reports whether no speech or on-screen text could be extracted.
func (e *EvidenceBundle) IsEmpty() bool {
	return len(e.Transcript) == 0 && len(e.OCRText) == 0
}

// TranscriptText joins transcript segments into one flowing string.
func (e *EvidenceBundle) TranscriptText() string {
	parts := make([]string, 0, len(e.Transcript))
	for _, s := range e.Transcript {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// OCRLines returns deduplicated on-screen text snippets in first-seen order.
func (e *EvidenceBundle) OCRLines() []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, s := range e.OCRText {
		t := strings.TrimSpace(s.Text)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// MarkLabels returns deduplicated detected brand/logo labels in first-seen order.
func (e *EvidenceBundle) MarkLabels() []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, m := range e.DetectedMarks {
		l := strings.TrimSpace(m.Label)
		if l == "" {
			continue
		}
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}
