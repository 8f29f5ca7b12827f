package audit

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestStatusCanTransition(t *testing.T) {
	cases := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusCompleted, true},
		{StatusPending, StatusFailed, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusPending, false},
		{StatusCompleted, StatusFailed, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusFailed, StatusCompleted, false},
		{StatusPending, StatusPending, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Fatalf("%s -> %s: want=%v got=%v", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestTaskCloneIsolation(t *testing.T) {
	now := time.Now()
	orig := Task{
		ID:       uuid.New(),
		VideoURL: "https://example.com/ad.mp4",
		Region:   RegionEurope,
		Status:   StatusCompleted,
		Report: &Report{
			Violations: []Violation{
				{Category: CategoryBrandSafety, Severity: SeverityLow, Description: "edgy tone"},
			},
			OverallRisk:     string(SeverityLow),
			SummaryMarkdown: "summary",
			RegionEvaluated: RegionEurope,
			GeneratedAt:     now,
		},
		CreatedAt:   now,
		CompletedAt: &now,
	}

	cp := orig.Clone()
	cp.Report.Violations[0].Description = "mutated"
	cp.Report.SummaryMarkdown = "mutated"
	later := now.Add(time.Hour)
	*cp.CompletedAt = later

	if orig.Report.Violations[0].Description != "edgy tone" {
		t.Fatalf("clone mutation leaked into original violations")
	}
	if orig.Report.SummaryMarkdown != "summary" {
		t.Fatalf("clone mutation leaked into original summary")
	}
	if !orig.CompletedAt.Equal(now) {
		t.Fatalf("clone mutation leaked into original completed_at")
	}
}
