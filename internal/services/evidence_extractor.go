package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/brandguard/backend/internal/domain/audit"
	"github.com/brandguard/backend/internal/platform/ctxutil"
	"github.com/brandguard/backend/internal/platform/envutil"
	"github.com/brandguard/backend/internal/platform/gcp"
	"github.com/brandguard/backend/internal/platform/localmedia"
	"github.com/brandguard/backend/internal/platform/logger"
)

// EvidenceExtractor fetches a public video, stages it in object storage, and
// runs machine perception over it. The output bundle is the only thing later
// stages ever see; no raw video leaves this service.
type EvidenceExtractor interface {
	Extract(ctx context.Context, videoURL string) (*audit.EvidenceBundle, error)
}

type evidenceExtractor struct {
	log    *logger.Logger
	tools  localmedia.Tools
	bucket gcp.BucketService
	video  gcp.Video

	language     string
	pollInterval time.Duration
	waitBudget   time.Duration
}

func NewEvidenceExtractor(
	baseLog *logger.Logger,
	tools localmedia.Tools,
	bucket gcp.BucketService,
	video gcp.Video,
) EvidenceExtractor {
	return &evidenceExtractor{
		log:          baseLog.With("service", "EvidenceExtractor"),
		tools:        tools,
		bucket:       bucket,
		video:        video,
		language:     envutil.String("VIDEO_LANGUAGE_CODE", "en-US"),
		pollInterval: envutil.Seconds("VIDEO_POLL_INTERVAL_SECONDS", 10*time.Second),
		waitBudget:   envutil.Seconds("VIDEO_WAIT_BUDGET_SECONDS", 30*time.Minute),
	}
}

func (s *evidenceExtractor) Extract(ctx context.Context, videoURL string) (*audit.EvidenceBundle, error) {
	ctx = ctxutil.Default(ctx)
	if strings.TrimSpace(videoURL) == "" {
		return nil, &audit.DownloadError{URL: videoURL, Err: fmt.Errorf("empty url")}
	}

	dl, cleanup, err := s.tools.DownloadVideo(ctx, videoURL)
	if err != nil {
		return nil, &audit.DownloadError{URL: videoURL, Err: err}
	}
	defer cleanup()

	duration, probeErr := s.tools.ProbeDurationSeconds(ctx, dl.Path)
	if probeErr != nil {
		s.log.Warn("Duration probe failed, continuing without it", "error", probeErr.Error())
		duration = 0
	}

	stagingKey := fmt.Sprintf("staging/%s%s", uuid.NewString(), filepath.Ext(dl.Path))
	f, err := os.Open(dl.Path)
	if err != nil {
		return nil, &audit.DownloadError{URL: videoURL, Err: err}
	}
	gcsURI, upErr := s.bucket.UploadFile(ctx, stagingKey, f)
	_ = f.Close()
	if upErr != nil {
		return nil, &audit.IndexingError{JobID: stagingKey, Err: upErr}
	}
	defer func() {
		if delErr := s.bucket.DeleteFile(context.Background(), stagingKey); delErr != nil {
			s.log.Warn("Staging object cleanup failed", "key", stagingKey, "error", delErr.Error())
		}
	}()

	res, err := s.video.AnnotateVideoGCS(ctx, gcsURI, gcp.VideoAIConfig{
		LanguageCode:              s.language,
		EnableSpeechTranscription: true,
		EnableTextDetection:       true,
		EnableLogoRecognition:     true,
		PollInterval:              s.pollInterval,
		WaitBudget:                s.waitBudget,
	})
	if err != nil {
		if isDeadlineExceeded(err) {
			return nil, &audit.IndexingTimeoutError{JobID: stagingKey, Budget: s.waitBudget}
		}
		return nil, &audit.IndexingError{JobID: stagingKey, Err: err}
	}

	bundle := &audit.EvidenceBundle{
		Transcript:      res.TranscriptSegments,
		OCRText:         res.TextSegments,
		DetectedMarks:   res.Logos,
		DurationSeconds: duration,
		Source: audit.SourceMetadata{
			Title:      dl.Title,
			Channel:    dl.Channel,
			UploadDate: dl.UploadDate,
			Platform:   dl.Platform,
		},
	}
	if bundle.DurationSeconds <= 0 {
		bundle.DurationSeconds = maxSegmentEnd(bundle)
	}
	clampSegments(bundle)

	if err := bundle.Validate(); err != nil {
		return nil, &audit.IndexingError{JobID: stagingKey, Err: err}
	}

	if bundle.IsEmpty() {
		s.log.Warn("No speech or on-screen text extracted", "video_url", videoURL)
	}
	s.log.Info("Evidence extracted",
		"transcript_segments", len(bundle.Transcript),
		"ocr_segments", len(bundle.OCRText),
		"detected_marks", len(bundle.DetectedMarks),
		"duration_sec", bundle.DurationSeconds,
	)
	return bundle, nil
}

// isDeadlineExceeded matches both context expiry and the status-coded form
// gRPC surfaces when the wait budget runs out mid-RPC.
func isDeadlineExceeded(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return status.Code(err) == codes.DeadlineExceeded
}

func maxSegmentEnd(b *audit.EvidenceBundle) float64 {
	maxEnd := 0.0
	for _, s := range b.Transcript {
		if s.EndSec > maxEnd {
			maxEnd = s.EndSec
		}
	}
	for _, s := range b.OCRText {
		if s.EndSec > maxEnd {
			maxEnd = s.EndSec
		}
	}
	for _, m := range b.DetectedMarks {
		for _, t := range m.Occurrences {
			if t > maxEnd {
				maxEnd = t
			}
		}
	}
	return maxEnd
}

// clampSegments trims provider timestamps that overshoot the probed container
// duration by rounding error.
func clampSegments(b *audit.EvidenceBundle) {
	if b.DurationSeconds <= 0 {
		return
	}
	clamp := func(segs []audit.Segment) {
		for i := range segs {
			if segs[i].StartSec > b.DurationSeconds {
				segs[i].StartSec = b.DurationSeconds
			}
			if segs[i].EndSec > b.DurationSeconds {
				segs[i].EndSec = b.DurationSeconds
			}
			if segs[i].EndSec < segs[i].StartSec {
				segs[i].EndSec = segs[i].StartSec
			}
		}
	}
	clamp(b.Transcript)
	clamp(b.OCRText)
	for i := range b.DetectedMarks {
		for j, t := range b.DetectedMarks[i].Occurrences {
			if t > b.DurationSeconds {
				b.DetectedMarks[i].Occurrences[j] = b.DurationSeconds
			}
		}
	}
}
