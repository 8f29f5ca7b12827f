package gcp

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	videointelligence "cloud.google.com/go/videointelligence/apiv1"
	vipb "cloud.google.com/go/videointelligence/apiv1/videointelligencepb"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/brandguard/backend/internal/domain/audit"
	"github.com/brandguard/backend/internal/platform/ctxutil"
	"github.com/brandguard/backend/internal/platform/logger"
)

// Video wraps the Video Intelligence long-running annotate call behind a
// single blocking method with an explicit poll interval and wait budget.
type Video interface {
	AnnotateVideoGCS(ctx context.Context, gcsURI string, cfg VideoAIConfig) (*VideoAIResult, error)
	Close() error
}

type VideoAIConfig struct {
	LanguageCode string

	EnableSpeechTranscription bool
	EnableTextDetection       bool
	EnableLogoRecognition     bool

	PollInterval time.Duration
	WaitBudget   time.Duration
}

type VideoAIResult struct {
	Provider  string `json:"provider"`
	SourceURI string `json:"source_uri"`

	TranscriptSegments []audit.Segment `json:"transcript_segments,omitempty"`
	TextSegments       []audit.Segment `json:"text_segments,omitempty"`
	Logos              []audit.Mark    `json:"logos,omitempty"`

	Warnings []string `json:"warnings,omitempty"`
}

type videoService struct {
	log        *logger.Logger
	client     *videointelligence.Client
	maxRetries int
}

func NewVideo(log *logger.Logger) (Video, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("service", "gcp.Video")

	ctx := context.Background()
	opts := ClientOptionsFromEnv()

	c, err := videointelligence.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("videointelligence client: %w", err)
	}

	return &videoService{
		log:        slog,
		client:     c,
		maxRetries: 4,
	}, nil
}

func (s *videoService) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *videoService) AnnotateVideoGCS(ctx context.Context, gcsURI string, cfg VideoAIConfig) (*VideoAIResult, error) {
	ctx = ctxutil.Default(ctx)

	if !strings.HasPrefix(gcsURI, "gs://") {
		return nil, fmt.Errorf("gcsURI must be gs://... got %q", gcsURI)
	}

	if cfg.LanguageCode == "" {
		cfg.LanguageCode = "en-US"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.WaitBudget <= 0 {
		cfg.WaitBudget = 30 * time.Minute
	}
	if !cfg.EnableSpeechTranscription && !cfg.EnableTextDetection && !cfg.EnableLogoRecognition {
		cfg.EnableSpeechTranscription = true
		cfg.EnableTextDetection = true
		cfg.EnableLogoRecognition = true
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.WaitBudget)
	defer cancel()

	features := []vipb.Feature{}
	if cfg.EnableSpeechTranscription {
		features = append(features, vipb.Feature_SPEECH_TRANSCRIPTION)
	}
	if cfg.EnableTextDetection {
		features = append(features, vipb.Feature_TEXT_DETECTION)
	}
	if cfg.EnableLogoRecognition {
		features = append(features, vipb.Feature_LOGO_RECOGNITION)
	}

	vcfg := &vipb.VideoContext{}
	if cfg.EnableSpeechTranscription {
		vcfg.SpeechTranscriptionConfig = &vipb.SpeechTranscriptionConfig{
			LanguageCode:               cfg.LanguageCode,
			EnableAutomaticPunctuation: true,
			FilterProfanity:            false,
			EnableWordConfidence:       true,
		}
	}
	if cfg.EnableTextDetection {
		vcfg.TextDetectionConfig = &vipb.TextDetectionConfig{}
	}

	req := &vipb.AnnotateVideoRequest{
		InputUri:     gcsURI,
		Features:     features,
		VideoContext: vcfg,
	}

	resp, err := s.retryAnnotate(ctx, func() (*vipb.AnnotateVideoResponse, error) {
		op, err := s.client.AnnotateVideo(ctx, req)
		if err != nil {
			return nil, err
		}
		return s.pollUntilDone(ctx, op, cfg.PollInterval)
	})
	if err != nil {
		return nil, fmt.Errorf("videointelligence AnnotateVideo: %w", err)
	}

	out := &VideoAIResult{
		Provider:  "gcp_videointelligence",
		SourceURI: gcsURI,
	}

	if resp == nil || len(resp.AnnotationResults) == 0 || resp.AnnotationResults[0] == nil {
		out.Warnings = append(out.Warnings, "no annotation results")
		return out, nil
	}

	ar := resp.AnnotationResults[0]

	if cfg.EnableSpeechTranscription && len(ar.SpeechTranscriptions) > 0 {
		out.TranscriptSegments = parseVideoSpeech(ar.SpeechTranscriptions)
	}
	if cfg.EnableTextDetection && len(ar.TextAnnotations) > 0 {
		out.TextSegments = parseVideoText(ar.TextAnnotations)
	}
	if cfg.EnableLogoRecognition && len(ar.LogoRecognitionAnnotations) > 0 {
		out.Logos = parseLogos(ar.LogoRecognitionAnnotations)
	}

	return out, nil
}

// pollUntilDone drives the LRO at a fixed interval instead of the client's
// built-in backoff so operators can tune poll pressure via config.
func (s *videoService) pollUntilDone(ctx context.Context, op *videointelligence.AnnotateVideoOperation, interval time.Duration) (*vipb.AnnotateVideoResponse, error) {
	for {
		resp, err := op.Poll(ctx)
		if err != nil {
			return nil, err
		}
		if op.Done() {
			return resp, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

func parseVideoSpeech(st []*vipb.SpeechTranscription) []audit.Segment {
	out := []audit.Segment{}
	n := 0

	for _, tr := range st {
		if tr == nil || len(tr.Alternatives) == 0 || tr.Alternatives[0] == nil {
			continue
		}
		alt := tr.Alternatives[0]
		text := strings.TrimSpace(alt.Transcript)
		if text == "" {
			continue
		}

		start := 0.0
		end := 0.0
		if len(alt.Words) > 0 {
			start = durToSecVI(alt.Words[0].StartTime)
			for _, w := range alt.Words {
				if w == nil {
					continue
				}
				if we := durToSecVI(w.EndTime); we > end {
					end = we
				}
			}
		}

		n++
		out = append(out, audit.Segment{
			ID:         fmt.Sprintf("speech-%d", n),
			Text:       text,
			StartSec:   start,
			EndSec:     end,
			Confidence: float64(alt.Confidence),
		})
	}
	return out
}

func parseVideoText(ann []*vipb.TextAnnotation) []audit.Segment {
	type piece struct {
		text string
		s    float64
		e    float64
		conf float64
	}
	tmp := []piece{}

	for _, ta := range ann {
		if ta == nil || strings.TrimSpace(ta.Text) == "" {
			continue
		}
		for _, seg := range ta.Segments {
			if seg == nil || seg.Segment == nil {
				continue
			}
			s := durToSecVI(seg.Segment.StartTimeOffset)
			e := durToSecVI(seg.Segment.EndTimeOffset)
			tmp = append(tmp, piece{text: ta.Text, s: s, e: e, conf: float64(seg.Confidence)})
		}
	}

	sort.Slice(tmp, func(i, j int) bool {
		if tmp[i].s == tmp[j].s {
			return tmp[i].e < tmp[j].e
		}
		return tmp[i].s < tmp[j].s
	})

	out := make([]audit.Segment, 0, len(tmp))
	for i, p := range tmp {
		out = append(out, audit.Segment{
			ID:         fmt.Sprintf("ocr-%d", i+1),
			Text:       p.text,
			StartSec:   p.s,
			EndSec:     p.e,
			Confidence: p.conf,
		})
	}
	return out
}

func parseLogos(ann []*vipb.LogoRecognitionAnnotation) []audit.Mark {
	out := []audit.Mark{}
	for _, la := range ann {
		if la == nil || la.Entity == nil {
			continue
		}
		label := strings.TrimSpace(la.Entity.Description)
		if label == "" {
			continue
		}
		occ := []float64{}
		for _, tr := range la.Tracks {
			if tr == nil || tr.Segment == nil {
				continue
			}
			occ = append(occ, durToSecVI(tr.Segment.StartTimeOffset))
		}
		sort.Float64s(occ)
		out = append(out, audit.Mark{Label: label, Occurrences: occ})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

func durToSecVI(d *durationpb.Duration) float64 {
	if d == nil {
		return 0
	}
	return float64(d.Seconds) + float64(d.Nanos)/1e9
}

func (s *videoService) retryAnnotate(ctx context.Context, fn func() (*vipb.AnnotateVideoResponse, error)) (*vipb.AnnotateVideoResponse, error) {
	backoff := 750 * time.Millisecond
	var last error

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		last = err

		code := status.Code(err)
		if code != codes.Unavailable && code != codes.ResourceExhausted {
			return nil, err
		}
		if attempt == s.maxRetries {
			break
		}

		time.Sleep(backoff)
		backoff *= 2
		if backoff > 10*time.Second {
			backoff = 10 * time.Second
		}
	}
	return nil, last
}
