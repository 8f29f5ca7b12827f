package localmedia

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/brandguard/backend/internal/platform/ctxutil"
	"github.com/brandguard/backend/internal/platform/logger"
)

// Tools is the glue around system binaries.
//
// REQUIRED BINARIES in worker runtime:
// - yt-dlp for fetching public video URLs to local files
// - ffprobe (ffmpeg package) for container duration probing
//
// This service is synchronous and should be called from worker jobs, not
// request handlers.
type Tools interface {
	AssertReady(ctx context.Context) error

	// DownloadVideo fetches url into a fresh work directory and returns the
	// local file path plus source metadata reported by the fetcher. The
	// cleanup func removes the whole work directory.
	DownloadVideo(ctx context.Context, url string) (*DownloadResult, func(), error)

	ProbeDurationSeconds(ctx context.Context, videoPath string) (float64, error)
}

type DownloadResult struct {
	Path string

	Title      string
	Channel    string
	UploadDate string
	Platform   string
}

type tools struct {
	log *logger.Logger

	ytdlpPath   string
	ffprobePath string

	workRoot string

	defaultTimeout time.Duration
}

func New(log *logger.Logger) Tools {
	slog := log.With("service", "MediaTools")
	return &tools{
		log:            slog,
		ytdlpPath:      "yt-dlp",
		ffprobePath:    "ffprobe",
		workRoot:       "/tmp/brandguard-media",
		defaultTimeout: 15 * time.Minute,
	}
}

func (m *tools) AssertReady(ctx context.Context) error {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, bin := range []string{m.ytdlpPath, m.ffprobePath} {
		if err := m.assertBinary(ctx, bin); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(m.workRoot, 0o755); err != nil {
		return fmt.Errorf("create workRoot: %w", err)
	}
	return nil
}

func (m *tools) assertBinary(_ context.Context, name string) error {
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("missing required binary %q in PATH: %w", name, err)
	}
	return nil
}

// ytdlpInfo is the subset of yt-dlp's --print-json output we carry forward.
type ytdlpInfo struct {
	Title        string `json:"title"`
	Channel      string `json:"channel"`
	Uploader     string `json:"uploader"`
	UploadDate   string `json:"upload_date"`
	ExtractorKey string `json:"extractor_key"`
	Extractor    string `json:"extractor"`
}

func (m *tools) DownloadVideo(ctx context.Context, url string) (*DownloadResult, func(), error) {
	ctx = ctxutil.Default(ctx)
	if err := m.AssertReady(ctx); err != nil {
		return nil, func() {}, err
	}
	if strings.TrimSpace(url) == "" {
		return nil, func() {}, fmt.Errorf("url required")
	}

	workDir, err := os.MkdirTemp(m.workRoot, "dl-*")
	if err != nil {
		return nil, func() {}, fmt.Errorf("mkdir workDir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(workDir) }

	ctx, cancel := context.WithTimeout(ctx, m.defaultTimeout)
	defer cancel()

	outTemplate := filepath.Join(workDir, "video.%(ext)s")
	cmd := exec.CommandContext(ctx, m.ytdlpPath,
		"--no-playlist",
		"--no-progress",
		"-f", "mp4/bestvideo*+bestaudio/best",
		"--merge-output-format", "mp4",
		"--print-json",
		"-o", outTemplate,
		url,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		cleanup()
		return nil, func() {}, fmt.Errorf("yt-dlp failed: %w; out=%s", err, stderr.String())
	}

	var info ytdlpInfo
	if decErr := json.Unmarshal(stdout.Bytes(), &info); decErr != nil {
		// Metadata is best-effort; a bad JSON line does not fail the download.
		m.log.Warn("yt-dlp metadata parse failed", "error", decErr.Error())
	}

	videoPath, err := newestMediaFile(workDir)
	if err != nil {
		cleanup()
		return nil, func() {}, fmt.Errorf("yt-dlp produced no output file: %w; out=%s", err, stderr.String())
	}

	channel := strings.TrimSpace(info.Channel)
	if channel == "" {
		channel = strings.TrimSpace(info.Uploader)
	}
	platform := strings.TrimSpace(info.ExtractorKey)
	if platform == "" {
		platform = strings.TrimSpace(info.Extractor)
	}

	return &DownloadResult{
		Path:       videoPath,
		Title:      strings.TrimSpace(info.Title),
		Channel:    channel,
		UploadDate: strings.TrimSpace(info.UploadDate),
		Platform:   platform,
	}, cleanup, nil
}

func (m *tools) ProbeDurationSeconds(ctx context.Context, videoPath string) (float64, error) {
	ctx = ctxutil.Default(ctx)
	if videoPath == "" {
		return 0, fmt.Errorf("videoPath required")
	}
	if err := m.assertBinary(ctx, m.ffprobePath); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, m.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w; out=%s", err, string(out))
	}

	raw := strings.TrimSpace(string(out))
	dur, err := strconv.ParseFloat(raw, 64)
	if err != nil || dur < 0 {
		return 0, fmt.Errorf("ffprobe returned unparsable duration %q", raw)
	}
	return dur, nil
}

// ---------- helpers ----------

var mediaExtRe = regexp.MustCompile(`\.(mp4|mkv|webm|mov|m4a|avi)$`)

func newestMediaFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	type candidate struct {
		path string
		mod  time.Time
	}
	candidates := []candidate{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !mediaExtRe.MatchString(strings.ToLower(e.Name())) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{
			path: filepath.Join(dir, e.Name()),
			mod:  info.ModTime(),
		})
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no media files in %s", dir)
	}
	// Most recently written first; name breaks ties deterministically.
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].mod.Equal(candidates[j].mod) {
			return candidates[i].mod.After(candidates[j].mod)
		}
		return candidates[i].path < candidates[j].path
	})
	return candidates[0].path, nil
}
