// Package transcode drives ffmpeg/ffprobe to fit videos under a size target.
package transcode

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

const (
	defaultFfmpeg  = "ffmpeg"
	defaultFfprobe = "ffprobe"

	// Bitrate floors keep very long inputs from degrading into noise.
	minVideoKbps = 300
	minAudioKbps = 64
)

var timePattern = regexp.MustCompile(`time=(\d+):(\d+):(\d+(?:\.\d+)?)`)

// Encoder runs the fixed encoding profiles.
type Encoder struct {
	// FfmpegPath and FfprobePath default to the binaries on PATH.
	FfmpegPath  string
	FfprobePath string
	Logger      *slog.Logger
}

func (e *Encoder) ffmpeg() string {
	if e.FfmpegPath != "" {
		return e.FfmpegPath
	}
	return defaultFfmpeg
}

func (e *Encoder) ffprobe() string {
	if e.FfprobePath != "" {
		return e.FfprobePath
	}
	return defaultFfprobe
}

func (e *Encoder) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Duration returns the length of the video in seconds, via ffprobe.
func (e *Encoder) Duration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, e.ffprobe(),
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w: %s", filepath.Base(path), err, errBuf.String())
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(out.String()), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: parse duration: %w", filepath.Base(path), err)
	}
	return d, nil
}

// BitrateKbps computes the total bitrate budget that fits targetBytes after
// applying the safety margin.
func BitrateKbps(durationSec float64, targetBytes int64, margin float64) int {
	if durationSec < 0.001 {
		durationSec = 0.001
	}
	bits := float64(targetBytes) * margin * 8
	return int(bits / durationSec / 1000)
}

// SplitBitrate divides a total budget 80/20 between video and audio with
// floors applied.
func SplitBitrate(totalKbps int) (videoKbps, audioKbps int) {
	videoKbps = totalKbps * 8 / 10
	if videoKbps < minVideoKbps {
		videoKbps = minVideoKbps
	}
	audioKbps = totalKbps * 2 / 10
	if audioKbps < minAudioKbps {
		audioKbps = minAudioKbps
	}
	return videoKbps, audioKbps
}

// ParseProgressTime extracts the elapsed seconds from an ffmpeg status line
// of the form "... time=HH:MM:SS.ms ...".
func ParseProgressTime(line string) (float64, bool) {
	m := timePattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	h, _ := strconv.Atoi(m[1])
	min, _ := strconv.Atoi(m[2])
	s, _ := strconv.ParseFloat(m[3], 64)
	return float64(h)*3600 + float64(min)*60 + s, true
}

// ProgressBuckets coalesces fractional progress into 10% steps so transfer
// logs stay readable.
type ProgressBuckets struct {
	last int
}

// NewProgressBuckets returns a tracker that has reported nothing yet.
func NewProgressBuckets() *ProgressBuckets { return &ProgressBuckets{last: -1} }

// Step returns the percent (0, 10, ... 100) to report for fraction, and
// whether it is a new bucket.
func (b *ProgressBuckets) Step(fraction float64) (int, bool) {
	bucket := int(fraction*100) / 10
	if bucket < 0 || bucket > 10 || bucket == b.last {
		return 0, false
	}
	b.last = bucket
	return bucket * 10, true
}

// EncodeToTarget re-encodes in into out so the result stays under
// targetBytes: single-pass 1080p x264 with a bitrate budget derived from the
// probed duration. Progress is logged in 10% steps parsed from ffmpeg output.
func (e *Encoder) EncodeToTarget(ctx context.Context, in, out string, targetBytes int64, margin float64) error {
	duration, err := e.Duration(ctx, in)
	if err != nil {
		return err
	}
	total := BitrateKbps(duration, targetBytes, margin)
	vKbps, aKbps := SplitBitrate(total)

	logger := e.logger()
	logger.Info("encoding",
		"input", filepath.Base(in),
		"duration_s", fmt.Sprintf("%.1f", duration),
		"total_kbps", total, "video_kbps", vKbps, "audio_kbps", aKbps)

	args := []string{
		"-y",
		"-i", in,
		"-vf", "scale=-2:1080",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-b:v", fmt.Sprintf("%dk", vKbps),
		"-c:a", "aac",
		"-b:a", fmt.Sprintf("%dk", aKbps),
		"-movflags", "+faststart",
		"-f", "mp4",
		out,
	}

	if err := e.runWithProgress(ctx, duration, filepath.Base(in), args); err != nil {
		return err
	}

	if info, err := os.Stat(out); err == nil {
		logger.Info("encode finished",
			"output", filepath.Base(out),
			"size_mb", fmt.Sprintf("%.1f", float64(info.Size())/(1024*1024)))
	}
	return nil
}

// EncodeLectureProfile is the readability-first profile used by the audit
// fixer: two-pass x264, stillimage tune, lanczos scaling, fixed 128k audio.
// When the video budget drops under 1200k the output is held at 720p so
// slide text stays legible.
func (e *Encoder) EncodeLectureProfile(ctx context.Context, in, out string, targetBytes int64, margin float64) error {
	duration, err := e.Duration(ctx, in)
	if err != nil {
		return err
	}
	total := BitrateKbps(duration, targetBytes, margin)

	aKbps := 128
	vKbps := total - aKbps
	if vKbps < minVideoKbps {
		vKbps = minVideoKbps
	}

	vf := "scale=-2:1080:flags=lanczos"
	if vKbps < 1200 {
		vf = "scale=-2:720:flags=lanczos"
	}

	e.logger().Info("re-encoding (lecture profile)",
		"input", filepath.Base(in),
		"duration_s", fmt.Sprintf("%.1f", duration),
		"target_bytes", targetBytes, "margin", margin,
		"video_kbps", vKbps, "audio_kbps", aKbps, "vf", vf)

	passlog := out + ".passlog"
	defer func() {
		for _, ext := range []string{"", "-0.log", "-0.log.mbtree"} {
			os.Remove(passlog + ext)
		}
	}()

	pass1 := []string{
		"-y", "-i", in,
		"-vf", vf,
		"-c:v", "libx264", "-preset", "slow", "-tune", "stillimage",
		"-b:v", fmt.Sprintf("%dk", vKbps),
		"-pass", "1", "-passlogfile", passlog,
		"-an",
		"-f", "mp4",
		os.DevNull,
	}
	if err := e.runWithProgress(ctx, duration, filepath.Base(in)+" (pass 1)", pass1); err != nil {
		return err
	}

	pass2 := []string{
		"-y", "-i", in,
		"-vf", vf,
		"-c:v", "libx264", "-preset", "slow", "-tune", "stillimage",
		"-b:v", fmt.Sprintf("%dk", vKbps),
		"-pass", "2", "-passlogfile", passlog,
		"-c:a", "aac", "-b:a", fmt.Sprintf("%dk", aKbps),
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		"-f", "mp4",
		out,
	}
	return e.runWithProgress(ctx, duration, filepath.Base(in)+" (pass 2)", pass2)
}

// runWithProgress executes ffmpeg with stdout and stderr merged, scanning
// the stream for time= markers. Exit code zero is the only success signal.
func (e *Encoder) runWithProgress(ctx context.Context, duration float64, desc string, args []string) error {
	cmd := exec.CommandContext(ctx, e.ffmpeg(), args...)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	logger := e.logger()
	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		scanner.Split(scanStatusLines)
		buckets := NewProgressBuckets()
		for scanner.Scan() {
			t, ok := ParseProgressTime(scanner.Text())
			if !ok || duration <= 0 {
				continue
			}
			if pct, report := buckets.Step(t / duration); report {
				logger.Info("encode progress", "input", desc, "percent", pct,
					"elapsed_s", fmt.Sprintf("%.1f", t))
			}
		}
	}()

	err := cmd.Run()
	pw.Close()
	<-done

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg %s: %w", desc, err)
	}
	return nil
}

// scanStatusLines splits on \n and \r; ffmpeg rewrites its status line with
// bare carriage returns.
func scanStatusLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
