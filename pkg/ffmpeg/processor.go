package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/iconidentify/clipdrop/pkg/toolexec"
)

// Encoding targets for mobile playback.
const (
	MaxWidth        = 720
	CRF             = 23
	Preset          = "medium"
	AudioBitrate    = "128k"
	ThumbnailWidth  = 480
	ThumbnailOffset = "00:00:01"
	ThumbnailQScale = 5
)

// Processor transcodes and inspects media with ffmpeg and ffprobe.
type Processor struct {
	runner      toolexec.Runner
	ffmpegPath  string
	ffprobePath string
}

// NewProcessor creates a processor that invokes the given binaries through runner.
func NewProcessor(runner toolexec.Runner, ffmpegPath, ffprobePath string) *Processor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Processor{
		runner:      runner,
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
	}
}

// TranscodeArgs builds the ffmpeg arguments for a streamable H.264/AAC MP4
// no wider than MaxWidth.
func TranscodeArgs(input, output string) []string {
	return []string{
		"-y",
		"-i", input,
		"-c:v", "libx264",
		"-preset", Preset,
		"-crf", strconv.Itoa(CRF),
		"-vf", fmt.Sprintf("scale='min(%d,iw)':-2", MaxWidth),
		"-c:a", "aac",
		"-b:a", AudioBitrate,
		"-movflags", "+faststart",
		"-pix_fmt", "yuv420p",
		"-max_muxing_queue_size", "1024",
		output,
	}
}

// ThumbnailArgs builds the ffmpeg arguments for a single JPEG frame.
func ThumbnailArgs(input, output string) []string {
	return []string{
		"-y",
		"-ss", ThumbnailOffset,
		"-i", input,
		"-vframes", "1",
		"-vf", fmt.Sprintf("scale=%d:-1", ThumbnailWidth),
		"-q:v", strconv.Itoa(ThumbnailQScale),
		output,
	}
}

// Transcode re-encodes input into output. A failed run removes any partial output.
func (p *Processor) Transcode(ctx context.Context, input, output string) error {
	return p.runFFmpeg(ctx, TranscodeArgs(input, output), output)
}

// ExtractThumbnail writes one frame of input as a JPEG.
func (p *Processor) ExtractThumbnail(ctx context.Context, input, output string) error {
	return p.runFFmpeg(ctx, ThumbnailArgs(input, output), output)
}

func (p *Processor) runFFmpeg(ctx context.Context, args []string, output string) error {
	res, err := p.runner.Run(ctx, toolexec.Command{Path: p.ffmpegPath, Args: args})
	if err != nil {
		_ = os.Remove(output)
		return fmt.Errorf("ffmpeg: %w", err)
	}
	if !res.Succeeded() {
		_ = os.Remove(output)
		return res.Failure("ffmpeg")
	}

	info, err := os.Stat(output)
	if err != nil {
		return fmt.Errorf("ffmpeg produced no output: %w", err)
	}
	if info.Size() == 0 {
		_ = os.Remove(output)
		return fmt.Errorf("ffmpeg produced an empty file")
	}
	return nil
}

// MediaInfo contains metadata about a media file.
type MediaInfo struct {
	Duration   float64 // Duration in seconds
	Width      int
	Height     int
	HasAudio   bool
	VideoCodec string
	AudioCodec string
	Bitrate    int64
}

// DurationSeconds returns the duration rounded to whole seconds.
func (m *MediaInfo) DurationSeconds() int {
	return int(math.Round(m.Duration))
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
	BitRate  string `json:"bit_rate"`
}

type ffprobeStream struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

// Probe extracts duration and stream information from a media file.
func (p *Processor) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	res, err := p.runner.Run(ctx, toolexec.Command{
		Path: p.ffprobePath,
		Args: []string{
			"-v", "quiet",
			"-print_format", "json",
			"-show_format",
			"-show_streams",
			path,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w", err)
	}
	if !res.Succeeded() {
		return nil, res.Failure("ffprobe")
	}

	return ParseProbeOutput(res.Stdout)
}

// ParseProbeOutput decodes ffprobe's JSON output.
func ParseProbeOutput(output []byte) (*MediaInfo, error) {
	var parsed ffprobeOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	info := &MediaInfo{}
	if parsed.Format.Duration != "" {
		if dur, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil {
			info.Duration = dur
		}
	}
	if parsed.Format.BitRate != "" {
		if br, err := strconv.ParseInt(parsed.Format.BitRate, 10, 64); err == nil {
			info.Bitrate = br
		}
	}

	for _, s := range parsed.Streams {
		switch s.CodecType {
		case "audio":
			info.HasAudio = true
			if info.AudioCodec == "" {
				info.AudioCodec = s.CodecName
			}
		case "video":
			if info.VideoCodec == "" {
				info.VideoCodec = s.CodecName
			}
			if info.Width == 0 && s.Width > 0 {
				info.Width = s.Width
				info.Height = s.Height
			}
		}
	}

	return info, nil
}
