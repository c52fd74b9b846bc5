package video

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	apperrors "github.com/binh234/video2slides/internal/errors"
)

// Options configures the ffmpeg decoder.
type Options struct {
	FFmpegPath  string // defaults to "ffmpeg" on PATH
	FFprobePath string // defaults to "ffprobe" on PATH
}

// StreamInfo describes the first video stream of a container.
type StreamInfo struct {
	Width      int
	Height     int
	FPS        float64
	FrameCount int
}

// FFmpegSource decodes a video file by piping rgb24 frames out of ffmpeg.
type FFmpegSource struct {
	info   StreamInfo
	cmd    *exec.Cmd
	stdout io.ReadCloser
	reader *bufio.Reader
	stderr bytes.Buffer
	buf    []byte
	index  int
	done   bool
}

// Open probes path and starts the decoder. Failure to open or probe the file is
// fatal for the run and returned before any frame is decoded.
func Open(ctx context.Context, path string, opts Options) (*FFmpegSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeSourceUnavailable, "video file not accessible: %s", path)
	}

	ffprobe, err := lookTool(opts.FFprobePath, "ffprobe")
	if err != nil {
		return nil, err
	}
	ffmpeg, err := lookTool(opts.FFmpegPath, "ffmpeg")
	if err != nil {
		return nil, err
	}

	info, err := probe(ctx, ffprobe, path)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, ffmpeg,
		"-v", "error",
		"-i", path,
		"-map", "0:v:0",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-")

	s := &FFmpegSource{info: info, cmd: cmd}
	cmd.Stderr = &s.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to create ffmpeg pipe")
	}
	if err := cmd.Start(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeSourceUnavailable, "failed to start ffmpeg")
	}

	s.stdout = stdout
	s.reader = bufio.NewReaderSize(stdout, info.Width*info.Height*rgbBytesPerPixel)
	s.buf = make([]byte, info.Width*info.Height*rgbBytesPerPixel)

	slog.Debug("video opened", "path", path, "width", info.Width, "height", info.Height,
		"fps", info.FPS, "frames", info.FrameCount)
	return s, nil
}

// Info returns the probed stream description.
func (s *FFmpegSource) Info() StreamInfo { return s.info }

// FrameCount returns the container's frame count estimate.
func (s *FFmpegSource) FrameCount() int { return s.info.FrameCount }

// Next decodes the next frame. A truncated or unreadable frame mid-stream ends
// the stream gracefully: frames already returned stay valid. A read cut short by
// cancellation returns the context error instead.
func (s *FFmpegSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if s.done {
		return Frame{}, io.EOF
	}

	if _, err := io.ReadFull(s.reader, s.buf); err != nil {
		s.done = true
		// A killed decoder looks like a short read.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Frame{}, ctxErr
		}
		if !stderrors.Is(err, io.EOF) {
			slog.Warn("frame decode failed, treating as end of stream",
				"frame", s.index+1, "error", err, "stderr", strings.TrimSpace(s.stderr.String()))
		}
		return Frame{}, io.EOF
	}

	s.index++
	return Frame{
		Index:     s.index,
		Timestamp: frameTime(s.index-1, s.info.FPS),
		Image:     rgb24ToRGBA(s.buf, s.info.Width, s.info.Height),
	}, nil
}

// Close stops the decoder and releases the pipe.
func (s *FFmpegSource) Close() error {
	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	_ = s.stdout.Close()
	_ = s.cmd.Process.Kill()
	_ = s.cmd.Wait()
	return nil
}

func lookTool(configured, name string) (string, error) {
	if configured == "" {
		configured = name
	}
	path, err := exec.LookPath(configured)
	if err != nil {
		return "", apperrors.Wrapf(err, apperrors.CodeUnavailable, "%s not found in PATH", name)
	}
	return path, nil
}

type probeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func probe(ctx context.Context, ffprobe, path string) (StreamInfo, error) {
	cmd := exec.CommandContext(ctx, ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate,nb_frames",
		"-show_entries", "format=duration",
		"-of", "json",
		path)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return StreamInfo{}, apperrors.Wrapf(err, apperrors.CodeSourceUnavailable, "unable to open video file: %s", path).
			WithMetadata("stderr", strings.TrimSpace(stderr.String()))
	}
	return parseProbe(stdout.Bytes())
}

// parseProbe turns ffprobe JSON into StreamInfo. A container without a decodable
// video stream is reported as corrupt.
func parseProbe(data []byte) (StreamInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return StreamInfo{}, apperrors.Wrap(err, apperrors.CodeSourceCorrupt, "unreadable probe output")
	}
	if len(out.Streams) == 0 {
		return StreamInfo{}, apperrors.New(apperrors.CodeSourceCorrupt, "no video stream found")
	}

	st := out.Streams[0]
	if st.Width <= 0 || st.Height <= 0 {
		return StreamInfo{}, apperrors.Newf(apperrors.CodeSourceCorrupt, "invalid frame size %dx%d", st.Width, st.Height)
	}

	fps := parseRate(st.AvgFrameRate)
	if fps <= 0 {
		fps = parseRate(st.RFrameRate)
	}
	if fps <= 0 {
		fps = DefaultFPS
	}

	count, _ := strconv.Atoi(st.NbFrames)
	if count <= 0 {
		if d, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil && d > 0 {
			count = int(d * fps)
		}
	}

	return StreamInfo{Width: st.Width, Height: st.Height, FPS: fps, FrameCount: count}, nil
}

// parseRate parses ffprobe rationals such as "30000/1001".
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return f
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

func rgb24ToRGBA(src []byte, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i, j := 0, 0; i+2 < len(src) && j+3 < len(img.Pix); i, j = i+3, j+4 {
		img.Pix[j] = src[i]
		img.Pix[j+1] = src[i+1]
		img.Pix[j+2] = src[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

// String is used in log lines.
func (i StreamInfo) String() string {
	return fmt.Sprintf("%dx%d@%.2f (%d frames)", i.Width, i.Height, i.FPS, i.FrameCount)
}
