package transcode

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// BuildArgs assembles the ffmpeg argument list for remuxing a camera
// source into fragmented MP4 suitable for progressive HTTP delivery.
// Video is re-encoded to baseline H.264 so that browsers without HEVC
// support can decode it.
func BuildArgs(sourceURL string) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
	}

	switch {
	case strings.HasPrefix(sourceURL, "rtsps://"):
		args = append(args,
			"-rtsp_transport", "tcp",
			"-tls_verify", "0",
			"-timeout", "5000000",
		)
	case strings.HasPrefix(sourceURL, "rtsp://"):
		args = append(args,
			"-rtsp_transport", "tcp",
			"-timeout", "5000000",
		)
	case strings.HasPrefix(sourceURL, "https://"):
		// Cameras ship self-signed certs.
		args = append(args, "-tls_verify", "0")
	}

	args = append(args,
		"-i", sourceURL,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-profile:v", "baseline",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", "128k",
		// Fragmented output so playback can begin before EOF.
		"-movflags", "frag_keyframe+empty_moov+default_base_moof",
		"-f", "mp4",
		"pipe:1",
	)
	return args
}

// process abstracts a running transcoder child so the manager can be
// tested without an ffmpeg binary.
type process interface {
	Output() io.ReadCloser
	Wait() error
	Stop()
}

type ffmpegProcess struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	cancel context.CancelFunc
}

func startFFmpeg(ctx context.Context, binary, sourceURL string) (process, error) {
	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, binary, BuildArgs(sourceURL)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, err
	}
	return &ffmpegProcess{cmd: cmd, stdout: stdout, cancel: cancel}, nil
}

func (p *ffmpegProcess) Output() io.ReadCloser { return p.stdout }
func (p *ffmpegProcess) Wait() error           { return p.cmd.Wait() }
func (p *ffmpegProcess) Stop()                 { p.cancel() }
