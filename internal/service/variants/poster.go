package variants

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"time"
)

var errNoFFmpeg = errors.New("ffmpeg not available")

// posterExtractor вытаскивает один кадр видео через ffmpeg CLI.
type posterExtractor struct {
	bin     string
	timeout time.Duration
	logger  *log.Logger
}

func newPosterExtractor(configured string, logger *log.Logger) *posterExtractor {
	p := &posterExtractor{timeout: time.Minute, logger: logger}
	if configured != "" {
		if _, err := os.Stat(configured); err == nil {
			p.bin = configured
		} else {
			logger.Printf("configured ffmpeg %q not usable: %v", configured, err)
		}
	}
	if p.bin == "" {
		if found, err := exec.LookPath("ffmpeg"); err == nil {
			p.bin = found
		}
	}
	if p.bin == "" {
		logger.Println("ffmpeg not found, video posters disabled")
	}
	return p
}

func (p *posterExtractor) Extract(ctx context.Context, src []byte) ([]byte, error) {
	if p.bin == "" {
		return nil, errNoFFmpeg
	}

	// mp4 с moov в конце из пайпа не читается — только через файл
	tmp, err := os.CreateTemp("", "poster-*.bin")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(src); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.bin,
		"-hide_banner", "-loglevel", "error",
		"-ss", "00:00:01",
		"-i", tmp.Name(),
		"-frames:v", "1",
		"-f", "mjpeg",
		"-",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, stderr.String())
	}
	if stdout.Len() == 0 {
		// ролик короче секунды: берём первый кадр
		return p.firstFrame(ctx, tmp.Name())
	}
	return stdout.Bytes(), nil
}

func (p *posterExtractor) firstFrame(ctx context.Context, file string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, p.bin,
		"-hide_banner", "-loglevel", "error",
		"-i", file,
		"-frames:v", "1",
		"-f", "mjpeg",
		"-",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no frame: %s", stderr.String())
	}
	return stdout.Bytes(), nil
}
