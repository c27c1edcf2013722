// Package compare runs an independent whisper.cpp transcription after a
// decode, so the CLI's -compare-whisper flag can print both outputs side
// by side. It drives the audiotranscriber binding's own live capture:
// start the transcriber, let it capture for as long as the audio the
// acoustic decoder was fed, then stop and read back its callback result.
// Whisper transcribes this new capture, not the samples the decoder saw.
package compare

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	audiotranscriber "github.com/sklyt/whisper/pkg"

	"github.com/beamctc/beamctc/internal/logger"
)

// Config names the whisper.cpp binary and model this package drives.
type Config struct {
	WhisperBin string
	ModelPath  string
	TempDir    string
}

// Transcribe records for duration via whisper.cpp's own capture session
// and returns its transcription, for comparison against a decoder
// hypothesis produced over a window of the same length.
func Transcribe(cfg Config, duration time.Duration, log *logger.Logger) (string, error) {
	if cfg.TempDir == "" {
		cfg.TempDir = ".beamctc-compare"
	}
	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return "", fmt.Errorf("compare: creating temp dir: %w", err)
	}

	var (
		mu     sync.Mutex
		result string
		done   = make(chan struct{})
	)
	callback := func(text string) {
		mu.Lock()
		result = text
		mu.Unlock()
		close(done)
	}

	t, err := audiotranscriber.NewTranscriber(cfg.WhisperBin, cfg.ModelPath, cfg.TempDir, "wav", callback, log.GetLevel() >= logger.LevelVerbose)
	if err != nil {
		return "", fmt.Errorf("compare: transcriber init: %w", err)
	}
	if err := t.Start(); err != nil {
		return "", fmt.Errorf("compare: transcriber start: %w", err)
	}

	time.Sleep(duration)
	t.Stop()
	<-done

	return strings.TrimSpace(result), nil
}
