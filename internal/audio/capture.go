// Package audio captures microphone input via PortAudio, driving a full
// recording session that stops on an RMS-threshold silence check.
package audio

import (
	"fmt"
	"math"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/beamctc/beamctc/internal/logger"
)

// SampleRate is the capture rate the acoustic package's models expect.
const SampleRate = 16000

// RecordOption configures Record.
type RecordOption func(*recordConfig)

type recordConfig struct {
	maxDuration time.Duration
	silenceDur  time.Duration
	rmsThresh   float64
}

// WithMaxDuration bounds how long Record will capture before returning
// regardless of silence.
func WithMaxDuration(d time.Duration) RecordOption {
	return func(c *recordConfig) { c.maxDuration = d }
}

// WithSilenceTimeout sets how long continuous silence after speech ends
// a recording.
func WithSilenceTimeout(d time.Duration) RecordOption {
	return func(c *recordConfig) { c.silenceDur = d }
}

// Record opens the default input device and captures mono float32 PCM
// at SampleRate until either silence follows speech or maxDuration
// elapses, following the same RMS-threshold stop condition as the
// teacher's Ear.doListening monitor loop.
func Record(log *logger.Logger, opts ...RecordOption) ([]float32, error) {
	cfg := recordConfig{
		maxDuration: 15 * time.Second,
		silenceDur:  4 * time.Second,
		rmsThresh:   0.008,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("audio: portaudio init: %w", err)
	}
	defer portaudio.Terminate()

	const frameSize = 1024
	buf := make([]float32, frameSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(SampleRate), frameSize, buf)
	if err != nil {
		return nil, fmt.Errorf("audio: open stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, fmt.Errorf("audio: start stream: %w", err)
	}
	defer stream.Stop()

	log.Debug("audio: recording started (rate=%d)", SampleRate)

	var captured []float32
	deadline := time.Now().Add(cfg.maxDuration)
	lastLoud := time.Now()
	heardSpeech := false

	for time.Now().Before(deadline) {
		if err := stream.Read(); err != nil {
			log.Debug("audio: read error: %v", err)
			break
		}
		captured = append(captured, buf...)

		rms := rootMeanSquare(buf)
		if rms >= cfg.rmsThresh {
			lastLoud = time.Now()
			if !heardSpeech {
				heardSpeech = true
				log.Debug("audio: speech detected (rms=%.4f)", rms)
			}
		}
		if heardSpeech && time.Since(lastLoud) >= cfg.silenceDur {
			log.Debug("audio: silence after speech, stopping")
			break
		}
	}

	log.Info("audio: captured %.2fs", float64(len(captured))/float64(SampleRate))
	return captured, nil
}

func rootMeanSquare(samples []float32) float64 {
	var sumSq float64
	for _, s := range samples {
		sumSq += float64(s) * float64(s)
	}
	return math.Sqrt(sumSq / float64(len(samples)))
}
