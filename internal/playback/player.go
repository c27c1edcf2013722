// Package playback plays back captured audio via oto, so the CLI's
// -playback flag can replay what was just decoded. It plays raw float32
// PCM (the shape internal/audio.Record produces), one buffer per Play
// call, with no queue.
package playback

import (
	"io"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/beamctc/beamctc/internal/audio"
	"github.com/beamctc/beamctc/internal/logger"
)

const channelCount = 1

// Player plays mono float32 PCM at audio.SampleRate through the system
// audio device.
type Player struct {
	ctx *oto.Context
	log *logger.Logger

	mu     sync.Mutex
	active *oto.Player
}

// New initializes the system audio output context.
func New(log *logger.Logger) (*Player, error) {
	op := &oto.NewContextOptions{
		SampleRate:   audio.SampleRate,
		ChannelCount: channelCount,
		Format:       oto.FormatFloat32LE,
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, err
	}
	<-readyChan

	log.Debug("playback: audio output initialized (rate=%d, channels=%d)", audio.SampleRate, channelCount)
	return &Player{ctx: ctx, log: log}, nil
}

// Play plays samples synchronously, blocking until playback finishes or
// Stop is called.
func (p *Player) Play(samples []float32) error {
	reader := &float32Reader{samples: samples}
	player := p.ctx.NewPlayer(reader)

	p.mu.Lock()
	p.active = player
	p.mu.Unlock()

	player.Play()
	p.log.Debug("playback: playing %d samples", len(samples))

	for player.IsPlaying() {
		time.Sleep(10 * time.Millisecond)
	}

	p.mu.Lock()
	p.active = nil
	p.mu.Unlock()

	return player.Close()
}

// Stop interrupts playback, if any. Safe to call concurrently and when
// nothing is playing.
func (p *Player) Stop() {
	p.mu.Lock()
	active := p.active
	p.mu.Unlock()

	if active != nil {
		active.Pause()
		p.log.Debug("playback: interrupted")
	}
}

// float32Reader adapts a []float32 PCM buffer to io.Reader as raw
// little-endian float32 bytes, the shape oto's float32 format expects.
type float32Reader struct {
	samples []float32
	byteOff int
}

func (r *float32Reader) Read(p []byte) (int, error) {
	total := len(r.samples) * 4
	if r.byteOff >= total {
		return 0, io.EOF
	}
	n := 0
	for n < len(p) && r.byteOff < total {
		sampleIdx := r.byteOff / 4
		byteInSample := r.byteOff % 4
		bits := math.Float32bits(r.samples[sampleIdx])
		p[n] = byte(bits >> (8 * byteInSample))
		n++
		r.byteOff++
	}
	return n, nil
}
