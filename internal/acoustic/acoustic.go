// Package acoustic runs a CTC acoustic model through ONNX Runtime,
// turning raw 16kHz mono PCM samples into the [T frames, V vocab] logit
// matrix the decoder package consumes.
//
// Load follows the session-construction sequence SetSharedLibraryPath →
// InitializeEnvironment → fixed-shape input/output tensors →
// NewAdvancedSession with a single session, since a CTC acoustic model
// emits per-frame label logits directly.
package acoustic

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// Config names the ONNX Runtime shared library and model file a Model
// loads.
type Config struct {
	OnnxLib   string // path to libonnxruntime.{so,dylib,dll}
	ModelPath string // path to the CTC acoustic model .onnx file

	// SampleWindow is the number of raw PCM samples the model consumes
	// per forward pass (its fixed input shape's second dimension).
	SampleWindow int

	// Vocab is the model's output vocabulary size (its fixed output
	// shape's last dimension), expected to equal the configured
	// Alphabet's size.
	Vocab int
}

// Model wraps one loaded ONNX Runtime session for a CTC acoustic model.
// A Model is not safe for concurrent use — ONNX Runtime sessions serialize
// Run calls internally, but GetData/SetData on the caller's own tensors
// are not; callers needing concurrency should construct one Model per
// goroutine.
type Model struct {
	cfg Config

	in  *ort.Tensor[float32]
	out *ort.Tensor[float32]
	sess *ort.AdvancedSession
}

// Load initializes ONNX Runtime (if not already initialized in this
// process) and opens the acoustic model session.
func Load(cfg Config) (*Model, error) {
	if cfg.SampleWindow <= 0 {
		return nil, fmt.Errorf("acoustic: SampleWindow must be positive")
	}
	if cfg.Vocab <= 0 {
		return nil, fmt.Errorf("acoustic: Vocab must be positive")
	}

	if cfg.OnnxLib != "" {
		ort.SetSharedLibraryPath(cfg.OnnxLib)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("acoustic: ONNX init failed: %w", err)
	}

	in, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(cfg.SampleWindow)))
	if err != nil {
		return nil, fmt.Errorf("acoustic: input tensor: %w", err)
	}

	framesPerWindow := framesFor(cfg.SampleWindow)
	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(framesPerWindow), int64(cfg.Vocab)))
	if err != nil {
		in.Destroy()
		return nil, fmt.Errorf("acoustic: output tensor: %w", err)
	}

	inInfo, outInfo, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		in.Destroy()
		out.Destroy()
		return nil, fmt.Errorf("acoustic: reading model info: %w", err)
	}

	sess, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{inInfo[0].Name}, []string{outInfo[0].Name},
		[]ort.Value{in}, []ort.Value{out},
		nil,
	)
	if err != nil {
		in.Destroy()
		out.Destroy()
		return nil, fmt.Errorf("acoustic: session: %w", err)
	}

	return &Model{cfg: cfg, in: in, out: out, sess: sess}, nil
}

// framesFor estimates how many CTC frames a window of raw samples
// produces; acoustic models downsample by a fixed stride (here, a
// placeholder 160-sample hop — 10ms at 16kHz — the convention most CTC
// front ends use).
func framesFor(samples int) int {
	const hop = 160
	n := samples / hop
	if n < 1 {
		n = 1
	}
	return n
}

// Infer runs one forward pass over samples (which must have exactly
// SampleWindow entries) and returns the resulting [T][V] logit matrix.
func (m *Model) Infer(samples []float32) ([][]float32, error) {
	if len(samples) != m.cfg.SampleWindow {
		return nil, fmt.Errorf("acoustic: got %d samples, want %d", len(samples), m.cfg.SampleWindow)
	}

	copy(m.in.GetData(), samples)
	if err := m.sess.Run(); err != nil {
		return nil, fmt.Errorf("acoustic: run: %w", err)
	}

	raw := m.out.GetData()
	frames := framesFor(m.cfg.SampleWindow)
	logits := make([][]float32, frames)
	for f := 0; f < frames; f++ {
		row := make([]float32, m.cfg.Vocab)
		copy(row, raw[f*m.cfg.Vocab:(f+1)*m.cfg.Vocab])
		logits[f] = row
	}
	return logits, nil
}

// Close releases the session, its tensors, and the ONNX Runtime
// environment.
func (m *Model) Close() {
	m.sess.Destroy()
	m.in.Destroy()
	m.out.Destroy()
	ort.DestroyEnvironment()
}
