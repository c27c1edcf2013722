// ctcdecode — CTC beam-search decoder CLI.
//
// Usage:
//
//	ctcdecode -alphabet alphabet.json -logits logits.csv [flags]
//	ctcdecode -alphabet alphabet.json -record 4s -acoustic-dir ./model [flags]
package main

import (
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/joho/godotenv"

	"github.com/beamctc/beamctc/internal/acoustic"
	"github.com/beamctc/beamctc/internal/alphabet"
	"github.com/beamctc/beamctc/internal/audio"
	"github.com/beamctc/beamctc/internal/compare"
	"github.com/beamctc/beamctc/internal/decoder"
	"github.com/beamctc/beamctc/internal/display"
	"github.com/beamctc/beamctc/internal/hotword"
	"github.com/beamctc/beamctc/internal/lm"
	"github.com/beamctc/beamctc/internal/lm/ngram"
	"github.com/beamctc/beamctc/internal/logger"
	"github.com/beamctc/beamctc/internal/playback"
)

func main() {
	_ = godotenv.Load()

	alphabetPath := flag.String("alphabet", "", "path to a JSON label list (required)")
	logitsPath := flag.String("logits", "", "path to a CSV file of frame-by-vocab floats")
	record := flag.Duration("record", 0, "capture up to this long (stopping early once silence follows speech) from the default input device instead of -logits")
	acousticDir := flag.String("acoustic-dir", "", "directory containing ctc.onnx, required with -record")

	lmPath := flag.String("lm", "", "path to an ngram-format language model table")
	hotwordsFlag := flag.String("hotwords", "", "comma-separated hotword list")
	hotwordWeight := flag.Float64("hotword-weight", decoder.DefaultHotwordWeight, "per-hotword-match reward")

	beamWidth := flag.Int("beam-width", decoder.DefaultBeamWidth, "max surviving beams kept per frame")
	beamPruneLogp := flag.Float64("beam-prune-logp", decoder.DefaultBeamPruneLogp, "drop beams scoring below the best score plus this (negative) offset")
	tokenMinLogp := flag.Float64("token-min-logp", decoder.DefaultTokenMinLogp, "per-frame candidate token threshold")
	pruneHistory := flag.Bool("prune-history", false, "collapse beams sharing LM context")

	alpha := flag.Float64("alpha", decoder.DefaultAlpha, "language model score scaling factor")
	beta := flag.Float64("beta", decoder.DefaultBeta, "language model score additive shift")
	unkScoreOffset := flag.Float64("unk-score-offset", decoder.DefaultUnkScoreOffset, "out-of-vocabulary penalty")
	noLMBoundary := flag.Bool("no-lm-boundary", false, "disable end-of-sentence LM scoring")

	compareWhisper := flag.String("compare-whisper", "", "bin:model — run whisper.cpp alongside and print both outputs")
	playbackFlag := flag.Bool("playback", false, "replay the captured utterance after decoding")
	watch := flag.Bool("watch", false, "show a live TUI of the surviving beam frontier per frame")
	clip := flag.Bool("clipboard", false, "copy the winning transcript to the clipboard")

	verbose := flag.Bool("verbose", false, "enable verbose/debug logging")
	quiet := flag.Bool("quiet", false, "disable all logging")
	flag.Parse()

	logLevel := logger.LevelNormal
	if *verbose {
		logLevel = logger.LevelVerbose
	}
	if *quiet {
		logLevel = logger.LevelOff
	}
	log := logger.New(logLevel, os.Stderr)
	stdlog.SetOutput(os.Stderr)
	stdlog.SetFlags(stdlog.Ltime)

	if *alphabetPath == "" {
		fmt.Fprintln(os.Stderr, "error: -alphabet is required")
		os.Exit(1)
	}
	if (*logitsPath == "") == (*record == 0) {
		fmt.Fprintln(os.Stderr, "error: exactly one of -logits or -record is required")
		os.Exit(1)
	}

	alph, err := alphabet.LoadFile(*alphabetPath)
	if err != nil {
		log.Error("alphabet: %v", err)
		os.Exit(1)
	}

	// languageModel stays nil when -lm is unset: the decoder's no-LM
	// ranking (spec P8, logit_score+hotword_score with no beta shift) is
	// gated on an identity-nil check, so any non-nil stand-in would
	// spuriously take the LM-scoring branch.
	var languageModel lm.Model
	if *lmPath != "" {
		f, err := os.Open(*lmPath)
		if err != nil {
			log.Error("lm: %v", err)
			os.Exit(1)
		}
		m, err := ngram.Load(f, ngram.WithUnkScoreOffset(*unkScoreOffset), ngram.WithScoreBoundary(!*noLMBoundary))
		f.Close()
		if err != nil {
			log.Error("lm: %v", err)
			os.Exit(1)
		}
		languageModel = m
		log.Info("lm: loaded order-%d model from %s", m.Order(), *lmPath)
	}

	var hotwordList []string
	if *hotwordsFlag != "" {
		hotwordList = strings.Split(*hotwordsFlag, ",")
	}
	hotwords := hotword.New(hotwordList, float32(*hotwordWeight))

	cfg := decoder.DefaultConfig()
	cfg.BeamWidth = *beamWidth
	cfg.BeamPruneLogp = *beamPruneLogp
	cfg.TokenMinLogp = *tokenMinLogp
	cfg.PruneHistory = *pruneHistory
	cfg.HotwordWeight = float32(*hotwordWeight)
	cfg.Alpha = *alpha
	cfg.Beta = *beta
	cfg.UnkScoreOffset = *unkScoreOffset
	cfg.ScoreLMBoundary = !*noLMBoundary

	var watchUI *display.WatchUI

	logits, samples, err := loadFrames(*logitsPath, *record, *acousticDir, alph, log)
	if err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}

	if *watch {
		watchUI = display.NewWatchUI(len(logits))
		cfg.FrameObserver = func(frame int, top []decoder.OutputBeam) {
			watchUI.Send(frame, top)
		}
	}

	dec, err := decoder.New(alph, languageModel, hotwords, cfg)
	if err != nil {
		log.Error("decoder: %v", err)
		os.Exit(1)
	}

	decodeAndReport := func() {
		results, err := dec.Decode(logits)
		if err != nil {
			log.Error("decode: %v", err)
			if watchUI != nil {
				watchUI.Quit()
			}
			os.Exit(1)
		}

		if watchUI != nil {
			watchUI.Finish(results)
		} else {
			fmt.Print(display.RenderResults(results))
		}

		if *clip && len(results) > 0 {
			if err := clipboard.WriteAll(results[0].Text); err != nil {
				log.Warn("clipboard: %v", err)
			}
		}

		if *compareWhisper != "" && samples != nil {
			bin, model, ok := strings.Cut(*compareWhisper, ":")
			if !ok {
				log.Error("compare-whisper: expected bin:model, got %q", *compareWhisper)
				return
			}
			text, err := compare.Transcribe(compare.Config{WhisperBin: bin, ModelPath: model}, time.Duration(len(samples))*time.Second/audio.SampleRate, log)
			if err != nil {
				log.Error("compare-whisper: %v", err)
			} else {
				fmt.Println(display.BannerStyle.Render("whisper: ") + text)
			}
		}

		if *playbackFlag && samples != nil {
			player, err := playback.New(log)
			if err != nil {
				log.Error("playback: %v", err)
			} else if err := player.Play(samples); err != nil {
				log.Error("playback: %v", err)
			}
		}
	}

	if watchUI != nil {
		go decodeAndReport()
		if err := watchUI.Run(); err != nil {
			log.Error("display: %v", err)
		}
	} else {
		decodeAndReport()
	}
}

// loadFrames produces the [T][V] logit matrix to decode, either by
// reading a CSV file or by recording+running the acoustic model, and
// also returns the raw samples captured (nil when decoding from a CSV),
// for -playback/-compare-whisper to replay against.
func loadFrames(logitsPath string, record time.Duration, acousticDir string, alpha *alphabet.Alphabet, log *logger.Logger) ([][]float32, []float32, error) {
	if logitsPath != "" {
		logits, err := loadLogitsCSV(logitsPath)
		return logits, nil, err
	}

	if acousticDir == "" {
		return nil, nil, fmt.Errorf("-record requires -acoustic-dir")
	}

	samples, err := audio.Record(log, audio.WithMaxDuration(record))
	if err != nil {
		return nil, nil, fmt.Errorf("record: %w", err)
	}

	model, err := acoustic.Load(acoustic.Config{
		OnnxLib:      os.Getenv("ONNX_LIB"),
		ModelPath:    filepath.Join(acousticDir, "ctc.onnx"),
		SampleWindow: len(samples),
		Vocab:        alpha.Size(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("acoustic: %w", err)
	}
	defer model.Close()

	logits, err := model.Infer(samples)
	if err != nil {
		return nil, nil, fmt.Errorf("acoustic: %w", err)
	}
	return logits, samples, nil
}

func loadLogitsCSV(path string) ([][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("logits: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var out [][]float32
	for {
		record, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("logits: %w", err)
		}
		row := make([]float32, len(record))
		for i, field := range record {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 32)
			if err != nil {
				return nil, fmt.Errorf("logits: parsing %q: %w", field, err)
			}
			row[i] = float32(v)
		}
		out = append(out, row)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("logits: %s has no frames", path)
	}
	return out, nil
}
