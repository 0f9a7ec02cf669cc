// Package speech holds the speech-to-text and text-to-speech collaborators.
// The bundled implementations are placeholders that keep the audio routes
// working end to end without an upstream speech service.
package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wellbeing-agent/internal/normalize"
)

// DefaultSynthesisTimeout bounds a single synthesis call.
const DefaultSynthesisTimeout = 60 * time.Second

var (
	ErrEmptyAudio        = errors.New("speech: audio is empty")
	ErrEmptyText         = errors.New("speech: text is empty")
	ErrUnsupportedFormat = errors.New("speech: unsupported audio format")
)

// Format names an audio container.
type Format string

const (
	FormatWAV  Format = "wav"
	FormatWebM Format = "webm"
	FormatMP3  Format = "mp3"
	FormatOgg  Format = "ogg"
)

// ParseFormat accepts a bare format name or a MIME type such as audio/webm.
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "audio/")
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	switch Format(s) {
	case FormatWAV, "wave", "x-wav":
		return FormatWAV, nil
	case FormatWebM:
		return FormatWebM, nil
	case FormatMP3, "mpeg":
		return FormatMP3, nil
	case FormatOgg:
		return FormatOgg, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// VoiceParams tunes synthesis.
type VoiceParams struct {
	Voice string
	// Speed scales the speaking rate; 1 is normal.
	Speed float64
}

// Audio is synthesized speech.
type Audio struct {
	Data       []byte
	Format     Format
	SampleRate int
	Duration   time.Duration
}

// Transcriber turns recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, format Format) (string, error)
}

// Synthesizer turns text into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, params VoiceParams) (Audio, error)
}

// Speaker prepares text for synthesis and bounds each call.
type Speaker struct {
	synth      Synthesizer
	normalizer *normalize.Normalizer
	timeout    time.Duration
}

// NewSpeaker wraps synth. A nil normalizer uses the default abbreviation
// table; a non-positive timeout uses DefaultSynthesisTimeout.
func NewSpeaker(synth Synthesizer, n *normalize.Normalizer, timeout time.Duration) (*Speaker, error) {
	if synth == nil {
		return nil, errors.New("speech: synthesizer must not be nil")
	}
	if n == nil {
		n = normalize.New(normalize.DefaultAbbreviations)
	}
	if timeout <= 0 {
		timeout = DefaultSynthesisTimeout
	}
	return &Speaker{synth: synth, normalizer: n, timeout: timeout}, nil
}

// Speak normalizes text and synthesizes it.
func (s *Speaker) Speak(ctx context.Context, text string, params VoiceParams) (Audio, error) {
	prepared := s.normalizer.Normalize(text)
	if prepared == "" {
		return Audio{}, ErrEmptyText
	}
	if params.Speed <= 0 {
		params.Speed = 1
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	audio, err := s.synth.Synthesize(ctx, prepared, params)
	if err != nil {
		return Audio{}, fmt.Errorf("speech: synthesize: %w", err)
	}
	return audio, nil
}
