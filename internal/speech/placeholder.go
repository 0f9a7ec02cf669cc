package speech

import (
	"bytes"
	"context"
	"encoding/binary"
	"strings"
	"time"
)

// PlaceholderTranscript is what PlaceholderTranscriber returns for any audio.
const PlaceholderTranscript = "I'd like to talk about how I'm feeling."

const (
	placeholderSampleRate = 16000
	perWord               = 400 * time.Millisecond
)

// PlaceholderTranscriber accepts any supported audio and returns a fixed
// transcript.
type PlaceholderTranscriber struct{}

func (PlaceholderTranscriber) Transcribe(ctx context.Context, audio []byte, format Format) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}
	if _, err := ParseFormat(string(format)); err != nil {
		return "", err
	}
	return PlaceholderTranscript, nil
}

// PlaceholderSynthesizer returns silent 16-bit mono PCM WAV whose length
// follows the word count at a normal speaking rate.
type PlaceholderSynthesizer struct{}

func (PlaceholderSynthesizer) Synthesize(ctx context.Context, text string, params VoiceParams) (Audio, error) {
	if err := ctx.Err(); err != nil {
		return Audio{}, err
	}
	words := len(strings.Fields(text))
	if words == 0 {
		return Audio{}, ErrEmptyText
	}
	speed := params.Speed
	if speed <= 0 {
		speed = 1
	}
	d := time.Duration(float64(time.Duration(words)*perWord) / speed)
	samples := int(d.Seconds() * placeholderSampleRate)
	return Audio{
		Data:       silentWAV(samples, placeholderSampleRate),
		Format:     FormatWAV,
		SampleRate: placeholderSampleRate,
		Duration:   time.Duration(samples) * time.Second / placeholderSampleRate,
	}, nil
}

// silentWAV encodes samples zero-valued 16-bit mono frames in a RIFF
// container.
func silentWAV(samples, sampleRate int) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	blockAlign := channels * bitsPerSample / 8
	dataLen := samples * blockAlign

	var buf bytes.Buffer
	buf.Grow(44 + dataLen)
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(make([]byte, dataLen))
	return buf.Bytes()
}
