// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

const (
	AudioBytesPerSample = 2  // LINEAR16 → 2 bytes per sample
	AudioBitsPerSample  = 16 // LINEAR16 → 16 bits per sample
	AudioPCMFormat      = 1  // WAV PCM format tag

	DefaultSampleRate = 16000
	DefaultChannels   = 1
)

// Config describes a raw PCM16 little-endian stream.
type Config struct {
	SampleRate int
	Channels   int
}

// NewLinear16khzMonoConfig is the session default: LINEAR16 mono at 16kHz.
func NewLinear16khzMonoConfig() Config {
	return Config{SampleRate: DefaultSampleRate, Channels: DefaultChannels}
}

// BytesPerSecond is the raw PCM byte rate of the stream.
func (c Config) BytesPerSecond() int {
	return c.SampleRate * c.Channels * AudioBytesPerSample
}

// FrameSize is the byte size of one sample frame across all channels.
func (c Config) FrameSize() int {
	return AudioBytesPerSample * c.Channels
}

// PCMDuration converts a PCM byte count to playback time.
func PCMDuration(byteLen int, cfg Config) time.Duration {
	bps := cfg.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(float64(byteLen) / float64(bps) * float64(time.Second))
}

// DurationBytes converts a duration to a frame-aligned byte count.
func DurationBytes(d time.Duration, cfg Config) int {
	raw := int(d.Seconds() * float64(cfg.BytesPerSecond()))
	frameSize := cfg.FrameSize()
	return (raw / frameSize) * frameSize
}

// ValidatePCM rejects payloads that cannot be a LINEAR16 stream: empty
// buffers and buffers that split a sample frame.
func ValidatePCM(pcm []byte, cfg Config) error {
	if len(pcm) == 0 {
		return fmt.Errorf("empty pcm payload")
	}
	if len(pcm)%cfg.FrameSize() != 0 {
		return fmt.Errorf("truncated pcm payload: %d bytes is not frame aligned (frame=%d)", len(pcm), cfg.FrameSize())
	}
	return nil
}

// CreateWAVFile wraps raw PCM in a RIFF/WAVE container.
func CreateWAVFile(pcmData []byte, cfg Config) ([]byte, error) {
	var buf bytes.Buffer
	bps := cfg.BytesPerSecond()

	buf.Write([]byte("RIFF"))
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcmData)))
	buf.Write([]byte("WAVE"))

	buf.Write([]byte("fmt "))
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(AudioPCMFormat))
	binary.Write(&buf, binary.LittleEndian, uint16(cfg.Channels))
	binary.Write(&buf, binary.LittleEndian, uint32(cfg.SampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(bps))
	binary.Write(&buf, binary.LittleEndian, uint16(cfg.FrameSize()))
	binary.Write(&buf, binary.LittleEndian, uint16(AudioBitsPerSample))

	// data chunk
	buf.Write([]byte("data"))
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcmData)))
	buf.Write(pcmData)

	return buf.Bytes(), nil
}
