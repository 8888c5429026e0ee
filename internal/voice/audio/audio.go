// Package audio holds the audio format description shared by capture and
// playback, plus WAV framing and level metering for 16-bit PCM.
package audio

import (
	"encoding/binary"
	"math"
)

// Encodings
const (
	EncodingPCM16 = "pcm_s16le"
	EncodingWAV   = "wav"
	EncodingMP3   = "mp3"
	EncodingWebM  = "webm"
)

const (
	wavHeaderSize = 44

	pcmBytesPerSample = 2
	pcmMaxAmplitude   = 32768.0
	// Speech rarely exceeds this RMS, so it maps to a full meter.
	maxExpectedRMS = 0.5
)

// Format describes an audio stream
type Format struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// PCM16 returns a 16-bit little-endian PCM format
func PCM16(sampleRate, channels int) Format {
	return Format{Encoding: EncodingPCM16, SampleRate: sampleRate, Channels: channels}
}

// IsPCM reports whether samples can be read directly
func (f Format) IsPCM() bool {
	return f.Encoding == EncodingPCM16
}

// MimeType returns the MIME type used when uploading audio in this format
func (f Format) MimeType() string {
	switch f.Encoding {
	case EncodingPCM16, EncodingWAV:
		return "audio/wav"
	case EncodingMP3:
		return "audio/mpeg"
	case EncodingWebM:
		return "audio/webm"
	default:
		return "application/octet-stream"
	}
}

// BytesPerSecond returns the data rate of a PCM format, 0 otherwise
func (f Format) BytesPerSecond() int {
	if !f.IsPCM() {
		return 0
	}
	return f.SampleRate * f.Channels * pcmBytesPerSample
}

// WrapPCMAsWAV prefixes 16-bit PCM data with a WAV header
func WrapPCMAsWAV(pcm []byte, sampleRate, channels int) []byte {
	const bitsPerSample = 16
	dataSize := len(pcm)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	wav := make([]byte, wavHeaderSize+dataSize)
	copy(wav[0:4], "RIFF")
	binary.LittleEndian.PutUint32(wav[4:8], uint32(36+dataSize))
	copy(wav[8:12], "WAVE")

	copy(wav[12:16], "fmt ")
	binary.LittleEndian.PutUint32(wav[16:20], 16)
	binary.LittleEndian.PutUint16(wav[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(wav[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(wav[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(wav[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(wav[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(wav[34:36], bitsPerSample)

	copy(wav[36:40], "data")
	binary.LittleEndian.PutUint32(wav[40:44], uint32(dataSize))
	copy(wav[44:], pcm)
	return wav
}

// RMS computes the root mean square of 16-bit PCM samples, normalized to 0..1
func RMS(pcm []byte) float64 {
	n := len(pcm) / pcmBytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*pcmBytesPerSample:]))) / pcmMaxAmplitude
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// Level maps a PCM chunk to a meter value clamped to [0, 1]
func Level(pcm []byte) float64 {
	l := RMS(pcm) / maxExpectedRMS
	switch {
	case l < 0:
		return 0
	case l > 1:
		return 1
	}
	return l
}
