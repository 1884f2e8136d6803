// Package wav frames raw PCM into a WAV container so finalized speech turns
// can be handed to file-based transcription APIs.
package wav

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const headerSize = 44

// Encode wraps 16-bit little-endian PCM in a RIFF/WAVE header.
func Encode(pcm []byte, sampleRate int, numChannels int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if numChannels != 1 && numChannels != 2 {
		return nil, fmt.Errorf("invalid channel count %d", numChannels)
	}

	const bitsPerSample = 16
	byteRate := sampleRate * numChannels * bitsPerSample / 8
	blockAlign := numChannels * bitsPerSample / 8

	buf := bytes.NewBuffer(make([]byte, 0, headerSize+len(pcm)))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(numChannels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes(), nil
}

// Duration returns the playback length in milliseconds of a PCM payload.
func Duration(pcmLen, sampleRate, numChannels int) int {
	if sampleRate <= 0 || numChannels <= 0 {
		return 0
	}
	return pcmLen * 1000 / (sampleRate * numChannels * 2)
}
