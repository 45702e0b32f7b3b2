package speech

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// FloatPCMToWAV converts little-endian float32 mono samples into a 16-bit
// PCM WAV file. Samples are clamped to [-1, 1].
func FloatPCMToWAV(raw []byte, sampleRate int) ([]byte, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("pcm frame length %d is not a multiple of 4", len(raw))
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}

	n := len(raw) / 4
	dataSize := n * 2

	var buf bytes.Buffer
	buf.Grow(44 + dataSize)

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(dataSize))

	sample := make([]byte, 2)
	for i := 0; i < n; i++ {
		f := math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		if f > 1 {
			f = 1
		} else if f < -1 {
			f = -1
		}
		binary.LittleEndian.PutUint16(sample, uint16(int16(f*math.MaxInt16)))
		buf.Write(sample)
	}
	return buf.Bytes(), nil
}
