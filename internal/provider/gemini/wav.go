package gemini

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavBitDepth    = 16
	wavChannels    = 1
	wavFormatPCM   = 1
	bytesPerSample = wavBitDepth / 8
)

// encodeWAV wraps 16-bit little-endian mono PCM in a RIFF/WAVE container.
// A trailing odd byte is dropped.
func encodeWAV(pcm []byte, sampleRate int) ([]byte, error) {
	samples := make([]int, len(pcm)/bytesPerSample)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*bytesPerSample:])))
	}

	var out seekBuffer
	enc := wav.NewEncoder(&out, sampleRate, wavBitDepth, wavChannels, wavFormatPCM)
	err := enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: wavChannels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: wavBitDepth,
	})
	if err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return out.buf, nil
}

// seekBuffer is the in-memory io.WriteSeeker the encoder needs to patch
// chunk sizes on Close.
type seekBuffer struct {
	buf []byte
	pos int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	if end := b.pos + len(p); end > len(b.buf) {
		b.buf = append(b.buf, make([]byte, end-len(b.buf))...)
	}
	n := copy(b.buf[b.pos:], p)
	b.pos += n
	return n, nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(b.pos) + offset
	case io.SeekEnd:
		abs = int64(len(b.buf)) + offset
	default:
		return 0, errors.New("seek: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("seek: negative position")
	}
	b.pos = int(abs)
	return abs, nil
}
