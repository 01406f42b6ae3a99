package audio

import (
	"encoding/binary"
	"fmt"
	"os"
)

// Format describes 16-bit PCM audio. All pipeline audio is PCM16, which is
// what the synthesis engines emit and what ffmpeg consumes.
type Format struct {
	SampleRate int
	Channels   int
}

const (
	wavHeaderSize  = 44
	pcmFormatCode  = 1
	bitsPerSample  = 16
	bytesPerSample = 2
)

// WriteWAV writes pcm as a RIFF/WAVE file at path.
func WriteWAV(path string, format Format, pcm []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	defer f.Close()

	header := make([]byte, wavHeaderSize)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+len(pcm)))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], pcmFormatCode)
	binary.LittleEndian.PutUint16(header[22:24], uint16(format.Channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(format.SampleRate))
	byteRate := format.SampleRate * format.Channels * bytesPerSample
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(format.Channels*bytesPerSample))
	binary.LittleEndian.PutUint16(header[34:36], bitsPerSample)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(len(pcm)))

	if _, err := f.Write(header); err != nil {
		return fmt.Errorf("write wav header: %w", err)
	}
	if _, err := f.Write(pcm); err != nil {
		return fmt.Errorf("write wav data: %w", err)
	}
	return f.Close()
}

// ReadWAV reads a PCM16 RIFF/WAVE file, returning its format and samples.
// Non-PCM16 files are rejected.
func ReadWAV(path string) (Format, []byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Format{}, nil, fmt.Errorf("read wav: %w", err)
	}
	if len(raw) < 12 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return Format{}, nil, fmt.Errorf("%s: not a RIFF/WAVE file", path)
	}

	var format Format
	var data []byte
	sawFmt := false

	offset := 12
	for offset+8 <= len(raw) {
		id := string(raw[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(raw[offset+4 : offset+8]))
		body := offset + 8
		if body+size > len(raw) {
			return Format{}, nil, fmt.Errorf("%s: truncated %q chunk", path, id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return Format{}, nil, fmt.Errorf("%s: short fmt chunk", path)
			}
			code := binary.LittleEndian.Uint16(raw[body : body+2])
			bits := binary.LittleEndian.Uint16(raw[body+14 : body+16])
			if code != pcmFormatCode || bits != bitsPerSample {
				return Format{}, nil, fmt.Errorf("%s: unsupported encoding (format=%d bits=%d), want 16-bit PCM", path, code, bits)
			}
			format.Channels = int(binary.LittleEndian.Uint16(raw[body+2 : body+4]))
			format.SampleRate = int(binary.LittleEndian.Uint32(raw[body+4 : body+8]))
			sawFmt = true
		case "data":
			data = raw[body : body+size]
		}

		// Chunks are word-aligned.
		offset = body + size + size%2
	}

	if !sawFmt {
		return Format{}, nil, fmt.Errorf("%s: missing fmt chunk", path)
	}
	if data == nil {
		return Format{}, nil, fmt.Errorf("%s: missing data chunk", path)
	}
	return format, data, nil
}

// DurationMS computes the playing time of a PCM16 payload in format.
func DurationMS(format Format, dataLen int) int64 {
	frameBytes := format.Channels * bytesPerSample
	if frameBytes == 0 || format.SampleRate == 0 {
		return 0
	}
	frames := dataLen / frameBytes
	return int64(frames) * 1000 / int64(format.SampleRate)
}
