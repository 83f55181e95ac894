package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAVPCM16LETo(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVPCM16LETo writes raw PCM16LE mono audio bytes to out as a WAV stream.
func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate int) error {
	const (
		numChannels   = 1
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	dataSize := uint32(len(pcm))
	header := struct {
		Riff          [4]byte
		ChunkSize     uint32
		Wave          [4]byte
		Fmt           [4]byte
		FmtSize       uint32
		AudioFormat   uint16
		NumChannels   uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
		Data          [4]byte
		DataSize      uint32
	}{
		Riff:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Wave:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   audioFormat,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * numChannels * bitsPerSample / 8),
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      dataSize,
	}

	w := bufio.NewWriter(out)
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return err
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}
	return w.Flush()
}

// DecodeWAVPCM16 extracts mono PCM16LE samples and the sample rate from a WAV file.
func DecodeWAVPCM16(data []byte) ([]byte, int, error) {
	if len(data) < 12 {
		return nil, 0, fmt.Errorf("wav too short")
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("unsupported wav header")
	}

	var (
		haveFmt     bool
		audioFormat uint16
		channels    uint16
		sampleRate  int
		bitsPerSamp uint16
		pcmData     []byte
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8
		if size < 0 || off+size > len(data) {
			return nil, 0, fmt.Errorf("invalid wav chunk size")
		}
		chunk := data[off : off+size]
		switch id {
		case "fmt ":
			if len(chunk) < 16 {
				return nil, 0, fmt.Errorf("invalid wav fmt chunk")
			}
			audioFormat = binary.LittleEndian.Uint16(chunk[0:2])
			channels = binary.LittleEndian.Uint16(chunk[2:4])
			sampleRate = int(binary.LittleEndian.Uint32(chunk[4:8]))
			bitsPerSamp = binary.LittleEndian.Uint16(chunk[14:16])
			haveFmt = true
		case "data":
			pcmData = append(pcmData[:0], chunk...)
		}
		off += size
		if size%2 == 1 {
			off++
		}
	}
	if !haveFmt {
		return nil, 0, fmt.Errorf("wav fmt chunk missing")
	}
	if audioFormat != 1 || channels != 1 || bitsPerSamp != 16 {
		return nil, 0, fmt.Errorf("unsupported wav encoding: format=%d channels=%d bits=%d", audioFormat, channels, bitsPerSamp)
	}
	return pcmData, sampleRate, nil
}

// ReadWAVFile loads a mono PCM16 WAV file from disk.
func ReadWAVFile(path string) ([]byte, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	return DecodeWAVPCM16(data)
}
