package audio

import "time"

// DefaultSampleRate is the rate used on the voice websocket in both directions.
const DefaultSampleRate = 16000

// DurationPCM16 returns the playback length of mono 16-bit audio.
func DurationPCM16(numBytes, sampleRate int) time.Duration {
	if sampleRate <= 0 || numBytes <= 0 {
		return 0
	}
	samples := numBytes / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// SilencePCM16 returns d of zeroed mono 16-bit samples.
func SilencePCM16(d time.Duration, sampleRate int) []byte {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	samples := int(d.Seconds() * float64(sampleRate))
	if samples < 0 {
		samples = 0
	}
	return make([]byte, samples*2)
}

// ChunkPCM16 splits pcm into frames of chunkMS milliseconds, keeping sample alignment.
func ChunkPCM16(pcm []byte, sampleRate, chunkMS int) [][]byte {
	if len(pcm) == 0 {
		return nil
	}
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	size := sampleRate * 2 * chunkMS / 1000
	if size < 2 {
		size = 2
	}
	if size%2 != 0 {
		size++
	}
	chunks := make([][]byte, 0, len(pcm)/size+1)
	for start := 0; start < len(pcm); start += size {
		end := start + size
		if end > len(pcm) {
			end = len(pcm)
		}
		chunks = append(chunks, pcm[start:end])
	}
	return chunks
}
