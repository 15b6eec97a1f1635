package audio

import (
	"encoding/binary"
	"math"
)

// ScalePCM16 multiplies every PCM16LE sample by gain in place, clipping at the
// int16 bounds. A gain of 1 leaves the buffer untouched.
func ScalePCM16(pcm []byte, gain float64) {
	if gain == 1 || gain < 0 {
		return
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i:])))
		v := math.Round(s * gain)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(pcm[i:], uint16(int16(v)))
	}
}

// Tone renders a sine wave as PCM16LE mono.
func Tone(freqHz float64, durationMS, sampleRate int, amplitude float64) []byte {
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	if durationMS <= 0 {
		return nil
	}
	n := sampleRate * durationMS / 1000
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := amplitude * math.Sin(2*math.Pi*freqHz*float64(i)/float64(sampleRate))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v*math.MaxInt16)))
	}
	return out
}

// PCM16DurationMS reports the playback length of mono PCM16LE audio.
func PCM16DurationMS(pcm []byte, sampleRate int) int {
	if sampleRate <= 0 {
		return 0
	}
	return len(pcm) / 2 * 1000 / sampleRate
}
