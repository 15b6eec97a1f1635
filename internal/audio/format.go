package audio

import (
	"bytes"
	"strings"
)

// Format names the container of an encoded audio payload.
type Format string

const (
	FormatUnknown Format = ""
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
	FormatOgg     Format = "ogg"
)

// MIME returns the content type browsers expect for the format.
func (f Format) MIME() string {
	switch f {
	case FormatWAV:
		return "audio/wav"
	case FormatMP3:
		return "audio/mpeg"
	case FormatOgg:
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

// SniffFormat inspects the leading bytes of a payload and reports its
// container. MP3 is recognized by an ID3 tag or an MPEG frame sync word.
func SniffFormat(data []byte) Format {
	switch {
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return FormatWAV
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte("OggS")):
		return FormatOgg
	case len(data) >= 3 && bytes.Equal(data[0:3], []byte("ID3")):
		return FormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return FormatMP3
	default:
		return FormatUnknown
	}
}

// FormatFromOutput maps an ElevenLabs style output_format value
// (mp3_44100_128, pcm_16000, ulaw_8000) to a container.
func FormatFromOutput(outputFormat string) Format {
	v := strings.ToLower(strings.TrimSpace(outputFormat))
	switch {
	case strings.HasPrefix(v, "mp3"):
		return FormatMP3
	case strings.HasPrefix(v, "pcm"), strings.HasPrefix(v, "wav"):
		return FormatWAV
	case strings.HasPrefix(v, "opus"), strings.HasPrefix(v, "ogg"):
		return FormatOgg
	default:
		return FormatUnknown
	}
}
