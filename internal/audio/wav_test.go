package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestDecodeWAVPCM16MonoRoundTrip(t *testing.T) {
	pcm := []byte{
		0x00, 0x00,
		0xE8, 0x03, // 1000
		0x18, 0xFC, // -1000
	}
	wav, err := EncodeWAVPCM16LE(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	if len(wav) != 44+len(pcm) {
		t.Fatalf("len(wav) = %d, want %d", len(wav), 44+len(pcm))
	}
	gotPCM, gotSR, err := DecodeWAVPCM16(wav)
	if err != nil {
		t.Fatalf("DecodeWAVPCM16() error = %v", err)
	}
	if gotSR != 16000 {
		t.Fatalf("sampleRate = %d, want 16000", gotSR)
	}
	if !bytes.Equal(gotPCM, pcm) {
		t.Fatalf("pcm mismatch: got=%v want=%v", gotPCM, pcm)
	}
}

func TestDecodeWAVPCM16StereoDownmix(t *testing.T) {
	// Frame 1: L=1000, R=-1000 => avg=0
	// Frame 2: L=3000, R=1000  => avg=2000
	stereo := []byte{
		0xE8, 0x03, 0x18, 0xFC,
		0xB8, 0x0B, 0xE8, 0x03,
	}
	gotPCM, gotSR, err := DecodeWAVPCM16(encodeStereo(stereo, 24000))
	if err != nil {
		t.Fatalf("DecodeWAVPCM16() error = %v", err)
	}
	if gotSR != 24000 {
		t.Fatalf("sampleRate = %d, want 24000", gotSR)
	}
	if len(gotPCM) != 4 {
		t.Fatalf("len(gotPCM) = %d, want 4", len(gotPCM))
	}
	s1 := int16(binary.LittleEndian.Uint16(gotPCM[0:2]))
	s2 := int16(binary.LittleEndian.Uint16(gotPCM[2:4]))
	if s1 != 0 || s2 != 2000 {
		t.Fatalf("downmix samples = [%d %d], want [0 2000]", s1, s2)
	}
}

func TestDecodeWAVPCM16RejectsGarbage(t *testing.T) {
	for _, payload := range [][]byte{nil, []byte("not audio"), []byte("RIFF\x00\x00\x00\x00WAVE")} {
		if _, _, err := DecodeWAVPCM16(payload); !errors.Is(err, ErrInvalidWAV) {
			t.Fatalf("DecodeWAVPCM16(%q) error = %v, want ErrInvalidWAV", payload, err)
		}
	}
}

func TestSniffFormat(t *testing.T) {
	wav, _ := EncodeWAVPCM16LE([]byte{0, 0}, 8000)
	cases := []struct {
		name string
		data []byte
		want Format
	}{
		{"wav", wav, FormatWAV},
		{"id3", []byte("ID3\x04\x00"), FormatMP3},
		{"frame sync", []byte{0xFF, 0xFB, 0x90, 0x64}, FormatMP3},
		{"ogg", []byte("OggS\x00\x02"), FormatOgg},
		{"json error", []byte(`{"detail":"quota"}`), FormatUnknown},
		{"empty", nil, FormatUnknown},
	}
	for _, tc := range cases {
		if got := SniffFormat(tc.data); got != tc.want {
			t.Fatalf("SniffFormat(%s) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestFormatFromOutput(t *testing.T) {
	if got := FormatFromOutput("mp3_44100_128"); got != FormatMP3 {
		t.Fatalf("FormatFromOutput(mp3) = %q", got)
	}
	if got := FormatFromOutput("pcm_16000"); got != FormatWAV {
		t.Fatalf("FormatFromOutput(pcm) = %q", got)
	}
	if got := FormatMP3.MIME(); got != "audio/mpeg" {
		t.Fatalf("FormatMP3.MIME() = %q", got)
	}
}

func TestScalePCM16Clips(t *testing.T) {
	pcm := make([]byte, 4)
	binary.LittleEndian.PutUint16(pcm[0:], uint16(int16(20000)))
	neg := int16(-1000)
	binary.LittleEndian.PutUint16(pcm[2:], uint16(neg))
	ScalePCM16(pcm, 2)
	if got := int16(binary.LittleEndian.Uint16(pcm[0:])); got != 32767 {
		t.Fatalf("clipped sample = %d, want 32767", got)
	}
	if got := int16(binary.LittleEndian.Uint16(pcm[2:])); got != -2000 {
		t.Fatalf("scaled sample = %d, want -2000", got)
	}
}

func TestToneDuration(t *testing.T) {
	pcm := Tone(440, 250, 16000, 0.2)
	if got := PCM16DurationMS(pcm, 16000); got != 250 {
		t.Fatalf("PCM16DurationMS() = %d, want 250", got)
	}
}

func encodeStereo(stereoPCM []byte, sampleRate int) []byte {
	var b bytes.Buffer
	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, uint32(36+len(stereoPCM)))
	b.WriteString("WAVEfmt ")
	_ = binary.Write(&b, binary.LittleEndian, uint32(16))
	_ = binary.Write(&b, binary.LittleEndian, uint16(1))
	_ = binary.Write(&b, binary.LittleEndian, uint16(2))
	_ = binary.Write(&b, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&b, binary.LittleEndian, uint32(sampleRate*4))
	_ = binary.Write(&b, binary.LittleEndian, uint16(4))
	_ = binary.Write(&b, binary.LittleEndian, uint16(16))
	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, uint32(len(stereoPCM)))
	b.Write(stereoPCM)
	return b.Bytes()
}
