package voice

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ent0n29/voicedesk/internal/audio"
)

// AudioResource owns an encoded audio payload until it is released. Release
// reclaims the payload exactly once; later calls are no-ops.
type AudioResource struct {
	id         string
	format     audio.Format
	sampleRate int

	mu        sync.Mutex
	data      []byte
	released  bool
	onRelease func()
}

// NewAudioResource wraps data. onRelease, when set, runs once on release.
func NewAudioResource(data []byte, format audio.Format, onRelease func()) *AudioResource {
	return &AudioResource{
		id:        uuid.NewString(),
		format:    format,
		data:      data,
		onRelease: onRelease,
	}
}

func (r *AudioResource) ID() string           { return r.id }
func (r *AudioResource) Format() audio.Format { return r.format }
func (r *AudioResource) SampleRate() int      { return r.sampleRate }

// Bytes returns the payload, or nil once released.
func (r *AudioResource) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data
}

func (r *AudioResource) Released() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}

// Release drops the payload and runs the release hook. It reports whether
// this call performed the release.
func (r *AudioResource) Release() bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return false
	}
	r.released = true
	r.data = nil
	hook := r.onRelease
	r.onRelease = nil
	r.mu.Unlock()

	if hook != nil {
		hook()
	}
	return true
}

func newWAVResource(pcm []byte, sampleRate int) (*AudioResource, error) {
	wav, err := audio.EncodeWAVPCM16LE(pcm, sampleRate)
	if err != nil {
		return nil, err
	}
	res := NewAudioResource(wav, audio.FormatWAV, nil)
	res.sampleRate = sampleRate
	return res, nil
}
