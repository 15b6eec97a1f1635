package voice

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/voicedesk/internal/audio"
)

func TestKokoroMissingScriptMakesEngineUnavailable(t *testing.T) {
	e := NewKokoroEngine(KokoroConfig{
		Python:       "python3",
		WorkerScript: filepath.Join(t.TempDir(), "missing.py"),
	}, quietLogger())
	defer e.Close()

	_, err := e.Voices(context.Background())
	if err == nil || !strings.Contains(err.Error(), "worker script not found") {
		t.Fatalf("Voices() error = %v, want missing script", err)
	}

	o := NewSynthesisOrchestrator(nil, e, quietLogger(), nil)
	if _, err := o.Synthesize(context.Background(), "hello", remoteSettings); !errors.Is(err, ErrUnsupportedPlatform) {
		t.Fatalf("Synthesize() error = %v, want ErrUnsupportedPlatform", err)
	}
}

func TestKokoroVoicesPutsConfiguredVoiceFirst(t *testing.T) {
	e := &KokoroEngine{cfg: KokoroConfig{Voice: "bf_emma"}, ready: make(chan struct{})}
	close(e.ready)

	voices, err := e.Voices(context.Background())
	if err != nil {
		t.Fatalf("Voices() error = %v", err)
	}
	if len(voices) != len(kokoroCatalog) {
		t.Fatalf("len(Voices()) = %d, want %d", len(voices), len(kokoroCatalog))
	}
	if voices[0].ID != "bf_emma" || !voices[0].Default {
		t.Fatalf("first voice = %+v, want default bf_emma", voices[0])
	}
	if got := pickLocalVoice(voices).ID; got != "bf_emma" {
		t.Fatalf("pickLocalVoice() = %q, want configured voice", got)
	}
}

func TestKokoroVoicesWaitForWarmup(t *testing.T) {
	e := &KokoroEngine{cfg: KokoroConfig{Voice: "af_heart"}, ready: make(chan struct{})}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := e.Voices(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Voices() error = %v, want deadline while warming up", err)
	}
}

func TestKokoroResourceFormats(t *testing.T) {
	pcm := make([]byte, 4)
	binary.LittleEndian.PutUint16(pcm, uint16(int16(1000)))
	res, err := kokoroResource(pcm, "pcm_24000", 0.5)
	if err != nil {
		t.Fatalf("kokoroResource(pcm) error = %v", err)
	}
	got, rate, err := audio.DecodeWAVPCM16(res.Bytes())
	if err != nil || rate != 24000 {
		t.Fatalf("decoded rate = %d err = %v", rate, err)
	}
	if s := int16(binary.LittleEndian.Uint16(got)); s != 500 {
		t.Fatalf("first sample = %d, want 500", s)
	}

	wav, _ := audio.EncodeWAVPCM16LE(make([]byte, 8), 22050)
	res, err = kokoroResource(wav, "wav", 1)
	if err != nil || res.Format() != audio.FormatWAV {
		t.Fatalf("kokoroResource(wav) = (%v, %v)", res, err)
	}

	if _, err := kokoroResource([]byte("ID3mp3"), "mp3", 1); err == nil {
		t.Fatalf("kokoroResource(mp3) error = nil, want unsupported format")
	}
}

func TestResolveKokoroPathsUsesExistingScript(t *testing.T) {
	script := filepath.Join(t.TempDir(), "worker.py")
	if err := os.WriteFile(script, []byte("# worker\n"), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	py, got, err := resolveKokoroPaths(KokoroConfig{Python: "/usr/bin/python3", WorkerScript: script})
	if err != nil {
		t.Fatalf("resolveKokoroPaths() error = %v", err)
	}
	if py != "/usr/bin/python3" || got != script {
		t.Fatalf("resolveKokoroPaths() = (%q, %q)", py, got)
	}
}

func TestKokoroWarmupTimeoutReapsWorker(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("needs /proc")
	}
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "worker.pid")
	script := filepath.Join(dir, "worker.sh")
	if err := os.WriteFile(script, []byte("echo $$ > \"$KOKORO_TEST_PIDFILE\"\nexec sleep 30\n"), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	t.Setenv("KOKORO_TEST_PIDFILE", pidFile)

	_, err := startKokoroWorker("/bin/sh", script, "af_heart", "a", 300*time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), "warmup timed out") {
		t.Fatalf("startKokoroWorker() error = %v, want warmup timeout", err)
	}

	raw, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("worker never started: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		t.Fatalf("pid file = %q", raw)
	}
	if _, err := os.Stat(filepath.Join("/proc", strconv.Itoa(pid))); !os.IsNotExist(err) {
		t.Fatalf("worker process %d still present after timeout (stat err = %v)", pid, err)
	}
}
