package voice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/ent0n29/voicedesk/internal/audio"
)

// CommandOutput plays audio on the host through an external player. The
// command template is split on whitespace; {file} is replaced by a temporary
// file holding the payload and {speed} by the playback multiplier.
type CommandOutput struct {
	args []string
}

func NewCommandOutput(template string) (*CommandOutput, error) {
	args := strings.Fields(template)
	if len(args) == 0 {
		return nil, errors.New("empty player command")
	}
	hasFile := false
	for _, a := range args {
		if strings.Contains(a, "{file}") {
			hasFile = true
		}
	}
	if !hasFile {
		return nil, fmt.Errorf("player command %q does not reference {file}", template)
	}
	return &CommandOutput{args: args}, nil
}

func (o *CommandOutput) Play(ctx context.Context, res *AudioResource, speed float64) error {
	data := res.Bytes()
	if len(data) == 0 {
		return errors.New("empty audio payload")
	}
	f, err := os.CreateTemp("", "voicedesk-*."+extension(res.Format()))
	if err != nil {
		return fmt.Errorf("create temp audio file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write temp audio file: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	if speed <= 0 {
		speed = 1
	}
	r := strings.NewReplacer("{file}", path, "{speed}", strconv.FormatFloat(speed, 'f', 2, 64))
	args := make([]string, len(o.args))
	for i, a := range o.args {
		args[i] = r.Replace(a)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	out, err := cmd.CombinedOutput()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		detail := strings.TrimSpace(string(out))
		if detail == "" {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		return fmt.Errorf("%s: %w: %s", args[0], err, detail)
	}
	return nil
}

func extension(f audio.Format) string {
	if f == audio.FormatUnknown {
		return "bin"
	}
	return string(f)
}
