package tts

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/loqalabs/loqa-sign/internal/protocol"
	"github.com/mattn/go-shellwords"
)

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// BusSink streams audio chunks and completion status on the bus.
type BusSink struct {
	pub   Publisher
	audio bool
}

func NewBusSink(pub Publisher, publishAudio bool) *BusSink {
	return &BusSink{pub: pub, audio: publishAudio}
}

func (b *BusSink) Chunk(_ context.Context, chunk SynthChunk) error {
	if !b.audio {
		return nil
	}
	data, err := json.Marshal(protocol.AudioChunk{
		SessionID:  chunk.SessionID,
		Sequence:   chunk.Sequence,
		SampleRate: chunk.SampleRate,
		Channels:   chunk.Channels,
		PCM:        chunk.PCM,
		Final:      chunk.Final,
	})
	if err != nil {
		return err
	}
	return b.pub.Publish(protocol.SubjectTTSAudio, data)
}

func (b *BusSink) Done(_ context.Context, u Utterance) error {
	data, err := json.Marshal(protocol.TTSStatus{
		SessionID:  u.SessionID,
		Completed:  !u.Superseded,
		Superseded: u.Superseded,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return b.pub.Publish(protocol.SubjectTTSDone, data)
}

// CommandSink plays each finished utterance through a local command such
// as "aplay -q {file}". The WAV path replaces {file}, or is appended.
type CommandSink struct {
	cmd    []string
	dir    string
	logger *slog.Logger
}

func NewCommandSink(command string, logger *slog.Logger) (*CommandSink, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse player command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("player command empty")
	}
	return &CommandSink{cmd: args, dir: os.TempDir(), logger: logger}, nil
}

func (c *CommandSink) Chunk(context.Context, SynthChunk) error { return nil }

func (c *CommandSink) Done(ctx context.Context, u Utterance) error {
	if u.Superseded || len(u.PCM) == 0 {
		return nil
	}
	f, err := os.CreateTemp(c.dir, "loqa_sign_*.wav")
	if err != nil {
		return fmt.Errorf("temp file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if err := WriteWAV(f, u); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	args := c.args(path)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("player command: %w: %s", err, strings.TrimSpace(string(out)))
	}
	c.logger.Debug("utterance played", slog.String("session_id", u.SessionID), slog.Int("bytes", len(u.PCM)))
	return nil
}

func (c *CommandSink) args(path string) []string {
	out := make([]string, 0, len(c.cmd)+1)
	replaced := false
	for _, a := range c.cmd {
		if strings.Contains(a, "{file}") {
			a = strings.ReplaceAll(a, "{file}", path)
			replaced = true
		}
		out = append(out, a)
	}
	if !replaced {
		out = append(out, path)
	}
	return out
}

// WriteWAV encodes the utterance's 16-bit PCM as a WAV file.
func WriteWAV(w io.WriteSeeker, u Utterance) error {
	channels := u.Channels
	if channels <= 0 {
		channels = 1
	}
	samples := make([]int, len(u.PCM)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(u.PCM[2*i:])))
	}
	enc := wav.NewEncoder(w, u.SampleRate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: u.SampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	return enc.Close()
}
