package app

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/earshot/internal/archive"
	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/session"
	audiomock "github.com/MrWong99/earshot/pkg/audio/mock"
	"github.com/MrWong99/earshot/pkg/provider/asr"
	asrmock "github.com/MrWong99/earshot/pkg/provider/asr/mock"
	vadmock "github.com/MrWong99/earshot/pkg/provider/vad/mock"
	wakemock "github.com/MrWong99/earshot/pkg/provider/wake/mock"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Session.SilenceTimeoutMs = 100
	cfg.Recognizer.Name = "mock"
	cfg.Recognizer.Language = "en"
	cfg.Commands = []config.CommandConfig{
		{Name: "lights-on", Phrases: []string{"turn on the lights"}},
	}
	return cfg
}

type passthroughCodec struct{}

func (passthroughCodec) Encode(pcm []byte) ([]byte, error) { return pcm[:4], nil }

func TestNewValidation(t *testing.T) {
	cfg := testConfig()
	ctx := context.Background()

	if _, err := New(ctx, cfg, nil); err == nil {
		t.Error("New accepted nil providers")
	}
	if _, err := New(ctx, cfg, &Providers{Source: audiomock.NewSource(1), Wake: &wakemock.Engine{}}); err == nil {
		t.Error("New accepted providers without a VAD engine")
	}
}

func TestAppEndToEnd(t *testing.T) {
	cfg := testConfig()

	src := audiomock.NewSource(512)
	wakeSess := &wakemock.Session{TriggerAt: map[int]bool{2: true}}
	vadSess := &vadmock.Session{}
	recog := &asrmock.Recognizer{
		Script: []asr.Transcript{{Text: "turn on the lights", Confidence: 0.92, Duration: 40 * time.Millisecond}},
	}

	dir := t.TempDir()
	archiver, err := archive.NewWriter(dir, cfg.Audio.SampleRate, 320,
		archive.WithCodec(func() (archive.Codec, error) { return passthroughCodec{}, nil }))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	results := make(chan Result, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, cfg,
		&Providers{
			Source:     src,
			Wake:       &wakemock.Engine{Session: wakeSess},
			VAD:        &vadmock.Engine{Session: vadSess},
			Recognizer: recog,
		},
		WithArchiveWriter(archiver),
		WithResultFunc(func(r Result) { results <- r }),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	// Keep feeding silence until the pipeline seals an utterance; the wake
	// mock fires on its third scored frame.
	go func() {
		seq := uint64(1)
		for seq < 400 {
			select {
			case <-ctx.Done():
				return
			default:
			}
			seq = src.Script(seq, 1, cfg.Audio.SampleRate, 20*time.Millisecond, 0)
			time.Sleep(time.Millisecond)
		}
	}()

	var res Result
	select {
	case res = <-results:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a pipeline result")
	}

	if res.Utterance.ID != 1 {
		t.Errorf("utterance ID = %d, want 1", res.Utterance.ID)
	}
	if res.Utterance.Reason != session.ReasonSilenceTimeout {
		t.Errorf("Reason = %v, want %v", res.Utterance.Reason, session.ReasonSilenceTimeout)
	}
	if res.Transcript.Text != "turn on the lights" {
		t.Errorf("Transcript = %q, want the scripted text", res.Transcript.Text)
	}
	if res.Command == nil || res.Command.Command != "lights-on" {
		t.Errorf("Command = %+v, want lights-on", res.Command)
	}
	if !strings.HasSuffix(res.ArchivePath, ".ear") {
		t.Errorf("ArchivePath = %q, want an .ear file", res.ArchivePath)
	}
	if _, err := os.Stat(res.ArchivePath); err != nil {
		t.Errorf("archive file missing: %v", err)
	}

	calls := recog.Calls()
	if len(calls) != 1 {
		t.Fatalf("recognizer saw %d calls, want 1", len(calls))
	}
	if calls[0].Cfg.SampleRate != cfg.Audio.SampleRate || calls[0].Cfg.Language != "en" {
		t.Errorf("recognizer config = %+v", calls[0].Cfg)
	}
	if len(calls[0].PCM) == 0 {
		t.Error("recognizer received no audio")
	}

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	if err := a.Shutdown(sctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	if err := <-runErr; err != nil {
		t.Errorf("Run returned %v, want nil", err)
	}

	if recog.CloseCalls() != 1 {
		t.Errorf("recognizer Close called %d times, want 1", recog.CloseCalls())
	}
	if !src.Closed() {
		t.Error("audio source was not closed")
	}
}

func TestAppWithoutRecognizer(t *testing.T) {
	cfg := testConfig()
	cfg.Recognizer = config.ProviderEntry{}

	src := audiomock.NewSource(512)
	results := make(chan Result, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, cfg,
		&Providers{
			Source: src,
			Wake:   &wakemock.Engine{Session: &wakemock.Session{TriggerAt: map[int]bool{2: true}}},
			VAD:    &vadmock.Engine{},
		},
		WithResultFunc(func(r Result) { results <- r }),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	go func() {
		seq := uint64(1)
		for seq < 400 {
			select {
			case <-ctx.Done():
				return
			default:
			}
			seq = src.Script(seq, 1, cfg.Audio.SampleRate, 20*time.Millisecond, 0)
			time.Sleep(time.Millisecond)
		}
	}()

	var res Result
	select {
	case res = <-results:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a pipeline result")
	}

	// Without a recognizer the utterance still flows through, just with an
	// empty transcript and no command.
	if res.Transcript.Text != "" {
		t.Errorf("Transcript = %q, want empty", res.Transcript.Text)
	}
	if res.Command != nil {
		t.Errorf("Command = %+v, want nil", res.Command)
	}
	if res.ArchivePath != "" {
		t.Errorf("ArchivePath = %q, want empty with archiving off", res.ArchivePath)
	}

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	if err := a.Shutdown(sctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	if err := <-runErr; err != nil {
		t.Errorf("Run returned %v, want nil", err)
	}
}
