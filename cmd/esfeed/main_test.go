package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zsiec/esfeed/internal/config"
	"github.com/zsiec/esfeed/internal/media"
	"github.com/zsiec/esfeed/internal/stream"
	"github.com/zsiec/esfeed/internal/synth"
)

func writeStream(t *testing.T, dir, name string, o synth.Options) (string, []byte, []int) {
	t.Helper()
	data, sizes := synth.Stream(o)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path, data, sizes
}

func TestRunVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{"--version"}, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := stdout.String(); got != "esfeed dev\n" {
		t.Errorf("stdout = %q", got)
	}
}

func TestRunNoInputs(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), nil, &stdout, &stderr); err == nil {
		t.Fatal("expected error without inputs")
	}
}

func TestRunBadFlags(t *testing.T) {
	tests := [][]string{
		{"--codec", "vp9", "x.h264"},
		{"--ring-size", "tiny", "x.h264"},
		{"--ring-size", "32", "x.h264"},
		{"--jobs", "0", "x.h264"},
		{"--no-such-flag"},
		{"--out", "o.h264", "a.h264", "b.h264"},
	}
	for _, args := range tests {
		var stdout, stderr bytes.Buffer
		if err := run(context.Background(), args, &stdout, &stderr); err == nil {
			t.Errorf("run(%q): expected error", args)
		}
	}
}

func TestRunMultipleFilesJSON(t *testing.T) {
	dir := t.TempDir()
	avc, _, avcSizes := writeStream(t, dir, "a.h264", synth.Options{Codec: media.CodecAVC, Pictures: 12, GOP: 4})
	hevc, _, hevcSizes := writeStream(t, dir, "b.h265", synth.Options{Codec: media.CodecHEVC, Pictures: 7, GOP: 3, AUD: true})
	av1, _, av1Sizes := writeStream(t, dir, "c.ivf", synth.Options{Codec: media.CodecAV1, Pictures: 5, GOP: 5, IVF: true})

	var stdout, stderr bytes.Buffer
	args := []string{"--json", "--inspect", "--jobs", "2", avc, hevc, av1}
	if err := run(context.Background(), args, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v\n%s", err, stderr.String())
	}

	var results []result
	if err := json.Unmarshal(stdout.Bytes(), &results); err != nil {
		t.Fatalf("decode output: %v\n%s", err, stdout.String())
	}
	want := map[string]int{"a.h264": len(avcSizes), "b.h265": len(hevcSizes), "c.ivf": len(av1Sizes)}
	if len(results) != len(want) {
		t.Fatalf("got %d results, want %d", len(results), len(want))
	}
	for i, key := range []string{"a.h264", "b.h265", "c.ivf"} {
		if results[i].Stats.Key != key {
			t.Errorf("result %d is %q, want %q", i, results[i].Stats.Key, key)
		}
	}
	for _, r := range results {
		if r.Stats.Units != int64(want[r.Stats.Key]) {
			t.Errorf("%s: units = %d, want %d", r.Stats.Key, r.Stats.Units, want[r.Stats.Key])
		}
		if r.Report == nil || r.Report.Units != r.Stats.Units {
			t.Errorf("%s: report = %+v", r.Stats.Key, r.Report)
		}
	}
	if !strings.Contains(stderr.String(), "session=") {
		t.Error("log lines carry no session id")
	}
}

func TestRunOutReproducesInput(t *testing.T) {
	dir := t.TempDir()
	in, data, _ := writeStream(t, dir, "in.h264", synth.Options{Codec: media.CodecAVC, Pictures: 9, GOP: 3, Slices: 2})
	out := filepath.Join(dir, "out.h264")

	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{"--out", out, in}, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("output differs from input: %d vs %d bytes", len(got), len(data))
	}
	if !strings.HasPrefix(stdout.String(), "in.h264: 9 units, 3 keyframes") {
		t.Errorf("summary = %q", stdout.String())
	}
}

func TestRunConfigStreams(t *testing.T) {
	dir := t.TempDir()
	_, _, sizes := writeStream(t, dir, "cam.bin", synth.Options{Codec: media.CodecHEVC, Pictures: 4, GOP: 2})
	outDir := filepath.Join(dir, "units")
	cfg := "out_dir: " + outDir + "\nstreams:\n  cam:\n    path: " + filepath.Join(dir, "cam.bin") + "\n    codec: h265\n"
	cfgPath := filepath.Join(dir, "esfeed.yaml")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{"--config", cfgPath}, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(outDir, "cam"))
	if err != nil {
		t.Fatal(err)
	}
	// Unit files plus index.json.
	if len(entries) != len(sizes)+1 {
		t.Errorf("wrote %d files, want %d", len(entries), len(sizes)+1)
	}
}

func TestRunMissingFile(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{filepath.Join(t.TempDir(), "missing.h264")}, &stdout, &stderr)
	if err == nil || !strings.Contains(err.Error(), "missing.h264") {
		t.Errorf("err = %v, want open error naming the file", err)
	}
}

func TestCollectJobsDistinctKeys(t *testing.T) {
	cfg, err := loadConfigFrom(t, "streams:\n  a.h264:\n    path: /x/a.h264\n")
	if err != nil {
		t.Fatal(err)
	}
	jobs := collectJobs(cfg, []string{"/y/a.h264", "/z/a.h264", "/z/b.h264"})
	var keys []string
	for _, j := range jobs {
		keys = append(keys, j.key)
	}
	want := []string{"a.h264", "a.h264#2", "a.h264#3", "b.h264"}
	if strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Errorf("keys = %v, want %v", keys, want)
	}
}

func loadConfigFrom(t *testing.T, yaml string) (*config.Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "esfeed.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return config.Load(path)
}

func TestLogRunningListsActiveStreams(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	a := &app{log: log, mgr: stream.NewManager(log)}
	a.mgr.Create("b.h264", "/x/b.h264")
	a.mgr.Create("a.h264", "/x/a.h264")
	a.mgr.Create("gone.h264", "/x/gone.h264")
	a.mgr.Remove("gone.h264")

	running := a.logRunning()
	if len(running) != 2 || running[0].Key != "a.h264" || running[1].Key != "b.h264" {
		t.Fatalf("running = %v", running)
	}
	out := buf.String()
	if strings.Count(out, "interrupting stream") != 2 || strings.Contains(out, "stream=gone.h264") {
		t.Errorf("log:\n%s", out)
	}
}

func TestAwaitInterruptedWaitsForRemoval(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	a := &app{log: log, mgr: stream.NewManager(log)}
	a.mgr.Create("a.h264", "/x/a.h264")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.awaitInterrupted(ctx, make(chan struct{}))
	}()

	select {
	case <-done:
		t.Fatal("returned while a stream was still registered")
	case <-time.After(20 * time.Millisecond):
	}
	a.mgr.Remove("a.h264")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("did not return after the stream was removed")
	}
}

func TestAwaitInterruptedReturnsWhenFinished(t *testing.T) {
	a := &app{log: slog.New(slog.DiscardHandler), mgr: stream.NewManager(slog.New(slog.DiscardHandler))}
	finished := make(chan struct{})
	close(finished)
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.awaitInterrupted(context.Background(), finished)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("did not return after finished was closed")
	}
}
