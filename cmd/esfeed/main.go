// esfeed demultiplexes raw H.264, H.265 and AV1 elementary streams into
// decodable units, one parser per input file.
//
// Usage:
//
//	esfeed [flags] FILE...
//	esfeed --config esfeed.yaml
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/segmentio/ksuid"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/esfeed/internal/config"
	"github.com/zsiec/esfeed/internal/demux"
	"github.com/zsiec/esfeed/internal/inspect"
	"github.com/zsiec/esfeed/internal/pipeline"
	"github.com/zsiec/esfeed/internal/sink"
	"github.com/zsiec/esfeed/internal/stream"
)

// Set at build time via -ldflags.
var version = "dev"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		slog.Error("esfeed failed", "error", err)
		os.Exit(1)
	}
}

type flags struct {
	config    string
	codec     string
	container string
	ringSize  string
	out       string
	outDir    string
	jobs      int
	inspect   bool
	json      bool
	logLevel  string
	version   bool
}

func parseFlags(args []string, stderr io.Writer) (*pflag.FlagSet, *flags, error) {
	var f flags
	fs := pflag.NewFlagSet("esfeed", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&f.config, "config", "c", "", "path to YAML configuration file")
	fs.StringVar(&f.codec, "codec", "auto", "input codec: auto, h264, h265, av1")
	fs.StringVar(&f.container, "container", "auto", "input container: auto, raw, ivf")
	fs.StringVar(&f.ringSize, "ring-size", "", "read-ahead buffer size, e.g. 16MiB")
	fs.StringVarP(&f.out, "out", "o", "", "write all units of the single input to this file")
	fs.StringVar(&f.outDir, "out-dir", "", "write every unit to its own file under DIR/<stream>/")
	fs.IntVarP(&f.jobs, "jobs", "j", 4, "streams parsed concurrently")
	fs.BoolVar(&f.inspect, "inspect", false, "print a per-stream inspection report")
	fs.BoolVar(&f.json, "json", false, "print stats and reports as JSON")
	fs.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	fs.BoolVar(&f.version, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return fs, &f, nil
}

// loadConfig reads the configuration file, if any, and lets explicitly set
// flags override it.
func loadConfig(fs *pflag.FlagSet, f *flags) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if f.config != "" {
		cfg, err = config.Load(f.config)
	} else {
		cfg, err = config.Default()
	}
	if err != nil {
		return nil, err
	}
	if fs.Changed("codec") {
		cfg.Defaults.Codec = f.codec
	}
	if fs.Changed("container") {
		cfg.Defaults.Container = f.container
	}
	if fs.Changed("ring-size") {
		n, err := humanize.ParseBytes(f.ringSize)
		if err != nil {
			return nil, fmt.Errorf("--ring-size: %w", err)
		}
		cfg.Defaults.RingSize = config.Size(n)
	}
	if fs.Changed("out-dir") {
		cfg.OutDir = f.outDir
	}
	if fs.Changed("jobs") {
		cfg.Jobs = f.jobs
	}
	if fs.Changed("inspect") {
		cfg.Inspect = f.inspect
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	if os.Getenv("DEBUG") != "" {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

type job struct {
	key    string
	stream config.ResolvedStream
}

// result is one summary entry: the final pipeline stats kept by the
// stream manager, plus the inspection report when --inspect is set.
type result struct {
	Stats  pipeline.Stats  `json:"stats"`
	Report *inspect.Report `json:"report,omitempty"`
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, f, err := parseFlags(args, stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	if f.version {
		fmt.Fprintln(stdout, "esfeed", version)
		return nil
	}

	cfg, err := loadConfig(fs, f)
	if err != nil {
		return err
	}
	log := newLogger(cfg.LogLevel, stderr)
	slog.SetDefault(log)

	jobs := collectJobs(cfg, fs.Args())
	if len(jobs) == 0 {
		return errors.New("no input streams; pass files or streams in --config")
	}
	if f.out != "" && len(jobs) != 1 {
		return fmt.Errorf("--out needs exactly one input, got %d", len(jobs))
	}

	a := &app{
		log:     log,
		cfg:     cfg,
		out:     f.out,
		mgr:     stream.NewManager(log),
		reports: make(map[string]*inspect.Report),
	}
	log.Info("esfeed starting", "version", version, "streams", len(jobs), "jobs", cfg.Jobs)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Jobs)
	finished := make(chan struct{})
	watched := make(chan struct{})
	go func() {
		defer close(watched)
		a.awaitInterrupted(gctx, finished)
	}()
	for _, j := range jobs {
		g.Go(func() error {
			return a.runJob(gctx, j)
		})
	}
	runErr := g.Wait()
	close(finished)
	<-watched

	if err := a.printSummary(stdout, f.json); err != nil {
		return errors.Join(runErr, err)
	}
	log.Info("esfeed finished", "streams", len(jobs), "elapsed", time.Since(start).Round(time.Millisecond))
	return runErr
}

// collectJobs lists configured streams by name, then command-line files by
// base name. Repeated base names get a numeric suffix.
func collectJobs(cfg *config.Config, files []string) []job {
	names := make([]string, 0, len(cfg.Streams))
	for name := range cfg.Streams {
		names = append(names, name)
	}
	sort.Strings(names)

	jobs := make([]job, 0, len(names)+len(files))
	for _, name := range names {
		jobs = append(jobs, job{key: name, stream: cfg.Streams[name].Effective(cfg.Defaults)})
	}
	seen := make(map[string]int, len(jobs)+len(files))
	for _, j := range jobs {
		seen[j.key]++
	}
	for _, path := range files {
		key := filepath.Base(path)
		if n := seen[key]; n > 0 {
			seen[key]++
			key = fmt.Sprintf("%s#%d", key, n+1)
		}
		seen[key]++
		s := config.StreamConfig{Path: path}
		jobs = append(jobs, job{key: key, stream: s.Effective(cfg.Defaults)})
	}
	return jobs
}

type app struct {
	log *slog.Logger
	cfg *config.Config
	out string
	mgr *stream.Manager

	mu      sync.Mutex
	reports map[string]*inspect.Report
}

// awaitInterrupted waits for ctx to be cancelled while streams are still
// running, logs them, and returns once each has been removed. It returns
// early when finished is closed.
func (a *app) awaitInterrupted(ctx context.Context, finished <-chan struct{}) {
	select {
	case <-finished:
		return
	case <-ctx.Done():
	}
	for _, s := range a.logRunning() {
		select {
		case <-s.Done():
		case <-finished:
			return
		}
	}
}

// logRunning logs every stream still registered with the manager.
func (a *app) logRunning() []*stream.Stream {
	running := a.mgr.List()
	for _, s := range running {
		a.log.Warn("interrupting stream",
			"stream", s.Key,
			"path", s.Path,
			"running", time.Since(s.StartedAt).Round(time.Millisecond),
		)
	}
	return running
}

func (a *app) runJob(ctx context.Context, j job) (err error) {
	s, created := a.mgr.Create(j.key, j.stream.Path)
	if !created {
		return fmt.Errorf("duplicate stream %q (%s)", j.key, j.stream.Path)
	}
	defer a.mgr.Remove(j.key)

	base := a.log.With("session", ksuid.New().String())
	log := base.With("stream", j.key)
	opts := j.stream.Options()
	opts.Log = log

	parser, err := demux.Open(j.stream.Path, opts)
	if err != nil {
		return fmt.Errorf("stream %s: %w", j.key, err)
	}
	defer func() {
		err = errors.Join(err, parser.Close())
	}()

	var (
		subs    sink.Multi
		closers []io.Closer
		rec     *inspect.Recorder
	)
	defer func() {
		for _, c := range closers {
			err = errors.Join(err, c.Close())
		}
	}()
	if a.cfg.Inspect {
		rec = inspect.NewRecorder(log)
		subs = append(subs, rec)
	}
	if a.out != "" {
		fsink, err := sink.Create(a.out)
		if err != nil {
			return err
		}
		subs = append(subs, fsink)
		closers = append(closers, fsink)
	}
	if a.cfg.OutDir != "" {
		dsink, err := sink.NewDir(filepath.Join(a.cfg.OutDir, j.key))
		if err != nil {
			return err
		}
		subs = append(subs, dsink)
		closers = append(closers, dsink)
	}
	if len(subs) == 0 {
		subs = append(subs, &sink.Discard{})
	}

	info := parser.Info()
	log.Info("stream opened",
		"path", j.stream.Path,
		"codec", info.Codec,
		"container", info.Container,
		"ring", humanize.IBytes(uint64(j.stream.RingSize)),
	)

	p := pipeline.New(j.key, parser, subs)
	p.SetLogger(base)
	s.Pipeline = p
	runErr := p.Run(ctx)

	st := p.Stats()
	if rec != nil {
		r := rec.Report()
		a.mu.Lock()
		a.reports[j.key] = &r
		a.mu.Unlock()
	}

	log.Info("stream done",
		"units", humanize.Comma(st.Units),
		"keyframes", st.Keyframes,
		"size", humanize.IBytes(uint64(st.Bytes)),
		"elapsed", st.Elapsed.Round(time.Millisecond),
	)
	return runErr
}

func (a *app) printSummary(w io.Writer, asJSON bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	finished := a.mgr.Finished()
	out := make([]result, 0, len(finished))
	for _, st := range finished {
		out = append(out, result{Stats: st, Report: a.reports[st.Key]})
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	for _, r := range out {
		fmt.Fprintf(w, "%s: %s units, %s keyframes, %s in %s\n",
			r.Stats.Key, humanize.Comma(r.Stats.Units), humanize.Comma(r.Stats.Keyframes),
			humanize.IBytes(uint64(r.Stats.Bytes)), r.Stats.Elapsed.Round(time.Millisecond))
		if r.Stats.Truncation != "" {
			fmt.Fprintf(w, "  truncated: %s\n", r.Stats.Truncation)
		}
		if r.Report != nil {
			fmt.Fprintf(w, "  %s\n", r.Report)
			for _, name := range r.Report.TypeNames() {
				fmt.Fprintf(w, "    %-28s %s\n", name, humanize.Comma(r.Report.Types[name]))
			}
		}
	}
	return nil
}
