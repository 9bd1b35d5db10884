// Command voicetutor runs an interactive voice language-tutoring session in
// the terminal: it streams microphone audio to a realtime speech model and
// plays the tutor's spoken replies back through the speakers.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/gamerzmahi07-prog/Language-Learn/internal/config"
	"github.com/gamerzmahi07-prog/Language-Learn/internal/health"
	"github.com/gamerzmahi07-prog/Language-Learn/internal/history"
	"github.com/gamerzmahi07-prog/Language-Learn/internal/lesson"
	"github.com/gamerzmahi07-prog/Language-Learn/internal/observe"
	"github.com/gamerzmahi07-prog/Language-Learn/internal/tutor"
	"github.com/gamerzmahi07-prog/Language-Learn/pkg/audio/capture"
	"github.com/gamerzmahi07-prog/Language-Learn/pkg/audio/playback"
	"github.com/gamerzmahi07-prog/Language-Learn/pkg/provider/live"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	lessonPath := flag.String("lesson", "", "lesson YAML file (overrides the config)")
	language := flag.String("language", "", "language being taught (overrides the config)")
	flag.Parse()

	// Pick up GEMINI_API_KEY from a local .env if present.
	_ = godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicetutor: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicetutor: %v\n", err)
		}
		return 1
	}
	if *lessonPath != "" {
		cfg.Lesson.Path = *lessonPath
	}
	if *language != "" {
		cfg.Lesson.Language = *language
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(cfg.Server.LogLevel.Level())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// ── Config watcher ────────────────────────────────────────────────────────
	// Log level changes take effect live; anything else needs a restart.
	watcher, err := config.NewWatcher(*configPath, func(old, next *config.Config) {
		if next.Server.LogLevel != old.Server.LogLevel {
			logLevel.Set(next.Server.LogLevel.Level())
			slog.Info("log level changed", "level", string(next.Server.LogLevel))
		}
		if next.Lesson != old.Lesson || next.Provider != old.Provider || next.Audio != old.Audio {
			slog.Info("configuration changed on disk, restart to apply")
		}
	})
	if err != nil {
		slog.Warn("config watcher unavailable", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voicetutor",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Lesson ────────────────────────────────────────────────────────────────
	l, err := lesson.Load(cfg.Lesson.Path)
	if err != nil {
		slog.Error("failed to load lesson", "path", cfg.Lesson.Path, "err", err)
		return 1
	}

	// ── Audio devices ─────────────────────────────────────────────────────────
	mic, err := capture.OpenMicrophone(cfg.Audio.CaptureRate)
	if err != nil {
		slog.Error("microphone unavailable", "err", err)
		return 1
	}

	sink, err := playback.NewSpeakerSink(cfg.Audio.PlaybackRate, cfg.Audio.PlaybackRate/10)
	if err != nil {
		slog.Error("speaker unavailable", "err", err)
		_ = mic.Close()
		return 1
	}
	defer sink.Close()
	scheduler := playback.New(sink, cfg.Audio.PlaybackRate)

	// ── Provider ──────────────────────────────────────────────────────────────
	var providerOpts []live.Option
	if cfg.Provider.Model != "" {
		providerOpts = append(providerOpts, live.WithModel(cfg.Provider.Model))
	}
	if cfg.Provider.BaseURL != "" {
		providerOpts = append(providerOpts, live.WithBaseURL(cfg.Provider.BaseURL))
	}
	provider := live.New(cfg.Provider.APIKey, providerOpts...)

	// ── Session ───────────────────────────────────────────────────────────────
	sessionID := uuid.NewString()
	log := logger.With("session_id", sessionID)

	sess := tutor.NewSession(tutor.Config{
		Dial: tutor.Dial(provider),
		NewRecorder: func(sender capture.Sender) tutor.Recorder {
			return capture.New(mic, sender, cfg.Audio.CaptureRate,
				capture.WithFrameSize(cfg.Audio.FrameSize))
		},
		Player:   scheduler,
		Lesson:   l,
		Language: cfg.Lesson.Language,
		Voice:    cfg.Provider.Voice,
		Logger:   log,
		Metrics:  metrics,
	})

	sess.OnStatus(func(s tutor.Status) {
		fmt.Printf("\n[%s]\n", s)
	})
	var printMu sync.Mutex
	sess.OnTranscript(func(tutorLine, studentLine string) {
		printMu.Lock()
		defer printMu.Unlock()
		fmt.Printf("\r\033[2K  tutor: %s\n\033[2K    you: %s\033[F", tutorLine, studentLine)
	})

	printStartupSummary(cfg, l)

	g, gctx := errgroup.WithContext(ctx)

	// ── Telemetry endpoint ────────────────────────────────────────────────────
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())
		health.New(health.CheckFunc("session", func() error {
			if sess.State().Status == tutor.StatusError {
				return errors.New("session in error state")
			}
			return nil
		})).Register(mux)

		srv := &http.Server{
			Addr:    cfg.Server.MetricsAddr,
			Handler: observe.Middleware(metrics)(mux),
		}
		g.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		slog.Info("telemetry endpoint listening", "addr", cfg.Server.MetricsAddr)
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	sessionStart := time.Now()
	if err := sess.Start(ctx); err != nil {
		slog.Error("failed to start session", "err", err)
		stop()
		_ = g.Wait()
		return 1
	}

	go readCommands(sess)

	g.Go(func() error {
		// End everything once the session finishes, however it finishes.
		defer stop()
		return sess.Wait()
	})
	g.Go(func() error {
		<-gctx.Done()
		sess.Exit()
		return nil
	})

	runErr := g.Wait()

	// ── Practice report ───────────────────────────────────────────────────────
	report := sess.FinishPractice()
	fmt.Println()
	if len(report.Used) > 0 {
		fmt.Printf("vocabulary you used:   %s\n", strings.Join(report.Used, ", "))
	}
	if len(report.Missed) > 0 {
		fmt.Printf("vocabulary to revisit: %s\n", strings.Join(report.Missed, ", "))
	}

	if cfg.History.Path != "" {
		store := history.NewFileStore(cfg.History.Path)
		rec := history.Record{
			SessionID:   sessionID,
			Lesson:      l.Title,
			Language:    cfg.Lesson.Language,
			Duration:    time.Since(sessionStart).Round(time.Second),
			WordsUsed:   report.Used,
			WordsMissed: report.Missed,
		}
		if err := store.Save(rec); err != nil {
			slog.Warn("failed to record practice history", "err", err)
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("session error", "err", runErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// readCommands handles interactive keyboard commands until stdin closes or
// the session is exited.
func readCommands(sess *tutor.Session) {
	muted := false
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch strings.TrimSpace(scanner.Text()) {
		case "m":
			muted = !muted
			sess.SetMuted(muted)
			if muted {
				fmt.Println("[microphone muted]")
			} else {
				fmt.Println("[microphone live]")
			}
		case "q":
			sess.Exit()
			return
		}
	}
}

// printStartupSummary shows what this session is about before the first
// exchange.
func printStartupSummary(cfg *config.Config, l *lesson.Lesson) {
	fmt.Printf("lesson:   %s (%d words)\n", l.Title, len(l.Vocabulary))
	fmt.Printf("language: %s\n", cfg.Lesson.Language)
	voice := cfg.Provider.Voice
	if voice == "" {
		voice = live.DefaultVoice
	}
	fmt.Printf("voice:    %s\n", voice)
	if cfg.History.Path != "" {
		if records, err := history.NewFileStore(cfg.History.Path).Load(); err == nil {
			if count, last := history.LastPractice(records, l.Title); count > 0 {
				fmt.Printf("practised: %dx, last on %s\n", count, last.Local().Format("2 Jan 2006"))
			}
		}
	}
	fmt.Println("commands: m = toggle mute, q = quit, Ctrl+C = quit")
	fmt.Println()
}
