package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/classifier"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/config"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/domain"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/logging"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/metrics"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/prototype"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/service"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/store"
	"github.com/donatoaz/what-do-you-see-zero-shot-image-classification-multimodal-llm/internal/tui"
)

func main() {
	_ = godotenv.Load()

	var (
		cfgPath  string
		classes  string
		fit      bool
		refit    string
		headless bool
		logFile  string
	)
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ~/.config/wdys/config.yaml if not provided)")
	flag.StringVar(&classes, "classes", "", "Comma-separated class names (overrides config)")
	flag.BoolVar(&fit, "fit", false, "Build prototypes even if a saved model exists")
	flag.StringVar(&refit, "refit", "", "Rebuild or add one class in the saved model")
	flag.BoolVar(&headless, "headless", false, "Print results instead of starting the TUI")
	flag.StringVar(&logFile, "log-file", "", "Write logs to this file (TUI mode logs nowhere otherwise)")
	flag.Parse()
	inputs := flag.Args()
	if headless && len(inputs) == 0 && !fit && refit == "" {
		fmt.Println("Usage: wdys [--config=config.yaml] [--fit] [--classes=a,b,c] [--headless] image1.jpg [dir/*.png ...]")
		os.Exit(1)
	}

	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if classes != "" {
		cfg.Classes = splitClasses(classes)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	var logOut io.Writer = os.Stderr
	if !headless {
		logOut = io.Discard
	}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			log.Fatalf("open log file: %v", err)
		}
		defer f.Close()
		logOut = f
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, logOut)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Addr != "" {
		m = metrics.New(prometheus.DefaultRegisterer)
		go serveMetrics(cfg.Metrics.Addr, logger)
	}

	// Assemble components
	clients := bedrockClients{}
	enc, err := newEncoder(ctx, cfg.Encoder, clients, m, logger)
	if err != nil {
		log.Fatalf("encoder init failed: %v", err)
	}
	gen, err := newGenerator(ctx, cfg.Generator, clients, m, logger)
	if err != nil {
		log.Fatalf("generator init failed: %v", err)
	}
	st, err := newStore(cfg.Store)
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}

	var updates chan domain.Progress
	builderOpts := []prototype.Option{prototype.WithLogger(logger)}
	if !headless {
		// Sends never block; a dropped update only affects the progress bar.
		updates = make(chan domain.Progress, 256)
		builderOpts = append(builderOpts, prototype.WithProgress(func(p domain.Progress) {
			select {
			case updates <- p:
			default:
			}
		}))
	}
	builder := prototype.NewBuilder(enc, gen, prototype.Config{
		SamplesPerClass: cfg.Builder.SamplesPerClass,
		Templates:       cfg.Builder.Templates,
		Temperature:     cfg.Builder.DescriptionTemperature,
		Workers:         cfg.Builder.Workers,
	}, builderOpts...)
	clfCfg := classifier.DefaultConfig()
	clfCfg.PredictionTemperature = cfg.Classifier.PredictionTemperature
	clfCfg.DescriptionTemperature = cfg.Classifier.DescriptionTemperature
	clfCfg.Workers = cfg.Classifier.Workers
	clf := classifier.New(enc, gen, clfCfg, classifier.WithLogger(logger))

	opts := []service.Option{service.WithLogger(logger), service.WithMetrics(m)}
	if st != nil {
		opts = append(opts, service.WithStore(st))
	}
	svc := service.New(builder, clf, opts...)

	needFit := fit || st == nil
	if !needFit {
		if _, err := svc.Load(ctx); err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				log.Fatalf("load model: %v", err)
			}
			needFit = true
		}
	}

	if headless {
		runHeadless(ctx, svc, cfg.Classes, needFit, refit, inputs)
		return
	}

	if refit != "" {
		if needFit {
			log.Fatalf("refit needs a saved model; run with --fit first")
		}
		if _, err := svc.Refit(ctx, refit); err != nil {
			log.Fatalf("refit failed: %v", err)
		}
	}
	var fitClasses []string
	if needFit {
		fitClasses = cfg.Classes
	}
	p := tea.NewProgram(tui.New(ctx, svc, fitClasses, updates), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatal(err)
	}
}

func runHeadless(ctx context.Context, svc *service.Service, classes []string, needFit bool, refit string, inputs []string) {
	if needFit {
		if _, err := svc.Fit(ctx, classes); err != nil {
			log.Fatalf("fit failed: %v", err)
		}
	}
	if refit != "" {
		if _, err := svc.Refit(ctx, refit); err != nil {
			log.Fatalf("refit failed: %v", err)
		}
	}
	if len(inputs) == 0 {
		return
	}
	items, err := svc.ClassifyPaths(ctx, inputs)
	if err != nil {
		log.Fatalf("classify failed: %v", err)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "IMAGE\tCLASS\tSCORE\tRUNNER-UP")
	failed := 0
	for _, it := range items {
		if it.Err != nil {
			failed++
			fmt.Fprintf(tw, "%s\tERROR\t-\t%v\n", it.Image.ID, it.Err)
			continue
		}
		r := it.Result
		runnerUp := "-"
		if len(r.Ranking) > 1 {
			runnerUp = fmt.Sprintf("%s (%.4f)", r.Ranking[1].Class, r.Ranking[1].Score)
		}
		fmt.Fprintf(tw, "%s\t%s\t%.4f\t%s\n", it.Image.ID, r.Class, r.Scores[r.Index], runnerUp)
	}
	_ = tw.Flush()
	if failed > 0 {
		os.Exit(2)
	}
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	logger.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server stopped", "error", err)
	}
}

func splitClasses(s string) []string {
	var out []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}
