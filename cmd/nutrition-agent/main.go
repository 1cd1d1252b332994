package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"goa.design/clue/clue"
	"goa.design/clue/health"
	"goa.design/clue/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/petclinic/nutrition-agent/agent/model"
	"github.com/petclinic/nutrition-agent/agent/runtime"
	"github.com/petclinic/nutrition-agent/agent/telemetry"
	"github.com/petclinic/nutrition-agent/api"
	"github.com/petclinic/nutrition-agent/config"
	"github.com/petclinic/nutrition-agent/features/model/anthropic"
	"github.com/petclinic/nutrition-agent/features/model/bedrock"
	"github.com/petclinic/nutrition-agent/features/model/middleware"
	"github.com/petclinic/nutrition-agent/nutrition"
)

const (
	serviceName    = "nutrition-agent"
	serviceVersion = "1.0.0"
)

func main() {
	var (
		configF = flag.String("config", "", "Path to YAML configuration file")
		dbgF    = flag.Bool("debug", false, "Log request and response bodies")
	)
	flag.Parse()

	// Setup logger.
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format), log.WithFunc(log.Span))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	cfg, err := config.Load(*configF)
	if err != nil {
		log.Fatalf(ctx, err, "invalid configuration")
	}
	log.Print(ctx, log.KV{K: "listen-addr", V: cfg.ListenAddr}, log.KV{K: "provider", V: cfg.Provider}, log.KV{K: "model", V: cfg.ModelID})

	// Setup OpenTelemetry when a collector is configured.
	if cfg.OTelCollectorAddr != "" {
		conn, err := grpc.NewClient(cfg.OTelCollectorAddr,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			log.Fatalf(ctx, err, "failed to connect to OTel collector")
		}
		spanExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			log.Fatalf(ctx, err, "failed to initialize tracing")
		}
		defer func() {
			if err := spanExporter.Shutdown(ctx); err != nil {
				log.Errorf(ctx, err, "failed to shutdown tracing")
			}
		}()
		metricExporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
		if err != nil {
			log.Fatalf(ctx, err, "failed to initialize metrics")
		}
		defer func() {
			if err := metricExporter.Shutdown(ctx); err != nil {
				log.Errorf(ctx, err, "failed to shutdown metrics")
			}
		}()
		otelCfg, err := clue.NewConfig(ctx, serviceName, serviceVersion, metricExporter, spanExporter)
		if err != nil {
			log.Fatalf(ctx, err, "failed to initialize telemetry")
		}
		clue.ConfigureOpenTelemetry(ctx, otelCfg)
	}

	logger := telemetry.NewClueLogger()
	tracer := telemetry.NewClueTracer()
	metrics := telemetry.NewClueMetrics()

	// Nutrition data client and toolset.
	nutritionClient := nutrition.NewClient(cfg.NutritionServiceURL, nutrition.ClientOptions{
		Logger: logger,
		Tracer: tracer,
	})
	toolset := nutrition.NewToolset(nutritionClient, nutrition.ToolsetOptions{
		Logger: logger,
		Tracer: tracer,
	})
	registry, err := toolset.Registry()
	if err != nil {
		log.Fatalf(ctx, err, "failed to build tool registry")
	}

	// Model provider.
	var client model.Client
	switch cfg.Provider {
	case config.ProviderBedrock:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			log.Fatalf(ctx, err, "failed to load AWS configuration")
		}
		client, err = bedrock.New(bedrockruntime.NewFromConfig(awsCfg), bedrock.Options{
			DefaultModel: cfg.ModelID,
			MaxTokens:    cfg.MaxTokens,
			Temperature:  cfg.Temperature,
			Logger:       logger,
		})
		if err != nil {
			log.Fatalf(ctx, err, "failed to build Bedrock client")
		}
	case config.ProviderAnthropic:
		client, err = anthropic.NewFromAPIKey(cfg.AnthropicAPIKey, anthropic.Options{
			DefaultModel: cfg.ModelID,
			MaxTokens:    cfg.MaxTokens,
			Temperature:  float64(cfg.Temperature),
		})
		if err != nil {
			log.Fatalf(ctx, err, "failed to build Anthropic client")
		}
	}
	if cfg.RateLimitTPM > 0 {
		limiter := middleware.NewAdaptiveRateLimiter(cfg.RateLimitTPM, cfg.RateLimitMaxTPM)
		client = limiter.Middleware()(client)
	}

	// HTTP server. Each request gets a fresh runner.
	runners := func() (*runtime.Runner, error) {
		return runtime.NewRunner(runtime.Options{
			Client:       client,
			Registry:     registry,
			SystemPrompt: nutrition.SystemPrompt,
			Model:        cfg.ModelID,
			MaxTokens:    cfg.MaxTokens,
			Temperature:  cfg.Temperature,
			Logger:       logger,
			Tracer:       tracer,
			Metrics:      metrics,
		})
	}
	apiOpts := api.Options{
		Runners:       runners,
		HealthPingers: []health.Pinger{nutritionClient},
		Logger:        logger,
		Debug:         *dbgF,
	}
	srv, err := api.New(apiOpts)
	if err != nil {
		log.Fatalf(ctx, err, "failed to build API server")
	}
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(ctx, srv, apiOpts),
		ReadHeaderTimeout: 60 * time.Second,
	}

	// Create channel used by both the signal handler and server goroutine to
	// notify the main goroutine when to stop.
	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			log.Printf(ctx, "HTTP server listening on %q", cfg.ListenAddr)
			errc <- httpServer.ListenAndServe()
		}()

		<-ctx.Done()
		log.Printf(ctx, "shutting down HTTP server at %q", cfg.ListenAddr)
		sctx, scancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer scancel()
		if err := httpServer.Shutdown(sctx); err != nil {
			log.Errorf(ctx, err, "failed to shutdown HTTP server")
		}
	}()

	log.Printf(ctx, "exiting (%v)", <-errc)
	cancel()
	wg.Wait()
	log.Printf(ctx, "exited")
}
