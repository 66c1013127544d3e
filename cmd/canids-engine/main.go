// canids-engine runs the detection core: it reads frames from a
// configured source, drives them through the State Manager, Baseline
// Engine, and Detector chain, and routes alerts to the configured
// sinks. Grounded on the teacher's cmd/ns-engine graceful-shutdown
// shape (config load, start, block on signal, stop).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/mail"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/navispectra/canids/internal/alertmgr"
	"github.com/navispectra/canids/internal/baseline"
	"github.com/navispectra/canids/internal/config"
	"github.com/navispectra/canids/internal/httpapi"
	"github.com/navispectra/canids/internal/model"
	"github.com/navispectra/canids/internal/orchestrator"
	"github.com/navispectra/canids/internal/sink"
	"github.com/navispectra/canids/internal/source/natsframe"
	"github.com/navispectra/canids/internal/source/socketcan"
	"github.com/navispectra/canids/internal/source/tracefile"
	"github.com/navispectra/canids/internal/state"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config.yaml")
	runMode := flag.String("mode", "auto", "run mode: learn, detect, or auto")
	sourceKind := flag.String("source", "socketcan", "frame source: socketcan, tracefile, or nats")
	iface := flag.String("iface", "can0", "SocketCAN interface name (source=socketcan)")
	tracePath := flag.String("trace", "", "candump-style trace log path (source=tracefile)")
	natsURL := flag.String("nats-url", "nats://127.0.0.1:4222", "NATS server URL (source=nats)")
	natsSubject := flag.String("nats-subject", "canids.frames", "NATS subject (source=nats)")
	baselinePath := flag.String("baseline", "baseline.json", "baseline persistence file")
	flag.Parse()

	log := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Str("component", "canids-engine").Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	mode, baselineExists, err := resolveMode(*runMode, *baselinePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to resolve run mode")
	}

	src, err := openSource(*sourceKind, *iface, *tracePath, *natsURL, *natsSubject)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open frame source")
	}

	states := state.NewManager()

	var engine *baseline.Engine
	if baselineExists {
		engine, err = baseline.LoadFile(*baselinePath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load baseline")
		}
	} else {
		engine = baseline.New(
			cfg.Learning.MinSamplesForStableBaseline,
			cfg.Learning.MinEntropySamples,
			cfg.Learning.MinCounterSamples,
			cfg.Tamper.PayloadAnalysisMinDLC,
		)
	}

	sinks := buildSinks(cfg, log)
	alerts := alertmgr.New(cfg, states, sinks)

	var orchOpts []orchestrator.Option
	if *runMode == "auto" {
		orchOpts = append(orchOpts, orchestrator.WithAutoPromote())
	}
	orch := orchestrator.New(cfg, log, src, states, engine, alerts, mode, orchOpts...)

	var api *httpapi.Server
	if cfg.API.Enabled {
		api = httpapi.New(cfg.API.ListenAddr, engine, func() any { return orch.Stats() })
		go func() {
			if err := api.ListenAndServe(); err != nil {
				log.Error().Err(err).Msg("stats API server exited with error")
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	if err := orch.Run(ctx); err != nil {
		log.Error().Err(err).Msg("pipeline exited with error")
	}

	if mode == model.ModeLearning || *runMode == "auto" {
		if err := engine.SaveFile(*baselinePath); err != nil {
			log.Error().Err(err).Msg("failed to persist baseline")
		}
	}

	if api != nil {
		if err := api.Shutdown(5 * time.Second); err != nil {
			log.Error().Err(err).Msg("stats API server shutdown error")
		}
	}
}

// resolveMode maps the -mode flag to a model.Mode. "auto" starts in
// learning mode when no baseline file exists; the Orchestrator itself
// promotes it to detecting once the learning window elapses when
// WithAutoPromote is set (spec §6: "auto: learn for learning_duration
// then detect"). "auto" with an existing baseline file starts directly
// in detecting mode. "detect" requires an existing baseline file.
func resolveMode(flagValue, baselinePath string) (model.Mode, bool, error) {
	_, err := os.Stat(baselinePath)
	baselineExists := err == nil

	switch flagValue {
	case "learn":
		return model.ModeLearning, baselineExists, nil
	case "detect":
		if !baselineExists {
			return 0, false, fmt.Errorf("detect mode requires an existing baseline file at %s", baselinePath)
		}
		return model.ModeDetecting, baselineExists, nil
	case "auto":
		if baselineExists {
			return model.ModeDetecting, baselineExists, nil
		}
		return model.ModeLearning, baselineExists, nil
	default:
		return 0, false, fmt.Errorf("unknown mode %q", flagValue)
	}
}

func openSource(kind, iface, tracePath, natsURL, natsSubject string) (model.Source, error) {
	switch kind {
	case "socketcan":
		return socketcan.New(iface)
	case "tracefile":
		return tracefile.Open(tracePath)
	case "nats":
		return natsframe.New(natsURL, natsSubject)
	default:
		return nil, fmt.Errorf("unknown source kind %q", kind)
	}
}

func buildSinks(cfg *config.Config, log zerolog.Logger) map[string]model.Sink {
	sinks := make(map[string]model.Sink)

	if cfg.Sinks.Console {
		sinks["console"] = sink.NewConsole(os.Stdout)
	}
	if cfg.Sinks.TextLog.Enabled {
		rl, err := sink.NewRollingLog(cfg.Sinks.TextLog, false)
		if err != nil {
			log.Error().Err(err).Msg("failed to open text_log sink")
		} else {
			sinks["text_log"] = rl
		}
	}
	if cfg.Sinks.JSONLog.Enabled {
		rl, err := sink.NewRollingLog(cfg.Sinks.JSONLog, true)
		if err != nil {
			log.Error().Err(err).Msg("failed to open json_log sink")
		} else {
			sinks["json_log"] = rl
		}
	}
	if cfg.Sinks.ClickHouse.Enabled {
		ch, err := sink.NewClickHouse(cfg.Sinks.ClickHouse)
		if err != nil {
			log.Error().Err(err).Msg("failed to connect clickhouse sink")
		} else {
			sinks["clickhouse"] = ch
		}
	}
	if cfg.Sinks.Email.Enabled {
		if _, err := mail.ParseAddress(cfg.Sinks.Email.To); err != nil {
			log.Error().Err(err).Str("to", cfg.Sinks.Email.To).Msg("invalid email sink recipient, skipping")
		} else {
			sinks["email"] = sink.NewEmail(cfg.Sinks.Email)
		}
	}

	return sinks
}
