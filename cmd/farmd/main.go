package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	"gemfarm/config"
	"gemfarm/crypto"
	"gemfarm/native/farm"
	"gemfarm/observability/logging"
	"gemfarm/rpc"
	"gemfarm/state"
	"gemfarm/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	keygen := flag.Bool("keygen", false, "Generate a new operator keypair, print it and exit")
	flag.Parse()

	if *keygen {
		key, err := crypto.GeneratePrivateKey()
		if err != nil {
			panic(fmt.Sprintf("Failed to generate key: %v", err))
		}
		fmt.Printf("private key: %x\n", key.Bytes())
		fmt.Printf("address:     %s\n", key.PubKey().Address())
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	env := strings.TrimSpace(cfg.Env)
	if fromEnv := strings.TrimSpace(os.Getenv("GEMFARM_ENV")); fromEnv != "" {
		env = fromEnv
	}
	var logSink io.Writer = os.Stdout
	if cfg.LogFile != "" {
		logSink = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
	}
	logger := logging.Setup("farmd", env, logSink)

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", slog.String("dataDir", cfg.DataDir), slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)
	engine := farm.NewEngine()
	engine.SetState(manager)

	if cfg.MetricsAddress != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srv := &http.Server{
				Addr:              cfg.MetricsAddress,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}
			logger.Info("starting metrics server", slog.String("addr", cfg.MetricsAddress))
			if err := srv.ListenAndServe(); err != nil {
				logger.Error("metrics server stopped", slog.String("error", err.Error()))
			}
		}()
	}

	server := rpc.NewServer(engine, manager, logger)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("rpc server stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
