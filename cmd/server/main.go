package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"codex-bridge/internal/bridge"
	"codex-bridge/internal/codex"
	"codex-bridge/internal/config"
	"codex-bridge/internal/translate"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string
	var listenAddr string

	cmd := &cobra.Command{
		Use:          "codex-bridge",
		Short:        "WebSocket bridge in front of the codex app-server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.ListenAddr = listenAddr
			}
			return run(cfg)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "path to config file")
	cmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "listen address (overrides config)")
	return cmd
}

func run(cfg config.Config) error {
	defaults := config.NewCodexDefaults(cfg.CodexConfigPath())
	if err := defaults.Watch(); err != nil {
		log.Printf("codex config watch disabled: %v", err)
	}
	defer defaults.Close()

	var translator translate.Translator
	if c := translate.NewCommand(cfg.TranslateCommand); c != nil {
		translator = translate.NewBounded(c, cfg.TranslateTimeout)
	}

	plans := codex.NewPlanStore()
	runner := codex.NewRunner(cfg.CodexExecutable, plans)
	hub := bridge.NewHub(runner, &bridge.LocalAuthorizer{}, plans, defaults, translator)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: hub.Handler(),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("codex-bridge listening on %s", cfg.ListenAddr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
