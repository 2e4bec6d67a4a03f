package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/remiblancher/tak-trust/internal/server"
)

var (
	serveConfig  string
	serveHost    string
	servePort    int
	serveCert    string
	serveKey     string
	serveCA      string
	serveMutual  bool
	serveReload  bool
	serveVerbose bool
)

func init() {
	serveCmd.Flags().StringVarP(&serveConfig, "config", "c", "", "YAML configuration file")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen address (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides config)")
	serveCmd.Flags().StringVar(&serveCert, "cert", "", "server certificate chain (PEM)")
	serveCmd.Flags().StringVar(&serveKey, "key", "", "server private key (PEM)")
	serveCmd.Flags().StringVar(&serveCA, "ca", "", "client CA bundle (PEM)")
	serveCmd.Flags().BoolVar(&serveMutual, "require-client-cert", false, "require verified client certificates")
	serveCmd.Flags().BoolVar(&serveReload, "reload-certs", false, "watch certificate files and reload on rotation")
	serveCmd.Flags().BoolVarP(&serveVerbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the mutual-TLS listener",
	Long: `Serve assembles the TLS acceptor from the configured certificate
material and listens until interrupted. With require_client_cert set, every
connection must present a certificate verified against the client CA bundle;
without it the listener is server-authenticated only.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := server.DefaultConfig()
		if serveConfig != "" {
			loaded, err := server.LoadConfig(serveConfig)
			if err != nil {
				return err
			}
			cfg = loaded
		}
		// Flags override the file.
		if serveHost != "" {
			cfg.Host = serveHost
		}
		if cmd.Flags().Changed("port") {
			cfg.Port = servePort
		}
		if serveCert != "" {
			cfg.CertFile = serveCert
		}
		if serveKey != "" {
			cfg.KeyFile = serveKey
		}
		if serveCA != "" {
			cfg.CAFile = serveCA
		}
		if cmd.Flags().Changed("require-client-cert") {
			cfg.RequireClientCert = serveMutual
		}
		if cmd.Flags().Changed("reload-certs") {
			cfg.ReloadCerts = serveReload
		}

		level := slog.LevelInfo
		if serveVerbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

		srv, err := server.New(cfg, logger)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return srv.Run(ctx)
	},
}
