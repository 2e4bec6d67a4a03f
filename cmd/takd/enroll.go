package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/remiblancher/tak-trust/internal/enrollment"
)

var (
	enrollServer     string
	enrollUsername   string
	enrollPassword   string
	enrollCommonName string
	enrollValidity   uint32
	enrollOut        string
	enrollStorePath  string
	enrollInsecure   bool
	enrollTimeout    time.Duration
	enrollVerbose    bool
)

func init() {
	enrollCmd.Flags().StringVar(&enrollServer, "server", "", "server URL (e.g. https://tak.example.com:8446)")
	enrollCmd.Flags().StringVarP(&enrollUsername, "username", "u", "", "enrollment username")
	enrollCmd.Flags().StringVarP(&enrollPassword, "password", "p", "", "enrollment password (or TAKD_PASSWORD)")
	enrollCmd.Flags().StringVar(&enrollCommonName, "common-name", "", "certificate common name (defaults to username)")
	enrollCmd.Flags().Uint32Var(&enrollValidity, "validity-days", enrollment.DefaultValidityDays, "requested certificate validity")
	enrollCmd.Flags().StringVarP(&enrollOut, "out", "o", "", "directory to write cert.pem, key.pem and ca.pem")
	enrollCmd.Flags().StringVar(&enrollStorePath, "store", "", "identity store to record the bundle in")
	enrollCmd.Flags().BoolVar(&enrollInsecure, "insecure", false, "skip server certificate verification")
	enrollCmd.Flags().DurationVar(&enrollTimeout, "timeout", 60*time.Second, "overall enrollment timeout")
	enrollCmd.Flags().BoolVarP(&enrollVerbose, "verbose", "v", false, "debug logging")

	enrollCmd.MarkFlagRequired("server")
	enrollCmd.MarkFlagRequired("username")

	rootCmd.AddCommand(enrollCmd)
}

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Enroll this device and obtain a client certificate bundle",
	Long: `Enroll generates a fresh keypair, submits a certificate signing request
to the server's signing endpoint using the supplied credentials and writes
the signed certificate, private key and CA bundle as PEM files.

The password is taken from --password or, if unset, from the TAKD_PASSWORD
environment variable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		password := enrollPassword
		if password == "" {
			password = os.Getenv("TAKD_PASSWORD")
		}
		if password == "" {
			return fmt.Errorf("no password: set --password or TAKD_PASSWORD")
		}

		level := slog.LevelWarn
		if enrollVerbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

		client := enrollment.NewHTTPClient(enrollment.HTTPClientConfig{
			Timeout:            enrollTimeout,
			InsecureSkipVerify: enrollInsecure,
			Logger:             logger,
		})

		req := enrollment.Request{
			ServerURL:    enrollServer,
			Username:     enrollUsername,
			Password:     password,
			ValidityDays: enrollValidity,
			CommonName:   enrollCommonName,
		}
		if err := req.Validate(); err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), enrollTimeout)
		defer cancel()

		bundle, err := client.Enroll(ctx, req)
		if err != nil {
			return fmt.Errorf("enrollment failed: %w", err)
		}

		fmt.Printf("Enrolled against %s:%d\n", bundle.ServerHost, bundle.ServerPort)

		if enrollOut != "" {
			if err := writeBundle(enrollOut, bundle); err != nil {
				return err
			}
			fmt.Printf("Identity written to %s\n", enrollOut)
		}

		if enrollStorePath != "" {
			if err := recordBundle(enrollStorePath, bundle); err != nil {
				return err
			}
			fmt.Printf("Identity recorded in %s\n", enrollStorePath)
		}

		return nil
	},
}

// writeBundle lays the PEM material out on disk. The key is written 0600,
// everything else 0644.
func writeBundle(dir string, b *enrollment.Bundle) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "cert.pem"), []byte(b.CertPEM), 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "key.pem"), []byte(b.KeyPEM), 0o600); err != nil {
		return err
	}
	if b.CAPEM != nil {
		if err := os.WriteFile(filepath.Join(dir, "ca.pem"), []byte(*b.CAPEM), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func recordBundle(path string, b *enrollment.Bundle) error {
	store, err := enrollment.OpenStore(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Put(enrollment.ResultFromBundle(b))
}
