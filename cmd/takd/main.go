// Command takd is the trust bootstrap daemon and enrollment tool for TAK
// deployments: it runs the mutual-TLS listener and enrolls devices against
// a server's certificate-signing endpoint.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build-time variables (injected by GoReleaser)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "takd",
	Short: "TAK trust bootstrap - device enrollment and mutual-TLS listener",
	Long: `takd establishes the trust boundary of a TAK deployment.

The serve command runs the server-side listener: it assembles a mutual-TLS
acceptor from PEM certificate material once at startup and rejects every
peer that does not present a certificate chaining to the configured CA.

The enroll command is the device side: it exchanges operator credentials
for a signed client certificate bundle and stores the resulting identity.

Examples:
  # Run the listener with mutual TLS
  takd serve --config /etc/takd/takd.yaml

  # Enroll a device and write the identity bundle
  takd enroll --server https://tak.example.com:8446 --username alice --out ./identity`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
}
