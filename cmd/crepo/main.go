package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"crepo/internal/app"
	"crepo/internal/config"
	"crepo/internal/cr"
)

// EnvPassphrase supplies the snapshot key passphrase without a prompt.
const EnvPassphrase = "CREPO_PASSPHRASE"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "crepo",
		Short:        "Central repository for cross-case correlation",
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolP("verbose", "v", false, "Log debug output")

	root.AddCommand(
		newConfigCmd(),
		newDBCmd(),
		newCaseCmd(),
		newLookupCmd(),
		newTagCmd(),
		newRefsetCmd(),
		newTypesCmd(),
		newBackupCmd(),
	)
	return root
}

func loadConfig() (*config.Config, string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults.ConfigPath, nil
}

// run builds an App for one command, calls fn and tears the App down. When open
// is set the repository must exist at the current schema before fn runs.
func run(cmd *cobra.Command, operation string, open bool, fn func(ctx context.Context, a *app.App) error) (err error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	verbose, _ := cmd.Flags().GetBool("verbose")

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, operation, verbose)
	if err != nil {
		return fmt.Errorf("initializing app: %w", err)
	}
	stopMetrics := serveMetrics(cfg.Metrics.Listen, a.Registry(), a.Logger())
	defer func() {
		a.Finish(err)
		stopMetrics()
		if cerr := a.Close(); err == nil {
			err = cerr
		}
	}()

	if open {
		if err := a.Open(ctx); err != nil {
			return err
		}
	}
	return fn(ctx, a)
}

// serveMetrics exposes reg on addr/metrics until the returned func is called.
// An empty addr disables the listener.
func serveMetrics(addr string, reg *prometheus.Registry, log cr.Logger) func() {
	if addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics listener stopped", "addr", addr, "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

// readSecret prompts on stderr and reads a line without echo when stdin is a
// terminal.
func readSecret(in io.Reader, prompt string) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading input: %w", err)
		}
		return string(b), nil
	}
	return readLine(in)
}

// readLine reads up to the next newline one byte at a time so that successive
// prompts on the same reader each get their own line.
func readLine(in io.Reader) (string, error) {
	var sb strings.Builder
	buf := make([]byte, 1)
	for {
		n, err := in.Read(buf)
		if n == 1 {
			if buf[0] == '\n' {
				break
			}
			sb.WriteByte(buf[0])
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("reading input: %w", err)
		}
	}
	return strings.TrimRight(sb.String(), "\r"), nil
}

func envPassphraseSet() bool { return os.Getenv(EnvPassphrase) != "" }

// passphrase returns CREPO_PASSPHRASE when set, otherwise prompts for it.
func passphrase(cmd *cobra.Command, prompt string) (string, error) {
	if v := os.Getenv(EnvPassphrase); v != "" {
		return v, nil
	}
	return readSecret(cmd.InOrStdin(), prompt)
}
