package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/alexcatdad/nicd/internal/client"
	"github.com/alexcatdad/nicd/internal/paths"
	"github.com/alexcatdad/nicd/internal/settings"
	"github.com/alexcatdad/nicd/internal/setup"
)

// check is one diagnostic: ok reports the outcome, msg what was found.
type check func(ctx context.Context) (ok bool, msg string)

func newDoctorCommand(opts *nicdOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostics to check that nicd is installed and answering",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := opts.config()
			if err != nil {
				return err
			}
			return runDoctor(cmd.Context(), cmd.OutOrStdout(), doctorChecks(config.Paths, config.Port))
		},
	}
}

func doctorChecks(p *paths.Paths, port int) []check {
	return []check{
		doctorCheckService,
		doctorCheckDNS,
		func(context.Context) (bool, string) { return doctorCheckSettings(p) },
		func(ctx context.Context) (bool, string) { return doctorCheckControlPort(ctx, p, port) },
	}
}

func runDoctor(ctx context.Context, w io.Writer, checks []check) error {
	fmt.Fprintln(w, "nicd doctor")
	fmt.Fprintln(w, "===========")
	failed := 0
	for _, c := range checks {
		ok, msg := c(ctx)
		mark := "✓"
		if !ok {
			mark = "✗"
			failed++
		}
		fmt.Fprintf(w, "  %s %s\n", mark, msg)
	}
	fmt.Fprintln(w, "")
	if failed > 0 {
		fmt.Fprintf(w, "%d check(s) failed.\n", failed)
		return fmt.Errorf("%d doctor check(s) failed", failed)
	}
	fmt.Fprintln(w, "All checks passed.")
	return nil
}

func doctorCheckService(context.Context) (bool, string) {
	path := setup.ServicePath()
	if path == "" {
		return false, "service install not supported on this platform"
	}
	if _, err := os.Stat(path); err != nil {
		return false, fmt.Sprintf("service not installed (%s), run: sudo nicd setup", path)
	}
	return true, fmt.Sprintf("service installed (%s)", path)
}

func doctorCheckSettings(p *paths.Paths) (bool, string) {
	s, err := settings.NewStore(p.SettingsPath).Load()
	if err != nil {
		return false, fmt.Sprintf("settings unreadable: %v", err)
	}
	return true, fmt.Sprintf("settings ok (cache %d, refresh every %d min)", s.ResolverCacheSize, s.RefreshTimerPeriod)
}

func doctorCheckControlPort(ctx context.Context, p *paths.Paths, port int) (bool, string) {
	if port == 0 {
		s, _ := settings.NewStore(p.SettingsPath).Load()
		port = s.TCPListenPort
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	c, err := client.Dial(ctx, client.Addr(port))
	if err != nil {
		if errors.Is(err, client.ErrNotRunning) {
			return false, fmt.Sprintf("daemon not answering on port %d", port)
		}
		return false, fmt.Sprintf("control port %d: %v", port, err)
	}
	c.Close()
	return true, fmt.Sprintf("daemon answering on port %d", port)
}
