package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alexcatdad/nicd/internal/client"
	"github.com/alexcatdad/nicd/internal/settings"
	"github.com/alexcatdad/nicd/internal/wire"
)

type nicctlOptions struct {
	port    int
	timeout time.Duration
}

func (o *nicctlOptions) dial(ctx context.Context) (*client.Client, error) {
	dctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return client.Dial(dctx, client.Addr(o.port))
}

// exchange opens a session, sends msg when it is non-nil and returns the
// next snapshot.
func (o *nicctlOptions) exchange(ctx context.Context, msg wire.Message) (client.Snapshot, error) {
	c, err := o.dial(ctx)
	if err != nil {
		return client.Snapshot{}, err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	if msg == nil {
		return c.Receive(ctx)
	}
	return c.Apply(ctx, msg)
}

// NewNicctlCommand returns the nicctl root command.
func NewNicctlCommand() *cobra.Command {
	opts := &nicctlOptions{}
	cmd := &cobra.Command{
		Use:   "nicctl",
		Short: "Inspect and control a running nicd",
		Long: `nicctl connects to the nicd control port on the loopback interface.
The daemon pushes a state snapshot every few seconds and right after a
setting changes; every command prints the snapshot it receives.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().IntVarP(&opts.port, "port", "p", settings.DefaultTCPListenPort, "nicd control port")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", client.DefaultWait, "how long to wait for a snapshot")

	cmd.AddCommand(
		newStatusCommand(opts),
		newWatchCommand(opts),
		newSetCommand(opts),
		newUpdateDNSCommand(opts),
		newListCommand(opts, "t1", "tier-1 bootstrap resolvers", client.SetTier1, func(s client.Snapshot) []string { return s.Tier1 }),
		newListCommand(opts, "domains", "liveness test domains", client.SetDomains, func(s client.Snapshot) []string { return s.Domains }),
		newVersionCommand("nicctl"),
	)
	return cmd
}

func newStatusCommand(opts *nicctlOptions) *cobra.Command {
	var journal bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the resolver pool, the active cache and the system DNS settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := opts.exchange(cmd.Context(), nil)
			if err != nil {
				return err
			}
			printSnapshot(cmd.OutOrStdout(), snap, journal)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&journal, "journal", "j", false, "include the daemon journal")
	return cmd
}

func newWatchCommand(opts *nicctlOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream the daemon journal until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := opts.dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			w := cmd.OutOrStdout()
			return c.Watch(ctx, func(s client.Snapshot) error {
				for _, line := range s.Journal {
					fmt.Fprintln(w, formatJournalLine(line))
				}
				if s.Notice != "" {
					fmt.Fprintf(w, ">> %s\n", s.Notice)
				}
				return nil
			})
		},
	}
}

func newSetCommand(opts *nicctlOptions) *cobra.Command {
	var (
		cacheSize     int
		refreshPeriod int
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change daemon settings",
		Args:  cobra.NoArgs,
		Example: `  nicctl set --cache-size 5
  nicctl set --refresh-period 0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := wire.Message{}
			if cmd.Flags().Changed("cache-size") {
				msg = merge(msg, client.SetCacheSize(cacheSize))
			}
			if cmd.Flags().Changed("refresh-period") {
				msg = merge(msg, client.SetRefreshPeriod(refreshPeriod))
			}
			if len(msg) == 0 {
				return errors.New("nothing to set: use --cache-size or --refresh-period")
			}
			snap, err := opts.exchange(cmd.Context(), msg)
			if err != nil {
				return err
			}
			printNotice(cmd.OutOrStdout(), snap)
			fmt.Fprintf(cmd.OutOrStdout(), "resolver cache size: %d\nrefresh period: %d min\n", snap.ResolverCacheSize, snap.RefreshPeriod)
			return nil
		},
	}
	cmd.Flags().IntVar(&cacheSize, "cache-size", settings.DefaultResolverCacheSize, "number of resolvers to keep active")
	cmd.Flags().IntVar(&refreshPeriod, "refresh-period", settings.DefaultRefreshPeriod, "minutes between forced refreshes, 0 disables")
	return cmd
}

func merge(dst, src wire.Message) wire.Message {
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func newUpdateDNSCommand(opts *nicctlOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "update-dns",
		Short: "Ask the daemon to re-evaluate the active resolver cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := opts.exchange(cmd.Context(), client.UpdateDNS())
			if err != nil {
				return err
			}
			printList(cmd.OutOrStdout(), "Active resolvers", snap.Cache)
			return nil
		},
	}
}

func newListCommand(opts *nicctlOptions, name, what string, build func([]string) wire.Message, pick func(client.Snapshot) []string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   name,
		Short: "Show or replace the " + what,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := opts.exchange(cmd.Context(), nil)
			if err != nil {
				return err
			}
			for _, entry := range pick(snap) {
				fmt.Fprintln(cmd.OutOrStdout(), entry)
			}
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <entry>...",
		Short: "Replace the " + what,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := opts.exchange(cmd.Context(), build(args))
			if err != nil {
				return err
			}
			printNotice(cmd.OutOrStdout(), snap)
			if strings.HasPrefix(snap.Notice, "There was a problem") {
				return errors.New(snap.Notice)
			}
			return nil
		},
	})
	return cmd
}

func printNotice(w io.Writer, s client.Snapshot) {
	if s.Notice != "" {
		fmt.Fprintf(w, ">> %s\n", s.Notice)
	}
}

func printList(w io.Writer, title string, list []string) {
	fmt.Fprintf(w, "%s (%d):\n", title, len(list))
	for _, entry := range list {
		fmt.Fprintf(w, "  %s\n", entry)
	}
}

func printSnapshot(w io.Writer, s client.Snapshot, journal bool) {
	fmt.Fprintf(w, "Control port:    %d\n", s.ListenPort)
	fmt.Fprintf(w, "Refresh period:  %d min\n", s.RefreshPeriod)
	fmt.Fprintf(w, "Cache size:      %d\n", s.ResolverCacheSize)
	fmt.Fprintln(w)
	printList(w, "Active resolvers", s.Cache)
	printList(w, "Resolver pool", s.Pool)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "System DNS:")
	for _, line := range strings.Split(strings.TrimRight(s.SystemText, "\n"), "\n") {
		fmt.Fprintf(w, "  %s\n", line)
	}
	if journal {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Journal:")
		for _, line := range s.Journal {
			fmt.Fprintf(w, "  %s\n", formatJournalLine(line))
		}
	}
	printNotice(w, s)
}

// formatJournalLine turns "yymmddhhmmss|msg" into "yy-mm-dd hh:mm:ss msg".
// Lines in any other shape are returned unchanged.
func formatJournalLine(line string) string {
	stamp, msg, ok := strings.Cut(line, "|")
	if !ok {
		return line
	}
	t, err := time.Parse("060102150405", stamp)
	if err != nil {
		return line
	}
	return t.Format("06-01-02 15:04:05") + " " + msg
}
