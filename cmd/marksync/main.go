package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/marksync/marksync/internal/attachment"
	"github.com/marksync/marksync/internal/config"
	"github.com/marksync/marksync/internal/engine"
	"github.com/marksync/marksync/internal/remote"
	"github.com/marksync/marksync/internal/scope"
	"github.com/marksync/marksync/internal/state"
	"github.com/marksync/marksync/internal/version"
)

var (
	home, _ = os.UserHomeDir()

	// errRunNotClean marks a completed run with conflicts or failures; the
	// report is already printed, only the exit code matters.
	errRunNotClean = errors.New("sync completed with conflicts or failures")
)

var rootCmd = &cobra.Command{
	Use:           "marksync",
	Short:         "Sync Markdown files with a remote document store",
	Version:       version.Detailed(),
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(cmd)
		return loadConfig(cmd)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.SortFlags = false
	pf.StringP("config", "c", config.DefaultConfigPath, "config file")
	pf.String("url", "", "remote store base URL")
	pf.String("token", "", "remote store API token")
	pf.StringP("dir", "d", ".", "local sync root")
	pf.IntP("jobs", "j", 4, "concurrent page workers")
	pf.StringArray("exclude", nil, "glob pattern excluded from sync (repeatable)")
	pf.Bool("no-attachments", false, "skip the attachment pass")
	pf.Bool("dry-run", false, "classify without writing anything")
	pf.BoolP("verbose", "v", false, "debug logging")

	for _, cmd := range []*cobra.Command{pullCmd, pushCmd, watchCmd} {
		cmd.Flags().SortFlags = false
		cmd.Flags().String("page", "", "sync a single page by id")
		cmd.Flags().String("subtree", "", "sync a page and all its descendants")
		cmd.Flags().String("space", "", "sync every page in a space")
		rootCmd.AddCommand(cmd)
	}
	pullCmd.Flags().Bool("force", false, "overwrite local edits on conflict")
	pullCmd.Flags().Bool("prune", false, "drop sync records for pages no longer in the scope")
	pushCmd.Flags().Bool("force", false, "push over a remote that advanced")
	watchCmd.Flags().Duration("interval", 30*time.Second, "poll interval")
}

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Sync remote content into the local directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd, func(ctx context.Context, e *engine.Engine, target scope.Target) (*engine.Report, error) {
			return e.Pull(ctx, target)
		})
	},
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Sync local edits to the remote store",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd, func(ctx context.Context, e *engine.Engine, target scope.Target) (*engine.Report, error) {
			return e.Push(ctx, target)
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Pull the target scope on an interval until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		return runSync(cmd, func(ctx context.Context, e *engine.Engine, target scope.Target) (*engine.Report, error) {
			err := e.Watch(ctx, target, interval)
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			return nil, err
		})
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errRunNotClean) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func setupLogging(cmd *cobra.Command) {
	level := slog.LevelInfo
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})
	slog.SetDefault(slog.New(handler))
}

func loadConfig(cmd *cobra.Command) error {
	if cmd.Flags().Changed("config") {
		path, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(path)
	} else {
		viper.AddConfigPath(filepath.Join(home, ".marksync"))
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, os.ErrNotExist) && !errors.As(err, &notFound) {
			return fmt.Errorf("config read %q: %w", viper.ConfigFileUsed(), err)
		}
	}

	viper.BindPFlag("base_url", cmd.Flags().Lookup("url"))
	viper.BindPFlag("token", cmd.Flags().Lookup("token"))
	viper.BindPFlag("dir", cmd.Flags().Lookup("dir"))
	viper.BindPFlag("workers", cmd.Flags().Lookup("jobs"))
	viper.BindPFlag("exclude", cmd.Flags().Lookup("exclude"))

	viper.SetEnvPrefix("MARKSYNC")
	viper.AutomaticEnv()
	return nil
}

func buildConfig() (*config.Config, error) {
	cfg := &config.Config{
		BaseURL:   viper.GetString("base_url"),
		Token:     viper.GetString("token"),
		Dir:       viper.GetString("dir"),
		StatePath: viper.GetString("state_path"),
		Workers:   viper.GetInt("workers"),
		Excludes:  viper.GetStringSlice("exclude"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func targetFromFlags(cmd *cobra.Command) (scope.Target, error) {
	page, _ := cmd.Flags().GetString("page")
	subtree, _ := cmd.Flags().GetString("subtree")
	space, _ := cmd.Flags().GetString("space")

	set := 0
	for _, v := range []string{page, subtree, space} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return scope.Target{}, fmt.Errorf("exactly one of --page, --subtree, --space is required")
	}
	switch {
	case page != "":
		return scope.SinglePage(page), nil
	case subtree != "":
		return scope.Subtree(subtree), nil
	default:
		return scope.Space(space), nil
	}
}

func runSync(cmd *cobra.Command, op func(context.Context, *engine.Engine, scope.Target) (*engine.Report, error)) error {
	cfg, err := buildConfig()
	if err != nil {
		return err
	}
	target, err := targetFromFlags(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	store, err := remote.NewClient(cfg.BaseURL, cfg.Token)
	if err != nil {
		return err
	}

	st := state.NewStore(cfg.ResolvedStatePath())
	if err := st.Open(); err != nil {
		return err
	}
	defer st.Close()

	ignore := scope.NewIgnoreList(cfg.Dir, cfg.Excludes)
	ignore.Load()
	resolver := scope.NewResolver(store, ignore)

	skipAtt, _ := cmd.Flags().GetBool("no-attachments")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	force := false
	if cmd.Flags().Lookup("force") != nil {
		force, _ = cmd.Flags().GetBool("force")
	}
	prune := false
	if cmd.Flags().Lookup("prune") != nil {
		prune, _ = cmd.Flags().GetBool("prune")
	}

	if n, err := st.Count(); err == nil {
		slog.Debug("state store ready", "path", cfg.ResolvedStatePath(), "pages", n)
	}

	e := engine.New(store, st, resolver, ignore, cfg.Dir, engine.Options{
		Workers:         cfg.Workers,
		Force:           force,
		SkipAttachments: skipAtt,
		DryRun:          dryRun,
		Prune:           prune,
	})

	report, err := op(cmd.Context(), e, target)
	if report != nil {
		printReport(report)
		if err == nil && !report.Success() {
			return errRunNotClean
		}
	}
	return err
}

func printReport(report *engine.Report) {
	for _, p := range report.Pages {
		line := fmt.Sprintf("%-10s %s", p.Outcome, p.LocalPath)
		if p.Title != "" {
			line += fmt.Sprintf("  (%s)", p.Title)
		}
		fmt.Println(line)
		if p.Err != nil {
			if p.Transient {
				fmt.Printf("           error (transient, retry may succeed): %v\n", p.Err)
			} else {
				fmt.Printf("           error: %v\n", p.Err)
			}
		}
		if c := p.Conflict; c != nil {
			fmt.Printf("           local v%d (%s) vs remote v%d (%s)\n",
				c.LocalVersion, short(c.LocalHash), c.RemoteVersion, short(c.RemoteHash))
		}
		for _, w := range p.Warnings {
			fmt.Printf("           warning: %s: %s\n", w.Macro, w.Detail)
		}
		for _, a := range p.Attachments {
			if a.State == attachment.Unchanged && a.Err == nil {
				continue
			}
			fmt.Printf("           attachment %s: %s", a.Filename, a.State)
			if a.Err != nil {
				fmt.Printf(" (%v)", a.Err)
			}
			fmt.Println()
		}
	}
	counts := report.Counts()
	fmt.Printf("%s %s: %d created, %d updated, %d unchanged, %d conflict, %d failed (%s)\n",
		report.Op, report.Target,
		counts[engine.OutcomeCreated], counts[engine.OutcomeUpdated], counts[engine.OutcomeUnchanged],
		counts[engine.OutcomeConflict], counts[engine.OutcomeFailed],
		report.Finished.Sub(report.Started).Round(time.Millisecond))
}

func short(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
