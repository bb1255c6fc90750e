// Copyright 2024-2026 Aiku AI

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.mau.fi/util/exzerolog"

	"github.com/aiku/mautrix-migrate/pkg/migrate"
)

// defaultConfigName is the credential file looked up in the home directory
// when --config is not given.
const defaultConfigName = ".server_creds.toml"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "mautrix-migrate",
		Short:         "Replicate all rooms from one Matrix homeserver to another",
		Version:       fmt.Sprintf("%s (%s, built %s)", Tag, Commit, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runMigrate,
	}

	flags := cmd.Flags()
	flags.StringP("config", "c", "", "path to the TOML credential file (default ~/"+defaultConfigName+")")
	flags.BoolP("verbose", "V", false, "enable debug logging")

	flags.String("origin-homeserver", "", "origin homeserver URL")
	flags.String("origin-user", "", "origin account MXID")
	flags.String("origin-password", "", "origin account password")
	flags.String("origin-token", "", "origin account access token")
	flags.String("destination-homeserver", "", "destination homeserver URL")
	flags.String("destination-user", "", "destination account MXID")
	flags.String("destination-password", "", "destination account password")
	flags.String("destination-token", "", "destination account access token")

	flags.Bool("copy-media", true, "download and re-upload message attachments")
	flags.StringSlice("room", nil, "only replicate the given room IDs or names (repeatable)")

	return cmd
}

// loadConfig merges the TOML credential file with CLI flag overrides.
// Precedence: flags > file > defaults, matching the original tool's contract.
func loadConfig(cmd *cobra.Command) (*migrate.Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	path, _ := cmd.Flags().GetString("config")
	explicit := path != ""
	if !explicit {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, defaultConfigName)
	}
	v.SetConfigFile(path)

	v.SetDefault("copy_media", true)

	if err := v.ReadInConfig(); err != nil {
		// A missing default file is fine as long as the flags carry full
		// credentials; an explicitly named file must exist.
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	binds := map[string]string{
		"origin.homeserver":      "origin-homeserver",
		"origin.user_id":         "origin-user",
		"origin.password":        "origin-password",
		"origin.token":           "origin-token",
		"destination.homeserver": "destination-homeserver",
		"destination.user_id":    "destination-user",
		"destination.password":   "destination-password",
		"destination.token":      "destination-token",
		"copy_media":             "copy-media",
		"rooms":                  "room",
	}
	for key, flag := range binds {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return nil, err
		}
	}

	var cfg migrate.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	log := zerolog.New(writer).With().Timestamp().Logger().Level(level)
	exzerolog.SetupDefaults(&log)
	return log
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	verbose, _ := cmd.Flags().GetBool("verbose")
	log := newLogger(verbose)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	origin, err := migrate.Login(ctx, cfg.Origin, log.With().Str("side", "origin").Logger())
	if err != nil {
		return err
	}
	defer logout(origin, log)

	dest, err := migrate.Login(ctx, cfg.Destination, log.With().Str("side", "destination").Logger())
	if err != nil {
		return err
	}
	defer logout(dest, log)

	orch, err := migrate.NewOrchestrator(origin, dest, cfg.OrchestratorOptions(), log)
	if err != nil {
		return err
	}

	report, runErr := orch.Run(ctx)
	printReport(cmd.OutOrStdout(), report)
	if runErr != nil && errors.Is(runErr, context.Canceled) {
		log.Warn().Msg("Run interrupted, report covers partial progress")
		return nil
	}
	return runErr
}

// logout invalidates a session with a short deadline of its own, since the
// run context may already be cancelled.
func logout(c migrate.Client, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Logout(ctx); err != nil {
		log.Warn().Err(err).Str("user_id", c.UserID().String()).Msg("Logout failed")
	}
}

func printReport(w io.Writer, r *migrate.Report) {
	fmt.Fprintf(w, "\nRun finished in %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
	fmt.Fprintf(w, "  rooms processed: %d\n", r.RoomsProcessed)
	fmt.Fprintf(w, "  rooms failed:    %d\n", r.RoomsFailed)
	fmt.Fprintf(w, "  events copied:   %d\n", r.EventsCopied)
	fmt.Fprintf(w, "  events skipped:  %d\n", r.EventsSkipped)
	for reason, n := range r.SkippedByReason {
		fmt.Fprintf(w, "    %s: %d\n", reason, n)
	}
	fmt.Fprintf(w, "  events failed:   %d\n", r.EventsFailed)
	for _, f := range r.Failures {
		fmt.Fprintf(w, "    %s %s: %s\n", f.RoomID, f.EventID, f.Reason)
	}
	for _, room := range r.Rooms {
		if room.State == migrate.RoomFailed {
			fmt.Fprintf(w, "  room %s (%s) failed: %s\n", room.OriginID, room.Name, room.Error)
		}
	}
}
