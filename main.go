package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"atrust-autologin/auth"
	"atrust-autologin/config"
	"atrust-autologin/detect"
	"atrust-autologin/keepalive"
	"atrust-autologin/logger"
	"atrust-autologin/netwait"
	"atrust-autologin/pacing"
	"atrust-autologin/portal"
	"atrust-autologin/storage"
)

var (
	configFile string
	verbose    bool
	headless   bool
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "atrust-autologin",
		Short: "Automatic login keeper for aTrust VPN portals",
		Long:  `Keeps an aTrust VPN session alive by driving the SSO login portal in a real browser: it restores saved session state, submits credentials again when the session drops and refreshes the portal on a fixed interval.`,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./config/config.yaml", "Configuration file path")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&headless, "headless", false, "Run browser in headless mode")

	// Add subcommands
	rootCmd.AddCommand(createRunCmd())
	rootCmd.AddCommand(createStatusCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func createRunCmd() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "run",
		Short: "Log in and keep the session alive",
		Long:  `Waits for the local aTrust client, opens the login portal and keeps the session logged in until interrupted. A keepalive interval of zero logs in once and exits.`,
		RunE:  runKeeper,
	}

	return cmd
}

func createStatusCmd() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "status",
		Short: "Show recent session events",
		Long:  `Display recent session events and 24 hour counters from the journal.`,
		RunE:  runStatus,
	}

	return cmd
}

// Command runners

func runKeeper(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := setupLogger(cfg.Logging); err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	log := logger.GetLogger()

	if cmd.Flags().Changed("headless") {
		cfg.Browser.Headless = headless
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Precheck.Enabled {
		log.WithFields(logrus.Fields{
			"host": cfg.Precheck.Host,
			"port": cfg.Precheck.Port,
		}).Info("Waiting for the aTrust client")
		if err := netwait.ForPort(ctx, cfg.Precheck.Host, cfg.Precheck.Port, cfg.Precheck.PollInterval, log); err != nil {
			return fmt.Errorf("aTrust port check aborted: %w", err)
		}
	}

	log.Info("Opening web browser")
	client, err := portal.Connect(cfg.Browser, log)
	if err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer client.Quit()

	// The keeper stays useful without a journal, so an open failure only
	// costs the event history.
	journal, err := storage.OpenJournal(cfg.Storage.JournalPath(), log)
	if err != nil {
		log.WithError(err).Warn("Journal unavailable, events will not be recorded")
	}
	defer journal.Close()
	journal.Record(storage.EventRunStarted, cfg.Portal.Address)

	pacer := pacing.New(cfg.Timing.InputDelay, cfg.Timing.SettleDelay)

	var policy auth.InteractionPolicy = auth.FailingPolicy{}
	if cfg.Session.Interactive {
		policy = &auth.BlockingPolicy{In: os.Stdin, Out: os.Stdout, Log: log}
	}

	manager := auth.NewManager(auth.ManagerConfig{
		Client:        client,
		Flow:          auth.NewFlow(client, pacer, cfg.Selectors, cfg.Timing.ElementWait, log),
		Detector:      detect.New(cfg.Detect),
		Codec:         storage.NewCodec(log),
		Journal:       journal,
		Policy:        policy,
		Pacer:         pacer,
		Log:           log,
		PortalAddress: cfg.Portal.Address,
		ArtifactsPath: cfg.Storage.ArtifactsPath(),
		ElementWait:   cfg.Timing.ElementWait,
		Credentials: auth.Credentials{
			Username: cfg.Portal.Username,
			Password: cfg.Portal.Password,
		},
	})

	loop := keepalive.New(keepalive.Config{
		Session:       manager,
		Client:        client,
		Pacer:         pacer,
		Journal:       journal,
		Log:           log,
		Interval:      cfg.Keepalive.Interval,
		PortalAddress: cfg.Portal.Address,
	})

	return loop.Run(ctx)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := setupLogger(cfg.Logging); err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}

	journal, err := storage.OpenJournal(cfg.Storage.JournalPath(), logger.GetLogger())
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer journal.Close()

	counts, err := journal.CountsSince(time.Now().Add(-24 * time.Hour))
	if err != nil {
		return fmt.Errorf("failed to read journal counters: %w", err)
	}

	events, err := journal.Recent(20)
	if err != nil {
		return fmt.Errorf("failed to read journal events: %w", err)
	}

	// Display status
	fmt.Printf("aTrust Autologin Status\n")
	fmt.Printf("=======================\n\n")
	fmt.Printf("Configuration:\n")
	fmt.Printf("  Config file: %s\n", configFile)
	fmt.Printf("  Portal: %s\n", cfg.Portal.Address)
	fmt.Printf("  Username: %s\n", maskUsername(cfg.Portal.Username))
	fmt.Printf("  Keepalive interval: %s\n", cfg.Keepalive.Interval)
	fmt.Printf("  Data directory: %s\n", cfg.Storage.DataDir)
	fmt.Printf("\n")
	fmt.Printf("Last 24 hours:\n")
	fmt.Printf("  Login attempts: %d\n", counts[storage.EventLoginAttempt])
	fmt.Printf("  Successful logins: %d\n", counts[storage.EventLoginSuccess])
	fmt.Printf("  Failed logins: %d\n", counts[storage.EventLoginFailure])
	fmt.Printf("  Cycle errors: %d\n", counts[storage.EventCycleError])
	fmt.Printf("\n")
	fmt.Printf("Recent events:\n")
	if len(events) == 0 {
		fmt.Printf("  (none)\n")
	}
	for _, ev := range events {
		fmt.Printf("  %s  %-20s", ev.CreatedAt.Local().Format("2006-01-02 15:04:05"), ev.Event)
		if ev.Detail != "" {
			fmt.Printf("  %s", ev.Detail)
		}
		fmt.Printf("\n")
	}

	return nil
}

// Helper functions

func setupLogger(cfg config.LoggingConfig) error {
	level := cfg.Level
	if verbose {
		level = "debug"
	}

	return logger.InitLogger(level, cfg.Format, cfg.Output)
}

func maskUsername(username string) string {
	if username == "" {
		return "(not set)"
	}

	name, domain, isEmail := strings.Cut(username, "@")
	if len(name) <= 2 {
		return username
	}

	masked := name[:2] + strings.Repeat("*", len(name)-2)
	if isEmail {
		return masked + "@" + domain
	}
	return masked
}
