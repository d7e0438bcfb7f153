package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/francktshibala/bookbridge/internal/logging"
	"github.com/francktshibala/bookbridge/internal/profile"
	"github.com/francktshibala/bookbridge/internal/version"
	"github.com/francktshibala/bookbridge/server"
	"github.com/francktshibala/bookbridge/store"
	"github.com/francktshibala/bookbridge/store/db"
)

var (
	rootCmd = &cobra.Command{
		Use:   "bookbridge",
		Short: `AI query orchestration for BookBridge: classify, cache, budget and answer learner questions about books.`,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			// Systemd units provide their environment explicitly.
			if !isRunningAsSystemdService() {
				_ = godotenv.Load()
			}
			logger, err := logging.New(viper.GetString("log-level"), viper.GetString("log-format"), os.Stdout)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			return nil
		},
		Run: func(_ *cobra.Command, _ []string) {
			instanceProfile, err := loadProfile()
			if err != nil {
				slog.Error("invalid configuration", "error", err)
				os.Exit(1)
			}

			ctx, cancel := context.WithCancel(context.Background())
			storeInstance, err := openStore(ctx, instanceProfile)
			if err != nil {
				cancel()
				printDatabaseError(err, instanceProfile)
				os.Exit(1)
			}

			s, err := server.NewServer(ctx, instanceProfile, storeInstance)
			if err != nil {
				cancel()
				_ = storeInstance.Close()
				slog.Error("failed to create server", "error", err)
				os.Exit(1)
			}

			c := make(chan os.Signal, 1)
			// SIGTERM is what kill, systemd and Kubernetes send for a graceful stop.
			signal.Notify(c, terminationSignals...)

			if err := s.Start(ctx); err != nil {
				slog.Error("failed to start server", "error", err)
				cancel()
				os.Exit(1)
			}

			printGreetings(instanceProfile)

			go func() {
				<-c
				s.Shutdown(ctx)
				cancel()
			}()

			<-ctx.Done()
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("bookbridge %s (built %s)\n", version.String(), version.BuildTime)
		},
	}

	usageCmd = &cobra.Command{
		Use:   "usage <user-id>",
		Short: "Print today's spend for a user and for the whole system",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			instanceProfile, err := loadProfile()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			storeInstance, err := openStore(ctx, instanceProfile)
			if err != nil {
				printDatabaseError(err, instanceProfile)
				return err
			}
			defer storeInstance.Close()

			date := store.DateOf(time.Now())
			user, err := storeInstance.GetUserUsage(ctx, args[0], date)
			if err != nil {
				return err
			}
			system, err := storeInstance.GetSystemUsage(ctx, date)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"date":             date,
				"user":             user,
				"system":           system,
				"user_limit_usd":   instanceProfile.UserDailyLimitUSD,
				"system_limit_usd": instanceProfile.SystemDailyLimitUSD,
			})
		},
	}
)

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 8787)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 8787, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "usage ledger driver (sqlite, postgres, mongo)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name(aka. DSN)")
	rootCmd.PersistentFlags().String("config-dir", "", "directory with optional models.yaml, pricing.yaml, routing.yaml and tutor_prompts.yaml")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	for _, name := range []string{"mode", "addr", "port", "data", "driver", "dsn", "config-dir", "log-level", "log-format"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("bookbridge")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(versionCmd, usageCmd)
}

func loadProfile() (*profile.Profile, error) {
	instanceProfile := &profile.Profile{
		Mode:      viper.GetString("mode"),
		Addr:      viper.GetString("addr"),
		Port:      viper.GetInt("port"),
		Data:      viper.GetString("data"),
		Driver:    viper.GetString("driver"),
		DSN:       viper.GetString("dsn"),
		ConfigDir: viper.GetString("config-dir"),
		LogLevel:  viper.GetString("log-level"),
		LogFormat: viper.GetString("log-format"),
		Version:   version.Version,
	}
	instanceProfile.FromEnv()
	if err := instanceProfile.Validate(); err != nil {
		return nil, err
	}
	return instanceProfile, nil
}

func openStore(ctx context.Context, instanceProfile *profile.Profile) (*store.Store, error) {
	dbDriver, err := db.NewDBDriver(instanceProfile)
	if err != nil {
		return nil, err
	}
	storeInstance := store.New(dbDriver)
	if err := storeInstance.Migrate(ctx); err != nil {
		_ = storeInstance.Close()
		return nil, err
	}
	return storeInstance, nil
}

func printGreetings(profile *profile.Profile) {
	fmt.Printf("BookBridge %s started successfully!\n", version.String())

	if profile.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
		if profile.DSN != "" && profile.Driver == "sqlite" {
			fmt.Fprintf(os.Stderr, "Ledger: %s\n", profile.DSN)
		}
	}

	fmt.Printf("Ledger driver: %s\n", profile.Driver)
	fmt.Printf("Mode: %s\n", profile.Mode)
	fmt.Printf("Daily limits: $%.2f per user, $%.2f system\n", profile.UserDailyLimitUSD, profile.SystemDailyLimitUSD)
	if profile.RedisURL != "" {
		fmt.Println("Shared cache: redis")
	}

	if len(profile.Addr) == 0 {
		fmt.Printf("Server running on port %d\n", profile.Port)
		fmt.Printf("Query endpoint: http://localhost:%d/api/v1/query\n", profile.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", profile.Addr, profile.Port)
		fmt.Printf("Query endpoint: http://%s:%d/api/v1/query\n", profile.Addr, profile.Port)
	}
}

// isRunningAsSystemdService detects if the process is running under systemd
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

// printDatabaseError provides user-friendly error messages for ledger connection issues
func printDatabaseError(err error, profile *profile.Profile) {
	fmt.Fprintln(os.Stderr, "\nUsage ledger connection failed")

	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "no such host") ||
		strings.Contains(errMsg, "server selection error"):
		fmt.Fprintf(os.Stderr, "\n  The %s server is not reachable. Check --dsn or BOOKBRIDGE_DSN.\n", profile.Driver)
		fmt.Fprintf(os.Stderr, "  For local development use SQLite: --driver=sqlite --data=./data\n")

	case strings.Contains(errMsg, "SSL is not enabled") || strings.Contains(errMsg, "sslmode"):
		fmt.Fprintln(os.Stderr, "\n  PostgreSQL SSL configuration mismatch. Add ?sslmode=disable to the DSN.")

	case strings.Contains(errMsg, "password authentication failed") || strings.Contains(errMsg, "auth"):
		fmt.Fprintln(os.Stderr, "\n  Authentication failed. Check the credentials in the DSN or .env file.")

	default:
		fmt.Fprintln(os.Stderr, "\n  Error:", errMsg)
	}

	if _, statErr := os.Stat(".env"); statErr == nil {
		fmt.Fprintln(os.Stderr, "\n  Found .env file - configuration loaded from current directory.")
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
