// greenthumbd runs the plant-watering reminder daemon.
//
// Usage:
//
//	greenthumbd [--config PATH] <command>
//
// Commands:
//
//	serve      Run the daemon (schedule registry + reminder dispatch)
//	remind     Run one reminder batch across all users and exit
//	reconcile  Rebuild the schedule table once and print the result
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"greenthumb/internal/app"
)

// version is set via ldflags at build time.
var version = "dev"

func main() {
	var cfgPath string

	rootCmd := &cobra.Command{
		Use:           "greenthumbd",
		Short:         "greenthumbd — plant watering reminder daemon",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")

	rootCmd.AddCommand(
		newServeCmd(&cfgPath),
		newRemindCmd(&cfgPath),
		newReconcileCmd(&cfgPath),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newServeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the reminder daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.NewApp(*cfgPath)
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				return err
			}

			<-ctx.Done()

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			if err := a.Stop(stopCtx, app.StopSIGTERM); err != nil {
				return err
			}
			return a.Err()
		},
	}
}

func newRemindCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "remind",
		Short: "Run one reminder batch across all users and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.NewApp(*cfgPath)
			if err != nil {
				return err
			}
			rep := a.Reminders().RunRemindersNow(ctx)

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			_ = a.Stop(stopCtx, app.StopAppStop)

			if rep.Skipped {
				return fmt.Errorf("reminder run skipped: %s", rep.Reason)
			}
			fmt.Printf("run %s: evaluated=%d due=%d sent=%d failed=%d unknown=%d invalid=%d\n",
				rep.RunID, rep.Evaluated, rep.Due, rep.Sent, rep.Failed, rep.Unknown, rep.Invalid)
			if rep.Failed > 0 {
				return fmt.Errorf("%d reminder(s) failed to send", rep.Failed)
			}
			return nil
		},
	}
}

func newReconcileCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Rebuild the schedule table once and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.NewApp(*cfgPath)
			if err != nil {
				return err
			}
			rep, err := a.Reminders().Reconcile(ctx)

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			_ = a.Stop(stopCtx, app.StopAppStop)

			if err != nil {
				return err
			}
			if rep.Skipped {
				return fmt.Errorf("reconcile skipped: %s", rep.Reason)
			}
			fmt.Printf("run %s: users=%d scheduled=%d invalid_pref=%d\n",
				rep.RunID, rep.Users, rep.Scheduled, rep.InvalidPref)
			return nil
		},
	}
}
