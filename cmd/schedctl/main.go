// Command schedctl answers scheduling questions offline from JSON files:
// free slots, recurrence expansion, day conflicts and dry-run bookings.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/wolfman30/therapy-scheduling/internal/app/bootstrap"
	"github.com/wolfman30/therapy-scheduling/internal/availability"
	appconfig "github.com/wolfman30/therapy-scheduling/internal/config"
	"github.com/wolfman30/therapy-scheduling/internal/scheduler"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds what every subcommand needs, built once the config is loaded.
type app struct {
	engine   *scheduler.Engine
	defaults availability.Defaults
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "schedctl",
		Short:        "Therapy scheduling calculations over local JSON files",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(appconfig.Load())
		},
	}
	root.AddCommand(slotsCmd(a))
	root.AddCommand(expandCmd(a))
	root.AddCommand(conflictsCmd(a))
	root.AddCommand(scheduleCmd(a))
	return root
}

func (a *app) init(cfg *appconfig.Config) error {
	engineCfg, err := bootstrap.SchedulerConfig(cfg)
	if err != nil {
		return err
	}
	defaults, err := bootstrap.ScheduleDefaults(cfg)
	if err != nil {
		return err
	}
	a.engine = scheduler.NewEngine(engineCfg, nil)
	a.defaults = defaults
	return nil
}
