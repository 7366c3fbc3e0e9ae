package cmd

import (
	"context"
	"net"
	"os"

	"github.com/metal-toolbox/toolshed/internal/app"
	"github.com/metal-toolbox/toolshed/internal/bmc"
	"github.com/metal-toolbox/toolshed/internal/helpers"
	"github.com/metal-toolbox/toolshed/internal/inventory"
	"github.com/metal-toolbox/toolshed/internal/model"
	"github.com/metal-toolbox/toolshed/internal/netscan"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// ipListFile is where the addresses of the matched BMCs are written.
	ipListFile string
	// dryRun stops after the targets are planned.
	dryRun bool
	// bmcConcurrency is the number of BMCs operated on at once.
	bmcConcurrency int
)

var cmdBMC = &cobra.Command{
	Use:   "bmc",
	Short: "Find BMCs in an address range by MAC address and change their ADMIN password",
}

var cmdBMCSetPassword = &cobra.Command{
	Use:   "set-password <inventory> <password-file> <start-ip> <end-ip>",
	Short: "Set the ADMIN password of the inventory BMCs in the address range to the password file contents",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := fileExists(args[0], "inventory"); err != nil {
			return err
		}

		password, err := bmc.ReadPasswordFile(args[1])
		if err != nil {
			return err
		}

		return runBMC(cmd, args[0], args[2], args[3], func(a *app.App) bmc.Operation {
			return bmc.NewPasswordSetter(password, a.Config.BMC.Drivers, a.Config.BMC.ProviderTimeout, a.Logger)
		})
	},
}

var cmdBMCResetAdmin = &cobra.Command{
	Use:   "reset-admin <inventory> <start-ip> <end-ip>",
	Short: "Restore the factory defaults of the inventory BMCs in the address range, resetting the ADMIN password",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := fileExists(args[0], "inventory"); err != nil {
			return err
		}

		return runBMC(cmd, args[0], args[1], args[2], func(a *app.App) bmc.Operation {
			return bmc.NewFactoryResetter(a.Config.BMC.IPMIToolPath, bmc.ExecRunner, a.Logger)
		})
	},
}

func runBMC(cmd *cobra.Command, inventoryFile, startIP, endIP string, newOp func(*app.App) bmc.Operation) error {
	toolshed, err := newApp(cmd.Context(), model.AppKindBMC)
	if err != nil {
		return err
	}

	defer toolshed.Close()

	ctx, cancel := toolshed.Context(cmd.Context())
	defer cancel()

	cfg := toolshed.Config.BMC

	if cmd.Flags().Changed("ip-list") || cfg.IPListFile == "" {
		cfg.IPListFile = ipListFile
	}

	if cmd.Flags().Changed("concurrency") {
		cfg.Concurrency = bmcConcurrency
	}

	inv, err := inventory.Load(inventoryFile)
	if err != nil {
		return err
	}

	ips, err := netscan.ParseRange(startIP, endIP, cfg.Sweep.MaxAddresses)
	if err != nil {
		return err
	}

	targets := planTargets(ctx, toolshed, &cfg, ips, inv)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if err := bmc.WriteIPList(cfg.IPListFile, targets); err != nil {
		return errors.Wrap(err, "write IP list")
	}

	toolshed.Logger.WithFields(logrus.Fields{
		"targets": len(targets),
		"file":    cfg.IPListFile,
	}).Info("IP list written")

	if dryRun || len(targets) == 0 {
		return nil
	}

	report := bmc.NewRunner(cfg.Concurrency, toolshed.Logger).Run(ctx, targets, newOp(toolshed))
	report.Print(cmd.OutOrStdout())

	return report.Err()
}

func planTargets(ctx context.Context, toolshed *app.App, cfg *app.BMCOptions, ips []net.IP, inv *inventory.Inventory) []bmc.Target {
	pinger := &netscan.ICMPPinger{
		Count:      cfg.Sweep.PingCount,
		Timeout:    cfg.Sweep.PingTimeout,
		Privileged: cfg.Sweep.Privileged,
	}

	alive := netscan.NewSweeper(pinger, cfg.Sweep.Workers, toolshed.Logger).Sweep(ctx, ips)

	primer := &netscan.ICMPPinger{
		Count:      1,
		Timeout:    cfg.Sweep.PingTimeout,
		Privileged: cfg.Sweep.Privileged,
	}

	ipToMAC := netscan.NewResolver(primer, toolshed.Logger).ResolveAll(ctx, alive)

	targets := bmc.Plan(ipToMAC, inv, toolshed.Logger.WithField("component", "bmc.plan"))

	helpers.DumpDebugFile("bmc-targets.dump", ipToMAC)

	return targets
}

func fileExists(path, what string) error {
	if _, err := os.Stat(path); err != nil {
		return errors.Wrap(errParseCLIParam, what+" file: "+err.Error())
	}

	return nil
}

func init() {
	cmdBMC.PersistentFlags().StringVar(&ipListFile, "ip-list", "ip.txt", "file the matched BMC addresses are written to")
	cmdBMC.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "stop after the BMCs are matched and the IP list is written")
	cmdBMC.PersistentFlags().IntVar(&bmcConcurrency, "concurrency", 1, "number of BMCs operated on at once")

	cmdBMC.AddCommand(cmdBMCSetPassword, cmdBMCResetAdmin)
	RootCmd.AddCommand(cmdBMC)
}
