package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mcptrust/execgate/internal/eventbus"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the autonomous guardian",
	Long: `Runs the guardian loop in the foreground: every interval it records
health, inspects integrity baselines, scores risk and escalates or recovers
safe mode. Kernel events are printed as they happen. Stops on Ctrl-C.

Examples:
  execgate watch --interval 10s
  execgate watch --once --format json`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var (
	watchIntervalFlag time.Duration
	watchOnceFlag     bool
	watchFormatFlag   string
)

func init() {
	watchCmd.Flags().DurationVar(&watchIntervalFlag, "interval", 0, "Tick interval (overrides guardian.interval)")
	watchCmd.Flags().BoolVar(&watchOnceFlag, "once", false, "Run a single tick and print the status")
	watchCmd.Flags().StringVar(&watchFormatFlag, "format", formatText, "Output format: text or json")
}

func GetWatchCmd() *cobra.Command {
	return watchCmd
}

func runWatch(cmd *cobra.Command, args []string) (err error) {
	if err := checkFormat(watchFormatFlag); err != nil {
		return err
	}
	ctx := cmd.Context()
	if watchIntervalFlag > 0 {
		configFrom(ctx).Guardian.Interval = watchIntervalFlag
	}

	ctx, end := startCommand(ctx, "watch")
	defer func() { end(err) }()

	k, err := openKernel(ctx)
	if err != nil {
		return err
	}
	defer k.Close()

	unsubscribe := k.Bus.Subscribe("kernel.", printEvent)
	defer unsubscribe()

	if watchOnceFlag {
		status := k.Supervisor.Tick(ctx)
		if watchFormatFlag == formatJSON {
			return writeJSON(os.Stdout, status)
		}
		fmt.Printf("ticks=%d violations=%d safe_mode=%s escalations=%d\n",
			status.Ticks, status.Violations, status.SafeModeLevel, status.Escalations)
		if status.LastRisk != nil {
			fmt.Printf("risk=%s score=%d\n", status.LastRisk.Level, status.LastRisk.Score)
		}
		return nil
	}

	if err := k.Supervisor.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	k.Supervisor.Stop()

	status := k.Supervisor.Status()
	fmt.Fprintf(os.Stderr, "guardian stopped after %d tick(s), %d escalation(s), %d recovery(ies)\n",
		status.Ticks, status.Escalations, status.Recoveries)
	return nil
}

func printEvent(evt eventbus.Event) {
	if watchFormatFlag == formatJSON {
		data, err := json.Marshal(evt)
		if err == nil {
			fmt.Println(string(data))
		}
		return
	}
	color := ""
	switch evt.Type {
	case eventbus.TypeGuardianEscalated, eventbus.TypeGuardianTamper, eventbus.TypeTamperDetected, eventbus.TypeFirewallBlocked:
		color = colorRed
	case eventbus.TypeSafeModeActivated, eventbus.TypePredictedOverload:
		color = colorYellow
	}
	payload, _ := json.Marshal(evt.Payload)
	fmt.Printf("%s %s %s\n", evt.Timestamp.Format(time.RFC3339), paint(color, evt.Type), payload)
}
