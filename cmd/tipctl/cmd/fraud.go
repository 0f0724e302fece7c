package cmd

import (
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mbd888/tiptap/internal/validation"
)

var historyLimit int

func init() {
	rootCmd.AddCommand(fraudCmd)
	fraudCmd.AddCommand(fraudHistoryCmd, fraudBlockedCmd, fraudBlockCmd, fraudUnblockCmd)
	fraudHistoryCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of attempts to show")
}

var fraudCmd = &cobra.Command{
	Use:   "fraud",
	Short: "Manage the fraud blocklist and history",
}

var fraudHistoryCmd = &cobra.Command{
	Use:         "history",
	Short:       "List recent payment attempts, newest first",
	Annotations: map[string]string{needsStore: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		attempts, err := env.detector.History(cmd.Context())
		if err != nil {
			return err
		}
		slices.Reverse(attempts)
		if historyLimit > 0 && len(attempts) > historyLimit {
			attempts = attempts[:historyLimit]
		}
		out := cmd.OutOrStdout()
		if done, err := printJSON(out, attempts); done {
			return err
		}
		if len(attempts) == 0 {
			fmt.Fprintln(out, dimFmt("no attempts recorded"))
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tTRANSACTION\tAMOUNT\tMERCHANT\tDEVICE")
		for _, a := range attempts {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", a.Timestamp.Local().Format("2006-01-02 15:04:05"),
				a.TransactionID, a.Amount.String(), a.MerchantID, a.Fingerprint.DeviceID)
		}
		return w.Flush()
	},
}

var fraudBlockedCmd = &cobra.Command{
	Use:         "blocked",
	Short:       "List blocked devices",
	Annotations: map[string]string{needsStore: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		set, err := env.detector.BlockedDevices(cmd.Context())
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		out := cmd.OutOrStdout()
		if done, err := printJSON(out, ids); done {
			return err
		}
		for _, id := range ids {
			fmt.Fprintln(out, id)
		}
		return nil
	},
}

var fraudBlockCmd = &cobra.Command{
	Use:         "block <device-id>",
	Short:       "Block a device from making payments",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{needsStore: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if !validation.IsValidID(args[0]) {
			return fmt.Errorf("invalid device id %q", args[0])
		}
		if err := env.detector.BlockDevice(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", errFmt("blocked"), args[0])
		return nil
	},
}

var fraudUnblockCmd = &cobra.Command{
	Use:         "unblock <device-id>",
	Short:       "Remove a device from the blocklist",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{needsStore: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := env.detector.UnblockDevice(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okFmt("unblocked"), args[0])
		return nil
	},
}
