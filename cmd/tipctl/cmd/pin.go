package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(pinCmd)
	pinCmd.AddCommand(pinStatusCmd)
}

var pinCmd = &cobra.Command{
	Use:   "pin",
	Short: "Inspect the fallback PIN",
}

var pinStatusCmd = &cobra.Command{
	Use:         "status",
	Short:       "Show whether a PIN is set and its lockout state",
	Annotations: map[string]string{needsStore: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := env.pins.Status(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if done, err := printJSON(out, st); done {
			return err
		}
		switch {
		case !st.Set:
			fmt.Fprintln(out, "PIN:      "+warnFmt("not set"))
		case st.LockedUntil != nil:
			fmt.Fprintln(out, "PIN:      "+errFmt("locked"))
			fmt.Fprintf(out, "Unlocks:  %s\n", st.LockedUntil.Local().Format("2006-01-02 15:04:05"))
		default:
			fmt.Fprintln(out, "PIN:      "+okFmt("set"))
		}
		fmt.Fprintf(out, "Attempts: %d remaining\n", st.AttemptsRemaining)
		return nil
	},
}
