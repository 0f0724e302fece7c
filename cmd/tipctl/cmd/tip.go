package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/mbd888/tiptap/internal/tip"
)

var (
	tipPercent  string
	tipCurrency string
	tipRounding string
	tipPeople   int
)

func init() {
	rootCmd.AddCommand(tipCmd)
	tipCmd.AddCommand(tipCalcCmd, tipSplitCmd, tipPresetsCmd)

	for _, c := range []*cobra.Command{tipCalcCmd, tipSplitCmd} {
		c.Flags().StringVarP(&tipPercent, "percent", "p", "18", "Tip percentage")
		c.Flags().StringVarP(&tipCurrency, "currency", "c", "USD", "ISO 4217 currency code")
		c.Flags().StringVar(&tipRounding, "rounding", "nearest", "Rounding: nearest, up, down")
	}
	tipSplitCmd.Flags().IntVarP(&tipPeople, "people", "n", 2, "Number of people")
}

var tipCmd = &cobra.Command{
	Use:   "tip",
	Short: "Compute tips offline",
}

var tipCalcCmd = &cobra.Command{
	Use:   "calc <amount>",
	Short: "Compute the tip and total for a bill",
	Long: `Compute the tip and total for a bill.

Examples:
  tipctl tip calc 42.50
  tipctl tip calc 42.50 -p 20 -c EUR --rounding up`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		calc, err := calculate(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if done, err := printJSON(out, calc); done {
			return err
		}
		fmt.Fprintf(out, "Base:  %s\n", tip.Format(calc.BaseAmount, calc.Currency))
		fmt.Fprintf(out, "Tip:   %s %s\n", tip.Format(calc.TipAmount, calc.Currency), dimFmt("("+calc.TipPercentage.String()+"%)"))
		fmt.Fprintf(out, "Total: %s\n", okFmt(tip.Format(calc.TotalAmount, calc.Currency)))
		return nil
	},
}

var tipSplitCmd = &cobra.Command{
	Use:   "split <amount>",
	Short: "Split a bill with tip between people",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if tipPeople < 1 || tipPeople > tip.MaxSplit {
			return fmt.Errorf("people must be between 1 and %d", tip.MaxSplit)
		}
		calc, err := calculate(args[0])
		if err != nil {
			return err
		}
		shares, err := tip.Split(calc, tipPeople)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if done, err := printJSON(out, shares); done {
			return err
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PERSON\tBASE\tTIP\tTOTAL")
		for i, s := range shares {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i+1, s.BaseAmount.StringFixed(tip.MinorUnits(s.Currency)),
				s.TipAmount.StringFixed(tip.MinorUnits(s.Currency)), s.TotalAmount.StringFixed(tip.MinorUnits(s.Currency)))
		}
		return w.Flush()
	},
}

var tipPresetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List the default tip suggestions",
	RunE: func(cmd *cobra.Command, args []string) error {
		presets := tip.Presets()
		if done, err := printJSON(cmd.OutOrStdout(), presets); done {
			return err
		}
		for _, p := range presets {
			label := p.Label
			if p.Popular {
				label += " " + warnFmt("popular")
			}
			fmt.Fprintln(cmd.OutOrStdout(), label)
		}
		return nil
	},
}

func calculate(amount string) (tip.Calculation, error) {
	base, err := decimal.NewFromString(amount)
	if err != nil {
		return tip.Calculation{}, fmt.Errorf("invalid amount %q", amount)
	}
	pct, err := decimal.NewFromString(tipPercent)
	if err != nil {
		return tip.Calculation{}, fmt.Errorf("invalid percentage %q", tipPercent)
	}
	return tip.Calculate(tip.Input{
		BaseAmount:    base,
		TipPercentage: pct,
		Currency:      tipCurrency,
		Rounding:      tip.ParseRounding(tipRounding),
	})
}
