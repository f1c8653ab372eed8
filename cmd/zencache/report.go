package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/avolkov/zencache/internal/analytics"
	"github.com/avolkov/zencache/internal/ui"
)

var (
	reportPeriod string
	reportSince  string
	reportJSON   bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Analytics reports over the local cache",
	Long: `Run analytics queries against the cached data. No network access.

Periods: month (default), last_month, week, quarter, year, all.
Alternatively --since accepts natural language ("3 months ago",
"last tuesday") and reports from that date through today.`,
}

// reportRange resolves --since / --period into a [from, to] date pair.
// Returns ok=false when no --since was given and the named period should
// be used instead.
func reportRange() (from, to string, ok bool, err error) {
	if reportSince == "" {
		return "", "", false, nil
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(reportSince, time.Now())
	if err != nil {
		return "", "", false, fmt.Errorf("parse --since: %w", err)
	}
	if r == nil {
		return "", "", false, fmt.Errorf("could not understand --since %q", reportSince)
	}
	return r.Time.Format("2006-01-02"), time.Now().Format("2006-01-02"), true, nil
}

// withAnalytics opens the cache and hands an analytics service to fn.
func withAnalytics(cmd *cobra.Command, fn func(*analytics.Service) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cache, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer cache.Close()

	return fn(analytics.New(cache, nil))
}

func emitJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var networthCmd = &cobra.Command{
	Use:   "networth",
	Short: "Net worth across active accounts, in the home currency",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAnalytics(cmd, func(svc *analytics.Service) error {
			report, err := svc.NetWorth(cmd.Context())
			if err != nil {
				return err
			}
			if reportJSON {
				return emitJSON(report)
			}

			fmt.Printf("%s %.2f (currency %d)\n", ui.RenderBold("Net worth:"), report.Total, report.CurrencyID)
			fmt.Printf("   Liquid:  %.2f\n", report.Liquid)
			fmt.Printf("   Savings: %.2f\n", report.Savings)
			if report.Debt != 0 {
				fmt.Printf("   Debt:    %.2f\n", report.Debt)
			}
			for _, acc := range report.Accounts {
				fmt.Printf("   %s %s: %.2f\n", ui.RenderDim(acc.Type), acc.Title, acc.Converted)
			}
			if report.ExcludedArch > 0 {
				fmt.Printf("   %s\n", ui.RenderDim(fmt.Sprintf("(%d archived accounts excluded)", report.ExcludedArch)))
			}
			return nil
		})
	},
}

func flowRunE(income bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return withAnalytics(cmd, func(svc *analytics.Service) error {
			ctx := cmd.Context()

			var report *analytics.FlowReport
			from, to, ok, err := reportRange()
			if err != nil {
				return err
			}
			switch {
			case ok && income:
				report, err = svc.IncomeBetween(ctx, from, to)
			case ok:
				report, err = svc.SpendingBetween(ctx, from, to)
			case income:
				report, err = svc.Income(ctx, reportPeriod)
			default:
				report, err = svc.Spending(ctx, reportPeriod)
			}
			if err != nil {
				return err
			}
			if reportJSON {
				return emitJSON(report)
			}

			label := "Spending"
			if income {
				label = "Income"
			}
			fmt.Printf("%s %s .. %s: %.2f\n", ui.RenderBold(label), report.From, report.To, report.Total)
			for _, cat := range report.Categories {
				fmt.Printf("   %-24s %10.2f  %s\n", cat.Title, cat.Total,
					ui.RenderDim(fmt.Sprintf("(%d tx)", cat.Count)))
			}
			return nil
		})
	}
}

var spendingCmd = &cobra.Command{
	Use:   "spending",
	Short: "Expenses by category over a period",
	RunE:  flowRunE(false),
}

var incomeCmd = &cobra.Command{
	Use:   "income",
	Short: "Income by category over a period",
	RunE:  flowRunE(true),
}

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Planned vs actual per category for a month",
	RunE: func(cmd *cobra.Command, args []string) error {
		month, _ := cmd.Flags().GetString("month")
		return withAnalytics(cmd, func(svc *analytics.Service) error {
			report, err := svc.BudgetHealth(cmd.Context(), month)
			if err != nil {
				return err
			}
			if reportJSON {
				return emitJSON(report)
			}

			fmt.Printf("%s %s\n", ui.RenderBold("Budget month:"), report.Month)
			printBudgetLines("Outcome", report.Outcome)
			printBudgetLines("Income", report.Income)
			return nil
		})
	},
}

func printBudgetLines(label string, lines []analytics.BudgetLine) {
	if len(lines) == 0 {
		return
	}
	fmt.Printf("%s\n", ui.RenderBold(label))
	for _, line := range lines {
		mark := ui.RenderPass("✓")
		if line.OverBudget {
			mark = ui.RenderFail("✗")
		}
		lock := ""
		if line.Locked {
			lock = ui.RenderDim(" [locked]")
		}
		fmt.Printf("   %s %-24s %10.2f / %-10.2f (%.0f%%)%s\n",
			mark, line.Title, line.Actual, line.Planned, line.UsedPercent, lock)
	}
}

var recurringCmd = &cobra.Command{
	Use:   "recurring",
	Short: "Planned payments due in the coming days",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		return withAnalytics(cmd, func(svc *analytics.Service) error {
			payments, err := svc.UpcomingPayments(cmd.Context(), days)
			if err != nil {
				return err
			}
			if reportJSON {
				return emitJSON(payments)
			}

			if len(payments) == 0 {
				fmt.Printf("%s nothing due in the next %d days\n", ui.RenderPass("✓"), days)
				return nil
			}
			fmt.Printf("%s\n", ui.RenderBold(fmt.Sprintf("Due in the next %d days", days)))
			for _, p := range payments {
				amount := p.Outcome
				dir := "-"
				if p.Income > 0 {
					amount, dir = p.Income, "+"
				}
				payee := p.Payee
				if payee == "" {
					payee = "(no payee)"
				}
				fmt.Printf("   %s  %-24s %s%.2f\n", p.Date, payee, dir, amount)
			}
			return nil
		})
	},
}

var anomaliesCmd = &cobra.Command{
	Use:   "anomalies",
	Short: "Expenses far above their category average",
	RunE: func(cmd *cobra.Command, args []string) error {
		sigma, _ := cmd.Flags().GetFloat64("sigma")
		return withAnalytics(cmd, func(svc *analytics.Service) error {
			anomalies, err := svc.Anomalies(cmd.Context(), reportPeriod, sigma)
			if err != nil {
				return err
			}
			if reportJSON {
				return emitJSON(anomalies)
			}

			if len(anomalies) == 0 {
				fmt.Printf("%s no anomalies found\n", ui.RenderPass("✓"))
				return nil
			}
			for _, a := range anomalies {
				fmt.Printf("   %s %s  %.2f  %s\n", ui.RenderWarn("!"), a.Date, a.Amount,
					ui.RenderDim(fmt.Sprintf("%.1fσ above category mean %.2f", a.Deviations, a.CategoryMean)))
			}
			return nil
		})
	},
}

func init() {
	reportCmd.PersistentFlags().StringVar(&reportPeriod, "period", analytics.PeriodMonth,
		"Named period: month, last_month, week, quarter, year, all")
	reportCmd.PersistentFlags().StringVar(&reportSince, "since", "",
		`Natural-language start date ("3 months ago"); overrides --period`)
	reportCmd.PersistentFlags().BoolVar(&reportJSON, "json", false, "Emit JSON instead of text")

	budgetCmd.Flags().String("month", "", "Any date inside the month to report (YYYY-MM-DD)")
	recurringCmd.Flags().Int("days", 30, "Look-ahead window in days")
	anomaliesCmd.Flags().Float64("sigma", 2.0, "Standard deviations above the mean to flag")

	reportCmd.AddCommand(networthCmd, spendingCmd, incomeCmd, budgetCmd, recurringCmd, anomaliesCmd)
	rootCmd.AddCommand(reportCmd)
}
