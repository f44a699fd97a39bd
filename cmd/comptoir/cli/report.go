// Package cli holds testable helpers for the comptoir operational command.
package cli

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/comptoir-erp/comptoir/internal/money"
	"github.com/comptoir-erp/comptoir/internal/reconcile"
)

// FormatAuditReport renders a payroll audit report as an aligned text table.
func FormatAuditReport(report reconcile.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Payroll audit %s (journal %s)\n\n", report.PeriodRef, report.JournalRef)

	width := len("Category")
	for _, row := range report.Rows {
		if len(row.Label) > width {
			width = len(row.Label)
		}
	}
	fmt.Fprintf(&b, "%-*s %12s %12s %12s\n", width, "Category", "Expected", "Actual", "Delta")
	for _, row := range report.Rows {
		marker := " "
		if !money.ApproxZero(row.Delta) {
			marker = "!"
		}
		fmt.Fprintf(&b, "%-*s %12s %12s %11s%s\n", width, row.Label,
			amountString(row.Expected), amountString(row.Actual), amountString(row.Delta), marker)
	}

	fmt.Fprintf(&b, "\nEntry totals: debit %s / credit %s\n", amountString(report.DebitTotal), amountString(report.CreditTotal))
	if report.Balanced {
		b.WriteString("Entry is balanced.\n")
	} else {
		b.WriteString("Entry is NOT balanced.\n")
	}
	switch report.MismatchCount {
	case 0:
		b.WriteString("All categories reconcile.\n")
	case 1:
		b.WriteString("1 category does not reconcile.\n")
	default:
		fmt.Fprintf(&b, "%d categories do not reconcile.\n", report.MismatchCount)
	}
	return b.String()
}

func amountString(d decimal.Decimal) string {
	return money.Amount(d).StringFixed(money.AmountScale)
}
