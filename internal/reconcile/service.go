package reconcile

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/comptoir-erp/comptoir/internal/ledger"
	"github.com/comptoir-erp/comptoir/internal/money"
	"github.com/comptoir-erp/comptoir/internal/observability"
)

// Service audits payroll periods against their posted journal entries.
type Service struct {
	repo    Repository
	ledger  ledger.Repository
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewService builds the reconciler.
func NewService(repo Repository, ledgerRepo ledger.Repository, metrics *observability.Metrics, logger *slog.Logger) *Service {
	return &Service{repo: repo, ledger: ledgerRepo, metrics: metrics, logger: logger}
}

// mappedAccounts is the resolved account per payroll code. BenefitInKind is
// optional; every other mapping must exist.
type mappedAccounts struct {
	wagesSalary    int64
	wagesBonus     int64
	employerSocial int64
	netPay         int64
	cnss           int64
	inpp           int64
	onem           int64
	payeTax        int64
	benefitInKind  *int64
}

func resolveAccounts(mappings map[string]AccountMapping) (mappedAccounts, error) {
	resolve := func(code string) (int64, error) {
		m, ok := mappings[code]
		if !ok {
			return 0, &ledger.MissingAccountMappingError{Code: code}
		}
		return m.AccountID, nil
	}
	var accounts mappedAccounts
	var err error
	if accounts.wagesSalary, err = resolve(CodeWagesSalary); err != nil {
		return mappedAccounts{}, err
	}
	if accounts.wagesBonus, err = resolve(CodeWagesBonus); err != nil {
		return mappedAccounts{}, err
	}
	if accounts.employerSocial, err = resolve(CodeEmployerSocial); err != nil {
		return mappedAccounts{}, err
	}
	if accounts.netPay, err = resolve(CodeNetPay); err != nil {
		return mappedAccounts{}, err
	}
	if accounts.cnss, err = resolve(CodeCNSS); err != nil {
		return mappedAccounts{}, err
	}
	if accounts.inpp, err = resolve(CodeINPP); err != nil {
		return mappedAccounts{}, err
	}
	if accounts.onem, err = resolve(CodeONEM); err != nil {
		return mappedAccounts{}, err
	}
	if accounts.payeTax, err = resolve(CodePayeTax); err != nil {
		return mappedAccounts{}, err
	}
	if m, ok := mappings[CodeBenefitInKind]; ok {
		id := m.AccountID
		accounts.benefitInKind = &id
	}
	return accounts, nil
}

// expectedTotals are the category totals implied by the period's payslips.
type expectedTotals struct {
	base, bonus, employerSocial, net          decimal.Decimal
	cnssEmp, cnssEr, onem, inpp, ipr, benefit decimal.Decimal
}

func sumPayslips(slips []Payslip) expectedTotals {
	var t expectedTotals
	for _, slip := range slips {
		t.net = t.net.Add(slip.NetAmount)
		for _, line := range slip.Lines {
			amt := line.Amount
			switch line.Code {
			case LineBase:
				if amt.IsPositive() {
					t.base = t.base.Add(amt)
				}
			case LinePrime:
				if amt.IsPositive() {
					t.bonus = t.bonus.Add(amt)
				}
			case LineCNSSEmp:
				t.cnssEmp = t.cnssEmp.Add(amt.Abs())
			case LineCNSSEr:
				t.cnssEr = t.cnssEr.Add(amt)
				t.employerSocial = t.employerSocial.Add(amt)
			case LineONEM:
				t.onem = t.onem.Add(amt)
				t.employerSocial = t.employerSocial.Add(amt)
			case LineINPP:
				t.inpp = t.inpp.Add(amt)
				t.employerSocial = t.employerSocial.Add(amt)
			case LineIPR:
				t.ipr = t.ipr.Add(amt.Abs())
			case LineAEN:
				if amt.IsPositive() {
					t.benefit = t.benefit.Add(amt)
				}
			}
		}
	}
	return t
}

// Audit loads one payroll period and the journal entry posted from it, then
// compares the two per category. It fails fast on a missing period, a missing
// linked journal, or a broken account mapping rather than producing a report
// from incomplete data.
func (s *Service) Audit(ctx context.Context, periodID uuid.UUID) (Report, error) {
	period, err := s.repo.GetPeriod(ctx, periodID)
	if err != nil {
		return Report{}, err
	}
	entry, err := s.ledger.GetEntryBySource(ctx, sourceTypePayroll, periodID)
	if err != nil {
		return Report{}, err
	}
	mappings, err := s.repo.ListActiveMappings(ctx)
	if err != nil {
		return Report{}, err
	}
	accounts, err := resolveAccounts(mappings)
	if err != nil {
		return Report{}, err
	}

	expected := sumPayslips(period.Payslips)

	sumBy := func(keep func(ledger.Transaction) bool) decimal.Decimal {
		var total decimal.Decimal
		for _, line := range entry.Lines {
			if keep(line) {
				total = total.Add(line.Amount)
			}
		}
		return money.Amount(total)
	}
	debitOn := func(accountID int64) decimal.Decimal {
		return sumBy(func(t ledger.Transaction) bool {
			return t.Direction == ledger.DirectionDebit && t.AccountID == accountID
		})
	}
	creditOn := func(accountID int64) decimal.Decimal {
		return sumBy(func(t ledger.Transaction) bool {
			return t.Direction == ledger.DirectionCredit && t.AccountID == accountID
		})
	}
	cnssBy := func(kind string) decimal.Decimal {
		return sumBy(func(t ledger.Transaction) bool {
			return t.Direction == ledger.DirectionCredit && t.AccountID == accounts.cnss && t.Kind == kind
		})
	}
	benefit := decimal.Zero
	if accounts.benefitInKind != nil {
		benefit = debitOn(*accounts.benefitInKind)
	}

	rows := []Row{
		row("Salary expense (base)", expected.base, debitOn(accounts.wagesSalary)),
		row("Salary expense (bonus)", expected.bonus, debitOn(accounts.wagesBonus)),
		row("Employer social expense", expected.employerSocial, debitOn(accounts.employerSocial)),
		row("Net payable", expected.net, creditOn(accounts.netPay)),
		row("CNSS employee", expected.cnssEmp, cnssBy(KindEmployeeSocial)),
		row("CNSS employer", expected.cnssEr, cnssBy(KindEmployerSocial)),
		row("ONEM", expected.onem, creditOn(accounts.onem)),
		row("INPP", expected.inpp, creditOn(accounts.inpp)),
		row("IPR tax", expected.ipr, creditOn(accounts.payeTax)),
		row("Benefits in kind", expected.benefit, benefit),
	}
	mismatches := 0
	for _, r := range rows {
		if !money.ApproxZero(r.Delta) {
			mismatches++
		}
	}

	debit, credit := entry.Totals()
	report := Report{
		PeriodRef:     period.Ref,
		JournalNumber: entry.Number,
		JournalRef:    entry.Ref(),
		Rows:          rows,
		DebitTotal:    money.Amount(debit),
		CreditTotal:   money.Amount(credit),
		Balanced:      money.ApproxEqual(debit, credit),
		MismatchCount: mismatches,
	}
	s.metrics.AuditRun(report.Balanced)
	if s.logger != nil {
		s.logger.Info("payroll period audited",
			slog.String("period_ref", report.PeriodRef),
			slog.String("journal_ref", report.JournalRef),
			slog.Int("mismatches", report.MismatchCount),
			slog.Bool("balanced", report.Balanced))
	}
	return report, nil
}

func row(label string, expected, actual decimal.Decimal) Row {
	expected = money.Amount(expected)
	return Row{
		Label:    label,
		Expected: expected,
		Actual:   actual,
		Delta:    money.Amount(actual.Sub(expected)),
	}
}
