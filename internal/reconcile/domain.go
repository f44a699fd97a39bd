// Package reconcile compares subledger totals against the general ledger
// entries they were posted from and reports per-category deltas.
package reconcile

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Source type of the journal entry a payroll period posts to.
const sourceTypePayroll = "PAYROLL"

// Account mapping codes resolved against the mapping table.
const (
	CodeWagesSalary    = "WAGES_NATIONAL_SALARIES"
	CodeWagesBonus     = "WAGES_NATIONAL_BONUS"
	CodeEmployerSocial = "EMPLOYER_CONTRIB_NATIONAL"
	CodeNetPay         = "NET_PAY"
	CodeCNSS           = "CNSS"
	CodeINPP           = "INPP"
	CodeONEM           = "ONEM"
	CodePayeTax        = "PAYE_TAX"
	CodeBenefitInKind  = "BENEFIT_IN_KIND"
)

// Payslip line codes produced by the payroll computation.
const (
	LineBase    = "BASE"
	LinePrime   = "PRIME"
	LineCNSSEmp = "CNSS_EMP"
	LineCNSSEr  = "CNSS_ER"
	LineONEM    = "ONEM"
	LineINPP    = "INPP"
	LineIPR     = "IPR"
	LineAEN     = "AEN"
)

// Transaction kinds splitting the shared CNSS account between the employee
// withholding and the employer contribution.
const (
	KindEmployeeSocial = "EMPLOYEE_SOCIAL_WITHHOLDING"
	KindEmployerSocial = "EMPLOYER_SOCIAL_WITHHOLDING"
)

// AccountMapping binds one payroll code to a GL account. Only active rows
// take part in resolution.
type AccountMapping struct {
	Code      string
	AccountID int64
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PayrollPeriod is the subledger side of the audit: one closed period with
// its computed payslips.
type PayrollPeriod struct {
	ID       uuid.UUID
	Ref      string
	Payslips []Payslip
}

// Payslip carries the per-employee net plus its component lines.
type Payslip struct {
	ID        int64
	NetAmount decimal.Decimal
	Lines     []PayslipLine
}

// PayslipLine is one payroll component. Deductions carry negative amounts.
type PayslipLine struct {
	Code   string
	Amount decimal.Decimal
}

// Row is one audited category: what the payslips imply versus what the
// journal entry actually carries.
type Row struct {
	Label    string
	Expected decimal.Decimal
	Actual   decimal.Decimal
	Delta    decimal.Decimal
}

// Report is the outcome of auditing one payroll period against its journal
// entry. Balanced tracks the entry's debit/credit equality and is independent
// of the per-category deltas.
type Report struct {
	PeriodRef     string
	JournalNumber int64
	JournalRef    string
	Rows          []Row
	DebitTotal    decimal.Decimal
	CreditTotal   decimal.Decimal
	Balanced      bool
	MismatchCount int
}
