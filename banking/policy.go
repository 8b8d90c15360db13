// Package banking keeps the company's bank account funded.
package banking

import (
	"context"
	"encoding/json"
	"fmt"

	"phonesim/config"
	"phonesim/partners"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Settings keys.
const (
	KeyAccountNumber = "bank_account_number"
	KeyLoanNumber    = "loan_number"
	keyLoanPrefix    = "loan_"
)

// Settings is the key/value store the policy persists its state in.
type Settings interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Clock supplies the simulated date loans are recorded under.
type Clock interface {
	DateString() string
}

// Emitter is the interface adapters must satisfy to bridge banking events to the engine.
type Emitter interface {
	EmitLoanTaken(date, loanNumber string, amount decimal.Decimal)
}

// accountHolder is implemented by bank clients that address requests to a
// specific account.
type accountHolder interface {
	SetAccount(account string)
}

type Options struct {
	MinimumBalance  decimal.Decimal
	InitialLoan     decimal.Decimal
	DailyLoanAmount decimal.Decimal
}

func OptionsFromConfig(cfg *config.BankingConfig) Options {
	return Options{
		MinimumBalance:  decimal.NewFromFloat(cfg.MinimumBalance),
		InitialLoan:     decimal.NewFromFloat(cfg.InitialLoan),
		DailyLoanAmount: decimal.NewFromFloat(cfg.DailyLoanAmount),
	}
}

// LoanRecord is what gets stored under loan_<date>.
type LoanRecord struct {
	LoanNumber    string          `json:"loan_number"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
}

type Policy struct {
	bank     partners.Bank
	settings Settings
	clock    Clock
	emitter  Emitter
	opts     Options
	log      logrus.FieldLogger
}

func NewPolicy(bank partners.Bank, settings Settings, clock Clock, emitter Emitter, opts Options, log logrus.FieldLogger) *Policy {
	return &Policy{bank: bank, settings: settings, clock: clock, emitter: emitter, opts: opts, log: log}
}

// InitializeBanking makes sure the company has an account and, if its
// balance is below the minimum, takes the initial loan. It returns the
// account number.
func (p *Policy) InitializeBanking(ctx context.Context) (string, error) {
	account, ok, err := p.settings.GetSetting(ctx, KeyAccountNumber)
	if err != nil {
		return "", fmt.Errorf("banking: read account: %w", err)
	}
	if !ok || account == "" {
		account, err = p.bank.CreateAccount(ctx)
		if err != nil {
			return "", fmt.Errorf("banking: create account: %w", err)
		}
		if err := p.settings.SetSetting(ctx, KeyAccountNumber, account); err != nil {
			return "", fmt.Errorf("banking: save account: %w", err)
		}
		p.log.Infof("banking: opened account %s", account)
	}
	if h, ok := p.bank.(accountHolder); ok {
		h.SetAccount(account)
	}

	balance, err := p.bank.GetBalance(ctx)
	if err != nil {
		return account, fmt.Errorf("banking: read balance: %w", err)
	}
	if !balance.LessThan(p.opts.MinimumBalance) {
		p.log.Infof("banking: balance %s, no initial loan needed", balance)
		return account, nil
	}

	loan, err := p.bank.TakeLoan(ctx, p.opts.InitialLoan)
	if err != nil {
		return account, fmt.Errorf("banking: initial loan: %w", err)
	}
	if err := p.settings.SetSetting(ctx, KeyLoanNumber, loan.LoanNumber); err != nil {
		return account, fmt.Errorf("banking: save loan number: %w", err)
	}
	p.log.Infof("banking: took initial loan %s of %s (balance was %s)", loan.LoanNumber, p.opts.InitialLoan, balance)
	p.emitter.EmitLoanTaken(p.clock.DateString(), loan.LoanNumber, p.opts.InitialLoan)
	return account, nil
}

// RestoreAccount points the bank client at the stored company account
// after a restart. It reports false when no account has been opened yet.
func (p *Policy) RestoreAccount(ctx context.Context) (string, bool, error) {
	account, ok, err := p.settings.GetSetting(ctx, KeyAccountNumber)
	if err != nil || !ok || account == "" {
		return "", false, err
	}
	if h, ok := p.bank.(accountHolder); ok {
		h.SetAccount(account)
	}
	return account, true, nil
}

// PerformDailyBalanceCheck returns the balance the rest of the day should
// plan with. A balance that cannot be read yields zero and no loan. A low
// balance is read a second time before a loan is taken; the result then
// includes the loan.
func (p *Policy) PerformDailyBalanceCheck(ctx context.Context) decimal.Decimal {
	date := p.clock.DateString()
	balance, err := p.bank.GetBalance(ctx)
	if err != nil {
		p.log.Warnf("banking: %s balance unavailable, skipping loan check: %v", date, err)
		return decimal.Zero
	}
	if !balance.LessThan(p.opts.MinimumBalance) {
		return balance
	}

	confirmed, err := p.bank.GetBalance(ctx)
	if err != nil {
		p.log.Warnf("banking: %s balance re-check failed, no loan: %v", date, err)
		return balance
	}
	if !confirmed.LessThan(p.opts.MinimumBalance) {
		p.log.Infof("banking: %s balance recovered to %s", date, confirmed)
		return confirmed
	}

	loan, err := p.bank.TakeLoan(ctx, p.opts.DailyLoanAmount)
	if err != nil {
		p.log.Errorf("banking: %s loan of %s failed: %v", date, p.opts.DailyLoanAmount, err)
		return confirmed
	}
	amount := loan.Amount
	if !amount.IsPositive() {
		amount = p.opts.DailyLoanAmount
	}
	p.recordLoan(ctx, date, LoanRecord{LoanNumber: loan.LoanNumber, Amount: amount, BalanceBefore: confirmed})
	p.log.Infof("banking: %s balance %s below minimum, took loan %s of %s", date, confirmed, loan.LoanNumber, amount)
	p.emitter.EmitLoanTaken(date, loan.LoanNumber, amount)
	return confirmed.Add(amount)
}

func (p *Policy) recordLoan(ctx context.Context, date string, rec LoanRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		p.log.Errorf("banking: encode loan record: %v", err)
		return
	}
	if err := p.settings.SetSetting(ctx, keyLoanPrefix+date, string(data)); err != nil {
		p.log.Errorf("banking: record loan %s: %v", rec.LoanNumber, err)
	}
}

// Loan returns the loan recorded for a simulated date, if any.
func (p *Policy) Loan(ctx context.Context, date string) (*LoanRecord, bool, error) {
	raw, ok, err := p.settings.GetSetting(ctx, keyLoanPrefix+date)
	if err != nil || !ok {
		return nil, false, err
	}
	var rec LoanRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, false, fmt.Errorf("banking: decode loan %s: %w", date, err)
	}
	return &rec, true, nil
}
