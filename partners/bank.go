package partners

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// BankClient talks to the commercial bank on behalf of one company account.
type BankClient struct {
	c *Client

	mu      sync.RWMutex
	account string
}

func NewBankClient(baseURL string, timeout time.Duration) *BankClient {
	return &BankClient{c: NewClient("bank", baseURL, timeout)}
}

// SetAccount binds the client to an existing account number.
func (b *BankClient) SetAccount(account string) {
	b.mu.Lock()
	b.account = account
	b.mu.Unlock()
}

func (b *BankClient) Account() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.account
}

type bankAccountResponse struct {
	AccountNumber string `json:"account_number"`
}

func (b *BankClient) CreateAccount(ctx context.Context) (string, error) {
	var resp bankAccountResponse
	if err := b.c.post(ctx, "/account", map[string]any{}, &resp); err != nil {
		return "", err
	}
	if resp.AccountNumber == "" {
		return "", fmt.Errorf("bank create account: %w: empty account number", ErrRejected)
	}
	b.SetAccount(resp.AccountNumber)
	return resp.AccountNumber, nil
}

type bankBalanceResponse struct {
	Balance *decimal.Decimal `json:"balance"`
}

// GetBalance fails when the bank omits the balance. Callers never see a
// guessed zero.
func (b *BankClient) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	acct := b.Account()
	if acct == "" {
		return decimal.Zero, fmt.Errorf("bank balance: no account")
	}
	var resp bankBalanceResponse
	if err := b.c.get(ctx, "/account/"+url.PathEscape(acct)+"/balance", &resp); err != nil {
		return decimal.Zero, err
	}
	if resp.Balance == nil {
		return decimal.Zero, fmt.Errorf("bank balance: %w: missing balance", ErrRejected)
	}
	return *resp.Balance, nil
}

type bankLoanRequest struct {
	AccountNumber string  `json:"account_number"`
	Amount        float64 `json:"amount"`
}

type bankLoanResponse struct {
	Success    bool   `json:"success"`
	LoanNumber string `json:"loan_number"`
}

func (b *BankClient) TakeLoan(ctx context.Context, amount decimal.Decimal) (LoanResult, error) {
	var resp bankLoanResponse
	req := bankLoanRequest{AccountNumber: b.Account(), Amount: amount.InexactFloat64()}
	if err := b.c.post(ctx, "/loan", req, &resp); err != nil {
		return LoanResult{}, err
	}
	if !resp.Success {
		return LoanResult{}, fmt.Errorf("bank loan: %w", ErrRejected)
	}
	return LoanResult{LoanNumber: resp.LoanNumber, Amount: amount}, nil
}

type bankTransactionRequest struct {
	FromAccount string  `json:"from_account_number"`
	ToAccount   string  `json:"to_account_number"`
	ToBank      string  `json:"to_bank_name"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
	Reference   string  `json:"reference"`
}

type bankTransactionResponse struct {
	Success           bool   `json:"success"`
	TransactionNumber string `json:"transaction_number"`
	Status            string `json:"status"`
}

func (b *BankClient) CreateTransaction(ctx context.Context, req TransferRequest) (TransferResult, error) {
	body := bankTransactionRequest{
		FromAccount: b.Account(),
		ToAccount:   req.ToAccount,
		ToBank:      req.ToBank,
		Amount:      req.Amount.InexactFloat64(),
		Description: req.Description,
		Reference:   req.IdempotencyKey,
	}
	var resp bankTransactionResponse
	if err := b.c.postKeyed(ctx, "/transaction", req.IdempotencyKey, body, &resp); err != nil {
		return TransferResult{}, err
	}
	if !resp.Success || strings.EqualFold(resp.Status, "failed") {
		return TransferResult{}, fmt.Errorf("bank transaction: %w: status %q", ErrRejected, resp.Status)
	}
	return TransferResult{TransactionNumber: resp.TransactionNumber, Status: resp.Status}, nil
}
