package internal

import (
	"context"
	"net/http"
	"net/url"

	"expenso/internal/storage"
)

func apiSignup(ctx context.Context, client *http.Client, baseURL, username, password string) error {
	payload := map[string]string{"username": username, "password": password}
	return doJSONRequest(ctx, client, http.MethodPost, baseURL+"/signup", "", payload, nil)
}

func apiLogin(ctx context.Context, client *http.Client, baseURL, username, password string) (*loginResponse, error) {
	payload := map[string]string{"username": username, "password": password}
	var resp loginResponse
	if err := doJSONRequest(ctx, client, http.MethodPost, baseURL+"/login", "", payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func apiLogout(ctx context.Context, client *http.Client, baseURL, token string) error {
	return doJSONRequest(ctx, client, http.MethodPost, baseURL+"/logout", token, nil, nil)
}

type expenseListResponse struct {
	Expenses []storage.Expense `json:"expenses"`
}

type budgetStatusResponse struct {
	Month  string                    `json:"month"`
	Status []storage.BudgetStatusRow `json:"status"`
}

type addExpenseRequest struct {
	Category    string `json:"category"`
	AmountCents int64  `json:"amount_cents"`
	Note        string `json:"note,omitempty"`
}

// FinanceAPI is the REST client for the ledger endpoints, sharing the bearer
// token with the directory client.
type FinanceAPI struct {
	baseURL string
	tokens  TokenSource
	client  *http.Client
}

func NewFinanceAPI(baseURL string, tokens TokenSource) *FinanceAPI {
	return &FinanceAPI{
		baseURL: baseURL,
		tokens:  tokens,
		client:  &http.Client{Timeout: httpTimeout},
	}
}

func (f *FinanceAPI) ListExpenses(ctx context.Context, month string) ([]storage.Expense, error) {
	var resp expenseListResponse
	path := "/api/expenses?month=" + url.QueryEscape(month)
	if err := f.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Expenses, nil
}

func (f *FinanceAPI) AddExpense(ctx context.Context, category string, amountCents int64, note string) (storage.Expense, error) {
	var expense storage.Expense
	req := addExpenseRequest{Category: category, AmountCents: amountCents, Note: note}
	if err := f.do(ctx, http.MethodPost, "/api/expenses", req, &expense); err != nil {
		return storage.Expense{}, err
	}
	return expense, nil
}

func (f *FinanceAPI) BudgetStatus(ctx context.Context, month string) ([]storage.BudgetStatusRow, error) {
	var resp budgetStatusResponse
	path := "/api/budgets/status?month=" + url.QueryEscape(month)
	if err := f.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Status, nil
}

func (f *FinanceAPI) do(ctx context.Context, method, path string, payload, out interface{}) error {
	token, err := f.tokens.Token(ctx)
	if err != nil {
		return err
	}
	if token == "" {
		return errUnauthorized
	}
	return doJSONRequest(ctx, f.client, method, f.baseURL+path, token, payload, out)
}
