package banklink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/plaid/plaid-go/v20/plaid"
)

// PlaidConfig holds API credentials.
type PlaidConfig struct {
	ClientID    string
	Secret      string
	Environment string // sandbox or production
	ClientName  string
}

// Validate checks the credentials are usable.
func (c PlaidConfig) Validate() error {
	switch {
	case c.ClientID == "":
		return errors.New("banklink: plaid client id is required")
	case c.Secret == "":
		return errors.New("banklink: plaid secret is required")
	case c.Environment != "sandbox" && c.Environment != "production":
		return fmt.Errorf("banklink: invalid plaid environment %q", c.Environment)
	}
	return nil
}

// PlaidAPI implements PlaidClient with the Plaid REST API.
type PlaidAPI struct {
	client     *plaid.APIClient
	clientName string
	logger     *slog.Logger
}

// NewPlaidAPI creates a Plaid client.
func NewPlaidAPI(cfg PlaidConfig, logger *slog.Logger) (*PlaidAPI, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClientName == "" {
		cfg.ClientName = "TipTap"
	}

	configuration := plaid.NewConfiguration()
	configuration.AddDefaultHeader("PLAID-CLIENT-ID", cfg.ClientID)
	configuration.AddDefaultHeader("PLAID-SECRET", cfg.Secret)
	switch cfg.Environment {
	case "sandbox":
		configuration.UseEnvironment(plaid.Sandbox)
	case "production":
		configuration.UseEnvironment(plaid.Production)
	}

	return &PlaidAPI{
		client:     plaid.NewAPIClient(configuration),
		clientName: cfg.ClientName,
		logger:     logger.With("component", "plaid"),
	}, nil
}

func (p *PlaidAPI) CreateLinkToken(ctx context.Context, userID string) (LinkToken, error) {
	request := plaid.NewLinkTokenCreateRequest(
		p.clientName,
		"en",
		[]plaid.CountryCode{plaid.COUNTRYCODE_US},
		plaid.LinkTokenCreateRequestUser{ClientUserId: userID},
	)
	request.SetProducts([]plaid.Products{plaid.PRODUCTS_AUTH})

	resp, _, err := p.client.PlaidApi.LinkTokenCreate(ctx).LinkTokenCreateRequest(*request).Execute()
	if err != nil {
		return LinkToken{}, plaidErr("create link token", err)
	}
	return LinkToken{Token: resp.GetLinkToken(), Expiration: resp.GetExpiration()}, nil
}

func (p *PlaidAPI) ExchangePublicToken(ctx context.Context, publicToken string) (accessToken, itemID string, err error) {
	request := plaid.NewItemPublicTokenExchangeRequest(publicToken)
	resp, _, err := p.client.PlaidApi.ItemPublicTokenExchange(ctx).ItemPublicTokenExchangeRequest(*request).Execute()
	if err != nil {
		return "", "", plaidErr("exchange public token", err)
	}
	return resp.GetAccessToken(), resp.GetItemId(), nil
}

func (p *PlaidAPI) Accounts(ctx context.Context, accessToken string) ([]Account, error) {
	request := plaid.NewAccountsGetRequest(accessToken)
	resp, _, err := p.client.PlaidApi.AccountsGet(ctx).AccountsGetRequest(*request).Execute()
	if err != nil {
		return nil, plaidErr("get accounts", err)
	}
	accounts := make([]Account, 0, len(resp.GetAccounts()))
	for _, a := range resp.GetAccounts() {
		accounts = append(accounts, Account{
			ID:      a.GetAccountId(),
			Name:    a.GetName(),
			Mask:    a.GetMask(),
			Type:    string(a.GetType()),
			Subtype: string(a.GetSubtype()),
		})
	}
	return accounts, nil
}

func (p *PlaidAPI) RemoveItem(ctx context.Context, accessToken string) error {
	request := plaid.NewItemRemoveRequest(accessToken)
	if _, _, err := p.client.PlaidApi.ItemRemove(ctx).ItemRemoveRequest(*request).Execute(); err != nil {
		return plaidErr("remove item", err)
	}
	return nil
}

// plaidErr surfaces Plaid's error code when the response carried one.
func plaidErr(op string, err error) error {
	if pe, convErr := plaid.ToPlaidError(err); convErr == nil {
		return &APIError{Op: op, Code: pe.ErrorCode, Message: pe.ErrorMessage}
	}
	return fmt.Errorf("banklink: %s: %w", op, err)
}

// APIError is an error reported by Plaid.
type APIError struct {
	Op      string
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("banklink: %s: plaid %s: %s", e.Op, e.Code, e.Message)
}

var _ PlaidClient = (*PlaidAPI)(nil)
