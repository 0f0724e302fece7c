// Package banklink connects a user's bank account through Plaid Link so
// ACH payments can be drawn from it. Access tokens never leave the secure
// store.
package banklink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/mbd888/tiptap/internal/securestore"
	"github.com/mbd888/tiptap/internal/syncutil"
)

var (
	ErrAlreadyInProgress = errors.New("banklink: a link attempt is already in progress for this user")
	ErrInvalidUserID     = errors.New("banklink: user id is required")
	ErrInvalidToken      = errors.New("banklink: public token is required")
	ErrNotLinked         = errors.New("banklink: item not linked")
)

// LinkToken initializes Plaid Link on the client.
type LinkToken struct {
	Token      string    `json:"linkToken"`
	Expiration time.Time `json:"expiration"`
}

// Account is a bank account under a linked item.
type Account struct {
	ID      string `json:"accountId"`
	Name    string `json:"name"`
	Mask    string `json:"mask"`
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`
}

// Item is a linked institution as shown to callers.
type Item struct {
	ItemID          string    `json:"itemId"`
	InstitutionID   string    `json:"institutionId,omitempty"`
	InstitutionName string    `json:"institutionName,omitempty"`
	Accounts        []Account `json:"accounts"`
	LinkedAt        time.Time `json:"linkedAt"`
}

// storedItem is what the secure store keeps per item.
type storedItem struct {
	Item
	AccessToken string `json:"accessToken"`
}

// PlaidClient is the subset of Plaid the linker uses.
type PlaidClient interface {
	CreateLinkToken(ctx context.Context, userID string) (LinkToken, error)
	ExchangePublicToken(ctx context.Context, publicToken string) (accessToken, itemID string, err error)
	Accounts(ctx context.Context, accessToken string) ([]Account, error)
	RemoveItem(ctx context.Context, accessToken string) error
}

// ExchangeRequest completes a Link session.
type ExchangeRequest struct {
	PublicToken     string `json:"publicToken"`
	InstitutionID   string `json:"institutionId,omitempty"`
	InstitutionName string `json:"institutionName,omitempty"`
}

// Linker runs the link workflow. Each user has at most one link step in
// flight; a concurrent attempt fails fast with ErrAlreadyInProgress.
type Linker struct {
	plaid    PlaidClient
	store    securestore.Store
	password string
	inflight *syncutil.InFlight
	logger   *slog.Logger
	now      func() time.Time
}

// NewLinker creates a linker persisting items in store.
func NewLinker(client PlaidClient, store securestore.Store, password string, logger *slog.Logger) *Linker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Linker{
		plaid:    client,
		store:    store,
		password: password,
		inflight: syncutil.NewInFlight(),
		logger:   logger,
		now:      time.Now,
	}
}

func (l *Linker) begin(userID string) (func(), error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidUserID
	}
	release, ok := l.inflight.TryAcquire(userID)
	if !ok {
		return nil, ErrAlreadyInProgress
	}
	return release, nil
}

// CreateLinkToken starts a Link session for userID.
func (l *Linker) CreateLinkToken(ctx context.Context, userID string) (LinkToken, error) {
	release, err := l.begin(userID)
	if err != nil {
		return LinkToken{}, err
	}
	defer release()

	tok, err := l.plaid.CreateLinkToken(ctx, userID)
	if err != nil {
		return LinkToken{}, err
	}
	l.logger.Info("plaid link token created", "user_id", userID, "expires", tok.Expiration)
	return tok, nil
}

// Exchange trades the public token from Link for an access token, fetches
// the item's accounts and stores the item.
func (l *Linker) Exchange(ctx context.Context, userID string, req ExchangeRequest) (Item, error) {
	if strings.TrimSpace(req.PublicToken) == "" {
		return Item{}, ErrInvalidToken
	}
	release, err := l.begin(userID)
	if err != nil {
		return Item{}, err
	}
	defer release()

	accessToken, itemID, err := l.plaid.ExchangePublicToken(ctx, req.PublicToken)
	if err != nil {
		return Item{}, err
	}
	accounts, err := l.plaid.Accounts(ctx, accessToken)
	if err != nil {
		return Item{}, fmt.Errorf("banklink: item %s linked but accounts unavailable: %w", itemID, err)
	}

	items, err := l.load(ctx, userID)
	if err != nil {
		return Item{}, err
	}
	item := storedItem{
		Item: Item{
			ItemID:          itemID,
			InstitutionID:   req.InstitutionID,
			InstitutionName: req.InstitutionName,
			Accounts:        accounts,
			LinkedAt:        l.now().UTC(),
		},
		AccessToken: accessToken,
	}
	items = slices.DeleteFunc(items, func(s storedItem) bool { return s.ItemID == itemID })
	items = append(items, item)
	if err := l.store.SetSecureObject(ctx, securestore.BankLinkKey(userID), items, l.password); err != nil {
		return Item{}, fmt.Errorf("banklink: store item: %w", err)
	}

	l.logger.Info("bank item linked", "user_id", userID, "item_id", itemID, "accounts", len(accounts))
	return item.Item, nil
}

// Items lists the user's linked items.
func (l *Linker) Items(ctx context.Context, userID string) ([]Item, error) {
	items, err := l.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Item, len(items))
	for i, s := range items {
		out[i] = s.Item
	}
	return out, nil
}

// Unlink removes an item at Plaid and from the store.
func (l *Linker) Unlink(ctx context.Context, userID, itemID string) error {
	release, err := l.begin(userID)
	if err != nil {
		return err
	}
	defer release()

	items, err := l.load(ctx, userID)
	if err != nil {
		return err
	}
	i := slices.IndexFunc(items, func(s storedItem) bool { return s.ItemID == itemID })
	if i < 0 {
		return ErrNotLinked
	}
	if err := l.plaid.RemoveItem(ctx, items[i].AccessToken); err != nil {
		return err
	}
	items = slices.Delete(items, i, i+1)
	key := securestore.BankLinkKey(userID)
	if len(items) == 0 {
		return l.store.RemoveItem(ctx, key)
	}
	return l.store.SetSecureObject(ctx, key, items, l.password)
}

func (l *Linker) load(ctx context.Context, userID string) ([]storedItem, error) {
	items, err := securestore.Load[[]storedItem](ctx, l.store, securestore.BankLinkKey(userID), l.password)
	if errors.Is(err, securestore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("banklink: load items: %w", err)
	}
	return items, nil
}
