package address

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"finitefield.org/fashion-web/internal/auth"
	"finitefield.org/fashion-web/internal/notify"
	"finitefield.org/fashion-web/internal/storeapi"
)

var (
	// ErrUnauthenticated is returned when no customer is signed in.
	ErrUnauthenticated = errors.New("address: sign in required")
	// ErrIDRequired is returned when an operation needs an address id.
	ErrIDRequired = errors.New("address: id is required")

	errBookAPIRequired = errors.New("address: api is required")
)

const (
	msgSaved         = "Address saved."
	msgDeleted       = "Address removed."
	msgDefaultSet    = "Default address updated."
	msgSaveFailed    = "We couldn't save your address. Please try again."
	msgDeleteFailed  = "We couldn't remove this address. Please try again."
	msgLoadFailed    = "We couldn't load your addresses."
	msgSignInToEdit  = "Please sign in to manage your addresses."
	msgCheckThisForm = "Please check the %s field."
)

// API is the subset of the storefront API used by the address book.
type API interface {
	ListAddresses(ctx context.Context) ([]storeapi.Address, error)
	CreateAddress(ctx context.Context, addr storeapi.Address) (storeapi.Address, error)
	UpdateAddress(ctx context.Context, addr storeapi.Address) (storeapi.Address, error)
	SetDefaultAddress(ctx context.Context, addressID string) (storeapi.Address, error)
	DeleteAddress(ctx context.Context, addressID string) error
}

// BookDeps wires the collaborators of a Book.
type BookDeps struct {
	API      API
	User     *auth.User
	Notifier notify.Notifier
	Logger   *zap.Logger
}

// Book manages the saved addresses of the signed-in customer. Failures are reported both as an
// error notification and as a returned error.
type Book struct {
	api      API
	user     *auth.User
	notifier notify.Notifier
	logger   *zap.Logger
}

// NewBook validates deps and builds a Book.
func NewBook(deps BookDeps) (*Book, error) {
	if deps.API == nil {
		return nil, errBookAPIRequired
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.Discard{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Book{api: deps.API, user: deps.User, notifier: notifier, logger: logger}, nil
}

// List returns the saved addresses, default first, then most recently updated.
func (b *Book) List(ctx context.Context) ([]storeapi.Address, error) {
	if err := b.requireUser(); err != nil {
		return nil, err
	}
	list, err := b.api.ListAddresses(ctx)
	if err != nil {
		return nil, b.fail("list", msgLoadFailed, err)
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].IsDefault != list[j].IsDefault {
			return list[i].IsDefault
		}
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
	return list, nil
}

// Save creates the address when it has no id and updates it otherwise.
func (b *Book) Save(ctx context.Context, in Input) (storeapi.Address, error) {
	if err := b.requireUser(); err != nil {
		return storeapi.Address{}, err
	}
	addr, err := Normalize(in)
	if err != nil {
		b.notifier.Error(fmt.Sprintf(msgCheckThisForm, FieldOf(err)))
		return storeapi.Address{}, err
	}

	var saved storeapi.Address
	if addr.ID == "" {
		saved, err = b.api.CreateAddress(ctx, addr)
	} else {
		saved, err = b.api.UpdateAddress(ctx, addr)
	}
	if err != nil {
		return storeapi.Address{}, b.fail("save", msgSaveFailed, err)
	}
	if in.MakeDefault && !saved.IsDefault {
		if saved, err = b.api.SetDefaultAddress(ctx, saved.ID); err != nil {
			return storeapi.Address{}, b.fail("set default", msgSaveFailed, err)
		}
	}
	b.notifier.Success(msgSaved)
	return saved, nil
}

// SetDefault marks the address as the default one.
func (b *Book) SetDefault(ctx context.Context, addressID string) (storeapi.Address, error) {
	if err := b.requireUser(); err != nil {
		return storeapi.Address{}, err
	}
	addressID = strings.TrimSpace(addressID)
	if addressID == "" {
		return storeapi.Address{}, ErrIDRequired
	}
	addr, err := b.api.SetDefaultAddress(ctx, addressID)
	if err != nil {
		return storeapi.Address{}, b.fail("set default", msgSaveFailed, err)
	}
	b.notifier.Success(msgDefaultSet)
	return addr, nil
}

// Delete removes the address.
func (b *Book) Delete(ctx context.Context, addressID string) error {
	if err := b.requireUser(); err != nil {
		return err
	}
	addressID = strings.TrimSpace(addressID)
	if addressID == "" {
		return ErrIDRequired
	}
	if err := b.api.DeleteAddress(ctx, addressID); err != nil {
		return b.fail("delete", msgDeleteFailed, err)
	}
	b.notifier.Success(msgDeleted)
	return nil
}

func (b *Book) requireUser() error {
	if b.user == nil {
		b.notifier.Warning(msgSignInToEdit)
		return ErrUnauthenticated
	}
	return nil
}

func (b *Book) fail(op, message string, err error) error {
	b.logger.Warn("address: "+op+" failed", zap.String("userID", b.user.ID), zap.Error(err))
	b.notifier.Error(message)
	return fmt.Errorf("address: %s: %w", op, err)
}
