// Package identity tracks the signed-in user for upload attribution.
package identity

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/timeleak/timeleakd/internal/storage"
)

// User identifies the account data is uploaded for.
type User struct {
	UID         string
	PhoneNumber string
}

// Provider reports the current user. CurrentUser returns (nil, nil)
// when nobody is signed in; sync treats that as "not authenticated",
// not as an error.
type Provider interface {
	CurrentUser(ctx context.Context) (*User, error)
}

// StateProvider keeps the signed-in user cached in local state.
type StateProvider struct {
	state  storage.StateStore
	logger zerolog.Logger
}

// NewStateProvider creates a provider over the state store.
func NewStateProvider(state storage.StateStore, logger zerolog.Logger) *StateProvider {
	return &StateProvider{
		state:  state,
		logger: logger.With().Str("component", "identity").Logger(),
	}
}

// CurrentUser returns the cached user, or (nil, nil) when signed out.
func (p *StateProvider) CurrentUser(ctx context.Context) (*User, error) {
	uid, err := p.state.GetString(ctx, storage.KeyUID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	phone, err := p.state.GetString(ctx, storage.KeyPhoneNumber)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	return &User{UID: uid, PhoneNumber: phone}, nil
}

// SetUser caches a signed-in user.
func (p *StateProvider) SetUser(ctx context.Context, user User) error {
	if user.UID == "" {
		return errors.New("identity: uid is required")
	}
	if err := p.state.PutString(ctx, storage.KeyUID, user.UID); err != nil {
		return err
	}
	if err := p.state.PutString(ctx, storage.KeyPhoneNumber, user.PhoneNumber); err != nil {
		return err
	}
	p.logger.Info().Str("uid", user.UID).Msg("User signed in")
	return nil
}

// ClearUser signs the user out. Goal and baseline state belong to the
// account, so sign-out clears them too.
func (p *StateProvider) ClearUser(ctx context.Context) error {
	for _, key := range []string{
		storage.KeyUID,
		storage.KeyPhoneNumber,
		storage.KeyGoalTime,
		storage.KeyBaseline,
		storage.KeyBaselineSet,
	} {
		if err := p.state.Delete(ctx, key); err != nil {
			return err
		}
	}
	p.logger.Info().Msg("User signed out")
	return nil
}
