package reporting

import (
	"errors"
	"fmt"

	"github.com/goSprinto/stethoscope-app/internal/settings"
)

const (
	tokenKey     = "auth.accessToken"
	firstNameKey = "auth.firstName"
)

// Credentials keeps the access token handed over by the app.
type Credentials struct {
	store settings.Store
}

func NewCredentials(store settings.Store) *Credentials {
	return &Credentials{store: store}
}

// Token returns the stored access token or ErrNotAuthenticated.
func (c *Credentials) Token() (string, error) {
	tok, err := c.store.Get(tokenKey)
	if errors.Is(err, settings.ErrNotFound) || (err == nil && tok == "") {
		return "", ErrNotAuthenticated
	}
	if err != nil {
		return "", fmt.Errorf("read access token: %w", err)
	}
	return tok, nil
}

// Connected reports whether a token is stored.
func (c *Credentials) Connected() bool {
	_, err := c.Token()
	return err == nil
}

// FirstName is the profile name given at connect time.
func (c *Credentials) FirstName() string {
	name, _ := c.store.Get(firstNameKey)
	return name
}

// Connect stores a new token and profile name.
func (c *Credentials) Connect(accessToken, firstName string) error {
	if accessToken == "" {
		return errors.New("empty access token")
	}
	if err := c.store.Set(tokenKey, accessToken); err != nil {
		return fmt.Errorf("store access token: %w", err)
	}
	if err := c.store.Set(firstNameKey, firstName); err != nil {
		return fmt.Errorf("store profile: %w", err)
	}
	return nil
}

// Disconnect forgets the token and profile.
func (c *Credentials) Disconnect() error {
	if err := c.store.Delete(tokenKey); err != nil {
		return fmt.Errorf("delete access token: %w", err)
	}
	if err := c.store.Delete(firstNameKey); err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	return nil
}
