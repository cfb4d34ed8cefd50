package upload

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/zalando/go-keyring"
)

const KeyringService = "dutyrec"

// Credentials authorize uploads for one identity.
type Credentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RedirectURI  string `json:"redirect_uri"`
	Token        string `json:"token"`
}

func (c Credentials) complete() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.Token != ""
}

var ErrNoCredentials = errors.New("no credentials for identity")

var keyringGet = keyring.Get

// CredentialSource resolves identity N from environment variables
// client_id<N>, client_secret<N>, redirect_uri<N> and token_for_project<N>.
// Missing values fall back to a JSON Credentials blob stored in the OS
// keyring under service "dutyrec", user "identity<N>".
type CredentialSource struct {
	Getenv     func(string) string
	UseKeyring bool
}

func (s CredentialSource) Lookup(identity int) (Credentials, error) {
	getenv := s.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	n := strconv.Itoa(identity)
	c := Credentials{
		ClientID:     strings.TrimSpace(getenv("client_id" + n)),
		ClientSecret: strings.TrimSpace(getenv("client_secret" + n)),
		RedirectURI:  strings.TrimSpace(getenv("redirect_uri" + n)),
		Token:        strings.TrimSpace(getenv("token_for_project" + n)),
	}
	if c.complete() || !s.UseKeyring {
		return c, checkComplete(identity, c)
	}

	raw, err := keyringGet(KeyringService, "identity"+n)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return c, checkComplete(identity, c)
		}
		return c, fmt.Errorf("keyring identity%s: %w", n, err)
	}
	var k Credentials
	if err := json.Unmarshal([]byte(raw), &k); err != nil {
		return c, fmt.Errorf("keyring identity%s: %w", n, err)
	}
	c = merge(c, k)
	return c, checkComplete(identity, c)
}

// StoreInKeyring saves c for identity in the OS keyring.
func StoreInKeyring(identity int, c Credentials) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return keyring.Set(KeyringService, "identity"+strconv.Itoa(identity), string(b))
}

func merge(env, k Credentials) Credentials {
	if env.ClientID == "" {
		env.ClientID = k.ClientID
	}
	if env.ClientSecret == "" {
		env.ClientSecret = k.ClientSecret
	}
	if env.RedirectURI == "" {
		env.RedirectURI = k.RedirectURI
	}
	if env.Token == "" {
		env.Token = k.Token
	}
	return env
}

func checkComplete(identity int, c Credentials) error {
	if c.complete() {
		return nil
	}
	var missing []string
	if c.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "client_secret")
	}
	if c.Token == "" {
		missing = append(missing, "token_for_project")
	}
	return fmt.Errorf("%w %d: missing %s", ErrNoCredentials, identity, strings.Join(missing, ", "))
}
