package main

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// ErrBadCredentials is returned for a wrong password or unknown account.
var ErrBadCredentials = errors.New("invalid account name or password")

// Accounts stores account names and bcrypt password hashes, persisted as a
// YAML file so the demo survives restarts without a database.
type Accounts struct {
	mu    sync.Mutex
	path  string
	users map[string]string
}

// LoadAccounts reads the account file, treating a missing file as empty.
func LoadAccounts(path string) (*Accounts, error) {
	a := &Accounts{path: path, users: make(map[string]string)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return a, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading accounts file: %w", err)
	}
	if err := yaml.Unmarshal(data, &a.users); err != nil {
		return nil, fmt.Errorf("parsing accounts file: %w", err)
	}
	return a, nil
}

// Exists reports whether an account with the given name exists.
func (a *Accounts) Exists(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.users[name]
	return ok
}

// Verify checks a password against the stored hash.
//
// Postcondition: Returns nil on a match, ErrBadCredentials otherwise.
func (a *Accounts) Verify(name, password string) error {
	a.mu.Lock()
	hash, ok := a.users[name]
	a.mu.Unlock()
	if !ok {
		return ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrBadCredentials
	}
	return nil
}

// Create registers a new account and persists the store.
//
// Precondition: name must not already exist.
// Postcondition: The account is stored with a bcrypt hash, never plaintext.
func (a *Accounts) Create(name, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.users[name]; ok {
		return fmt.Errorf("account %q already exists", name)
	}
	a.users[name] = string(hash)
	return a.save()
}

// save writes the store to disk. Callers must hold a.mu.
func (a *Accounts) save() error {
	if a.path == "" {
		return nil
	}
	data, err := yaml.Marshal(a.users)
	if err != nil {
		return fmt.Errorf("encoding accounts: %w", err)
	}
	if err := os.WriteFile(a.path, data, 0o600); err != nil {
		return fmt.Errorf("writing accounts file: %w", err)
	}
	return nil
}
