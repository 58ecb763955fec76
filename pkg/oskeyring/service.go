package oskeyring

import (
	"errors"
	"fmt"
	"sync"

	keyringlib "github.com/zalando/go-keyring"
)

// ServiceName is the keyring service all staffsync secrets live under.
const ServiceName = "staffsync"

// Keyring users for the registry API keys.
const (
	RegistryAPIKey       = "registry-api-key"
	RegistryLegacyAPIKey = "registry-legacy-api-key"
)

// KnownUsers lists the keyring users the CLI manages.
var KnownUsers = []string{RegistryAPIKey, RegistryLegacyAPIKey}

// ErrNotFound is returned by Get when no secret is stored.
var ErrNotFound = errors.New("secret not found in keyring")

// Service reads and writes secrets in a keyring.
type Service interface {
	// Get returns ErrNotFound when nothing is stored for service and user.
	Get(service, user string) (string, error)
	Set(service, user, password string) error
	// Delete does not fail when nothing is stored.
	Delete(service, user string) error
}

// DefaultService talks to the operating system keyring.
type DefaultService struct{}

func NewDefaultService() *DefaultService {
	return &DefaultService{}
}

func (s *DefaultService) Get(service, user string) (string, error) {
	secret, err := keyringlib.Get(service, user)
	if err != nil {
		if errors.Is(err, keyringlib.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get secret from OS keyring: %w", err)
	}
	return secret, nil
}

func (s *DefaultService) Set(service, user, password string) error {
	return keyringlib.Set(service, user, password)
}

func (s *DefaultService) Delete(service, user string) error {
	err := keyringlib.Delete(service, user)
	if errors.Is(err, keyringlib.ErrNotFound) {
		return nil
	}
	return err
}

var _ Service = (*DefaultService)(nil)

// MemoryService keeps secrets in memory. Used by tests and --no-keyring runs.
type MemoryService struct {
	mu    sync.RWMutex
	store map[string]map[string]string
}

func NewMemoryService() *MemoryService {
	return &MemoryService{store: make(map[string]map[string]string)}
}

func (s *MemoryService) Get(service, user string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if secret, ok := s.store[service][user]; ok {
		return secret, nil
	}
	return "", ErrNotFound
}

func (s *MemoryService) Set(service, user, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.store[service]; !ok {
		s.store[service] = make(map[string]string)
	}
	s.store[service][user] = password
	return nil
}

func (s *MemoryService) Delete(service, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if users, ok := s.store[service]; ok {
		delete(users, user)
		if len(users) == 0 {
			delete(s.store, service)
		}
	}
	return nil
}

var _ Service = (*MemoryService)(nil)

// Fill returns current when it is set, otherwise the secret stored for user
// under ServiceName. A missing secret yields "" and no error.
func Fill(svc Service, user, current string) (string, error) {
	if current != "" || svc == nil {
		return current, nil
	}
	secret, err := svc.Get(ServiceName, user)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("keyring %s: %w", user, err)
	}
	return secret, nil
}

// IsKnownUser reports whether user is one of KnownUsers.
func IsKnownUser(user string) bool {
	for _, u := range KnownUsers {
		if u == user {
			return true
		}
	}
	return false
}
