package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

var ErrNoCredentials = errors.New("no stored credentials")

type Credentials struct {
	Token string `yaml:"token"`
	Name  string `yaml:"name"`
}

// CredentialStore persists the signed-in session. One backing is chosen at
// startup.
type CredentialStore interface {
	Load() (Credentials, error)
	Save(Credentials) error
	Clear() error
}

// NewCredentialStore returns the store named by backend: "memory" or "file".
func NewCredentialStore(backend, path string) (CredentialStore, error) {
	switch backend {
	case "memory":
		return &MemoryCredentials{}, nil
	case "file", "":
		if path == "" {
			return nil, errors.New("credentials: file backend needs a path")
		}
		return &FileCredentials{Path: path}, nil
	default:
		return nil, fmt.Errorf("credentials: unknown backend %q", backend)
	}
}

type MemoryCredentials struct {
	mu    sync.Mutex
	creds *Credentials
}

func (m *MemoryCredentials) Load() (Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds == nil || m.creds.Token == "" {
		return Credentials{}, ErrNoCredentials
	}
	return *m.creds, nil
}

func (m *MemoryCredentials) Save(c Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = &c
	return nil
}

func (m *MemoryCredentials) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = nil
	return nil
}

// FileCredentials keeps credentials in a YAML file readable by the owner only.
type FileCredentials struct {
	Path string
}

func (f *FileCredentials) Load() (Credentials, error) {
	b, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return Credentials{}, ErrNoCredentials
	}
	if err != nil {
		return Credentials{}, err
	}
	var c Credentials
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Credentials{}, fmt.Errorf("credentials %s: %w", f.Path, err)
	}
	if c.Token == "" {
		return Credentials{}, ErrNoCredentials
	}
	return c, nil
}

func (f *FileCredentials) Save(c Credentials) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return err
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.Path)
}

func (f *FileCredentials) Clear() error {
	err := os.Remove(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
