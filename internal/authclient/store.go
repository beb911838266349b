package authclient

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"

	"github.com/navigapp/navigapp-server-go/internal/model"
	"github.com/navigapp/navigapp-server-go/internal/util"
)

const (
	storeDirPerm     = fs.FileMode(0o700)
	storeFilePerm    = fs.FileMode(0o600)
	storeOpenTimeout = 5 * time.Second
)

var credentialsBucket = []byte("credentials")

// Storage keys. Save and Clear always touch all of them together.
const (
	keyAccessToken      = "access_token"
	keyRefreshToken     = "refresh_token"
	keyTokenExpiresAt   = "token_expires_at"
	keyRefreshExpiresAt = "refresh_expires_at"
	keyUserData         = "user_data"
	keyAuthMethod       = "auth_method"
)

var credentialKeys = []string{
	keyAccessToken,
	keyRefreshToken,
	keyTokenExpiresAt,
	keyRefreshExpiresAt,
	keyUserData,
	keyAuthMethod,
}

// Credentials is everything the client keeps between runs.
type Credentials struct {
	AccessToken      string
	RefreshToken     string
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
	User             json.RawMessage
	AuthMethod       model.AuthMethod
}

// Store persists Credentials.
type Store interface {
	// Load returns nil when nothing complete or readable is stored.
	Load() (*Credentials, error)
	Save(creds *Credentials) error
	Clear() error
	Close() error
}

type StoreOption func(*BoltStore)

// WithSealer encrypts both tokens at rest.
func WithSealer(sealer *util.Sealer) StoreOption {
	return func(s *BoltStore) { s.sealer = sealer }
}

// BoltStore keeps credentials in a single bbolt bucket.
type BoltStore struct {
	db     *bolt.DB
	sealer *util.Sealer
}

// OpenStore opens the credential database at path, creating it if needed.
func OpenStore(path string, opts ...StoreOption) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), storeDirPerm); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := bolt.Open(path, storeFilePerm, &bolt.Options{Timeout: storeOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening credential store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(credentialsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing credential store: %w", err)
	}

	s := &BoltStore{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Save(creds *Credentials) error {
	access, err := s.seal(creds.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := s.seal(creds.RefreshToken)
	if err != nil {
		return err
	}

	values := map[string]string{
		keyAccessToken:      access,
		keyRefreshToken:     refresh,
		keyTokenExpiresAt:   creds.ExpiresAt.UTC().Format(time.RFC3339Nano),
		keyRefreshExpiresAt: creds.RefreshExpiresAt.UTC().Format(time.RFC3339Nano),
		keyUserData:         string(creds.User),
		keyAuthMethod:       string(creds.AuthMethod),
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(credentialsBucket)
		for _, key := range credentialKeys {
			if err := b.Put([]byte(key), []byte(values[key])); err != nil {
				return fmt.Errorf("storing %s: %w", key, err)
			}
		}
		return nil
	})
}

func (s *BoltStore) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(credentialsBucket)
		for _, key := range credentialKeys {
			if err := b.Delete([]byte(key)); err != nil {
				return fmt.Errorf("clearing %s: %w", key, err)
			}
		}
		return nil
	})
}

func (s *BoltStore) Load() (*Credentials, error) {
	values := make(map[string]string, len(credentialKeys))
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(credentialsBucket)
		for _, key := range credentialKeys {
			if v := b.Get([]byte(key)); v != nil {
				values[key] = string(v)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(values) != len(credentialKeys) {
		return nil, nil
	}

	creds, err := s.decode(values)
	if err != nil {
		log.Warn().Err(err).Msg("stored credentials unreadable, clearing them")
		if clearErr := s.Clear(); clearErr != nil {
			return nil, clearErr
		}
		return nil, nil
	}
	return creds, nil
}

func (s *BoltStore) decode(values map[string]string) (*Credentials, error) {
	expiresAt, err := time.Parse(time.RFC3339Nano, values[keyTokenExpiresAt])
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", keyTokenExpiresAt, err)
	}
	refreshExpiresAt, err := time.Parse(time.RFC3339Nano, values[keyRefreshExpiresAt])
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", keyRefreshExpiresAt, err)
	}
	access, err := s.open(values[keyAccessToken])
	if err != nil {
		return nil, err
	}
	refresh, err := s.open(values[keyRefreshToken])
	if err != nil {
		return nil, err
	}

	return &Credentials{
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresAt:        expiresAt,
		RefreshExpiresAt: refreshExpiresAt,
		User:             json.RawMessage(values[keyUserData]),
		AuthMethod:       model.AuthMethod(values[keyAuthMethod]),
	}, nil
}

func (s *BoltStore) seal(v string) (string, error) {
	if s.sealer == nil {
		return v, nil
	}
	sealed, err := s.sealer.Seal(v)
	if err != nil {
		return "", fmt.Errorf("sealing token: %w", err)
	}
	return sealed, nil
}

func (s *BoltStore) open(v string) (string, error) {
	if s.sealer == nil {
		return v, nil
	}
	plain, err := s.sealer.Open(v)
	if err != nil {
		return "", fmt.Errorf("opening token: %w", err)
	}
	return plain, nil
}
