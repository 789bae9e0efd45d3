package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/digsapp/digs/internal/domain"
)

// Bucket names
var (
	bucketCredentials = []byte("credentials")
	bucketSync        = []byte("sync")
)

// Credential keys
var (
	keyConsumerKey    = []byte("consumer_key")
	keyConsumerSecret = []byte("consumer_secret")
	keyToken          = []byte("token")
	keyTokenSecret    = []byte("token_secret")
	keyUsername       = []byte("username")

	keyLastFullSyncAt = []byte("last_full_sync_at")
)

// SessionStore implements domain.SessionStore using BoltDB. It is the
// app's secure-storage analog: OAuth tokens and the last-full-sync
// timestamp live here, outside the relational collection store.
type SessionStore struct {
	db *bolt.DB
}

// OpenSession opens (creating if needed) the session database under dir.
func OpenSession(dir string) (*SessionStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dir, "session.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketCredentials, bucketSync} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &SessionStore{db: db}, nil
}

func (s *SessionStore) Close() error {
	return s.db.Close()
}

// Credentials returns the stored credentials, or nil when none are saved.
func (s *SessionStore) Credentials() (*domain.Credentials, error) {
	var creds domain.Credentials
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCredentials)
		creds.ConsumerKey = string(b.Get(keyConsumerKey))
		creds.ConsumerSecret = string(b.Get(keyConsumerSecret))
		creds.Token = string(b.Get(keyToken))
		creds.TokenSecret = string(b.Get(keyTokenSecret))
		creds.Username = string(b.Get(keyUsername))
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !creds.Valid() {
		return nil, nil
	}
	return &creds, nil
}

// SaveCredentials persists credentials after a successful login.
func (s *SessionStore) SaveCredentials(creds domain.Credentials) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCredentials)
		pairs := map[string][]byte{
			string(keyConsumerKey):    []byte(creds.ConsumerKey),
			string(keyConsumerSecret): []byte(creds.ConsumerSecret),
			string(keyToken):          []byte(creds.Token),
			string(keyTokenSecret):    []byte(creds.TokenSecret),
			string(keyUsername):       []byte(creds.Username),
		}
		for k, v := range pairs {
			if err := b.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// ClearCredentials removes all stored credentials (logout, auth expiry).
func (s *SessionStore) ClearCredentials() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketCredentials); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketCredentials)
		return err
	})
}

// LastFullSyncAt returns the recorded timestamp of the last successful
// full sync, with ok=false when no full sync has completed yet.
func (s *SessionStore) LastFullSyncAt() (time.Time, bool, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketSync).Get(keyLastFullSyncAt); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil || raw == nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339, string(raw))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse last sync timestamp: %w", err)
	}
	return t, true, nil
}

// SetLastFullSyncAt records a successful sync completion.
func (s *SessionStore) SetLastFullSyncAt(t time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSync).Put(keyLastFullSyncAt, []byte(t.Format(time.RFC3339)))
	})
}
