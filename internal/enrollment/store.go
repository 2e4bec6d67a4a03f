package enrollment

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
)

var bucketIdentities = []byte("identities")

// storedIdentity is the CBOR-encoded record persisted per server host.
type storedIdentity struct {
	CertPEM    string    `cbor:"cert_pem"`
	KeyPEM     string    `cbor:"key_pem"`
	CAPEM      string    `cbor:"ca_pem,omitempty"`
	HasCA      bool      `cbor:"has_ca"`
	ServerHost string    `cbor:"server_host"`
	ServerPort uint16    `cbor:"server_port"`
	EnrolledAt time.Time `cbor:"enrolled_at"`
}

// Store persists enrolled identities on disk, keyed by server host, so a
// device re-opens its identity across restarts instead of re-enrolling.
type Store struct {
	db *bolt.DB
}

// OpenStore opens (or creates) the identity store at path.
func OpenStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open identity store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketIdentities)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create identity bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put saves the result as the identity for its server host, replacing any
// previous identity for that host.
func (s *Store) Put(res *Result) error {
	rec := storedIdentity{
		CertPEM:    res.CertPEM,
		KeyPEM:     res.KeyPEM,
		ServerHost: res.ServerHost,
		ServerPort: res.ServerPort,
		EnrolledAt: time.Now().UTC(),
	}
	if res.CAPEM != nil {
		rec.CAPEM = *res.CAPEM
		rec.HasCA = true
	}

	data, err := cbor.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode identity: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIdentities).Put([]byte(res.ServerHost), data)
	})
}

// Get loads the identity for a server host. The second return value reports
// whether one exists.
func (s *Store) Get(serverHost string) (*Result, bool, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketIdentities).Get([]byte(serverHost)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if data == nil {
		return nil, false, nil
	}

	var rec storedIdentity
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("failed to decode identity: %w", err)
	}

	res := &Result{
		CertPEM:    rec.CertPEM,
		KeyPEM:     rec.KeyPEM,
		ServerHost: rec.ServerHost,
		ServerPort: rec.ServerPort,
	}
	if rec.HasCA {
		ca := rec.CAPEM
		res.CAPEM = &ca
	}
	return res, true, nil
}

// Delete removes the identity for a server host. Deleting an absent
// identity is not an error.
func (s *Store) Delete(serverHost string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIdentities).Delete([]byte(serverHost))
	})
}

// Hosts lists every server host with a stored identity.
func (s *Store) Hosts() ([]string, error) {
	var hosts []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIdentities).ForEach(func(k, _ []byte) error {
			hosts = append(hosts, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return hosts, nil
}
