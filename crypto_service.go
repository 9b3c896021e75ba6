package go_fvm

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/go-i2p/logger"
	tinkmac "github.com/tink-crypto/tink-go/v2/mac/subtle"
	"golang.org/x/crypto/hkdf"
	"gopkg.in/ini.v1"
)

// MacAlgorithm selects the MAC primitive of a CryptoService call.
type MacAlgorithm uint8

// MacAES128CMAC is the only algorithm CsmAccessor implements.
const MacAES128CMAC MacAlgorithm = 0

const (
	aes128KeySize       = 16
	cmacFullTagSize     = 16
	minTruncatedTagSize = 4
	keyDerivationInfo   = "sok-fvm-key"
)

var (
	// ErrMacVerificationFailed is returned by MacVerify when the tag does not
	// match.
	ErrMacVerificationFailed = errors.New("fvm: mac verification failed")

	// ErrUnsupportedAlgorithm is returned for any algorithm other than
	// AES-128-CMAC.
	ErrUnsupportedAlgorithm = errors.New("fvm: unsupported mac algorithm")
)

// CryptoService is the cryptographic collaborator of the engine.
type CryptoService interface {
	MacCreate(keyID uint16, data []byte, alg MacAlgorithm) ([]byte, error)
	MacVerify(keyID uint16, data, mac []byte, alg MacAlgorithm) error
	IsKeyExists(keyID uint16) error
	GenerateRandomBytes(n int) ([]byte, error)
}

// KeyStore holds the symmetric keys by key id.
type KeyStore struct {
	mu     sync.RWMutex
	keys   map[uint16][]byte
	master []byte
}

// NewKeyStore creates an empty key store.
func NewKeyStore() *KeyStore {
	return &KeyStore{keys: make(map[uint16][]byte)}
}

// SetKey installs an explicit AES-128 key.
func (ks *KeyStore) SetKey(keyID uint16, key []byte) error {
	if len(key) != aes128KeySize {
		return fmt.Errorf("key %d: expected %d bytes, got %d", keyID, aes128KeySize, len(key))
	}
	ks.mu.Lock()
	ks.keys[keyID] = cloneBytes(key)
	ks.mu.Unlock()
	return nil
}

// SetMasterSecret sets the input keying material for Derive.
func (ks *KeyStore) SetMasterSecret(secret []byte) {
	ks.mu.Lock()
	ks.master = cloneBytes(secret)
	ks.mu.Unlock()
}

// Derive installs HKDF-SHA256 derived keys for the given key ids. Explicit
// keys already present are left untouched.
func (ks *KeyStore) Derive(keyIDs ...uint16) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if len(ks.master) == 0 {
		return errors.New("no master secret configured")
	}
	for _, id := range keyIDs {
		if _, ok := ks.keys[id]; ok {
			continue
		}
		key, err := deriveKey(ks.master, id)
		if err != nil {
			return err
		}
		ks.keys[id] = key
	}
	return nil
}

func deriveKey(master []byte, keyID uint16) ([]byte, error) {
	info := []byte(keyDerivationInfo + "-" + strconv.Itoa(int(keyID)))
	reader := hkdf.New(sha256.New, master, nil, info)
	key := make([]byte, aes128KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("HKDF derivation failed: %w", err)
	}
	return key, nil
}

// Replace swaps in the keys and master secret of other. The daemon uses it
// to pick up keys provisioned after start.
func (ks *KeyStore) Replace(other *KeyStore) {
	other.mu.RLock()
	keys := make(map[uint16][]byte, len(other.keys))
	for id, k := range other.keys {
		keys[id] = cloneBytes(k)
	}
	master := cloneBytes(other.master)
	other.mu.RUnlock()

	ks.mu.Lock()
	ks.keys = keys
	ks.master = master
	ks.mu.Unlock()
}

// Len returns the number of installed keys.
func (ks *KeyStore) Len() int {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return len(ks.keys)
}

func (ks *KeyStore) key(keyID uint16) ([]byte, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	k, ok := ks.keys[keyID]
	return k, ok
}

// LoadKeyStore reads an INI key file. The [keys] section maps key ids to
// hex-encoded 16-byte keys; an optional [master] section provides a hex
// secret and a comma separated list of key ids to derive from it.
//
//	[keys]
//	1 = 000102030405060708090a0b0c0d0e0f
//
//	[master]
//	secret = 5f2b...
//	derive = 2, 3
func LoadKeyStore(path string) (*KeyStore, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load key store %s: %w", path, err)
	}
	ks := NewKeyStore()
	for _, k := range f.Section("keys").Keys() {
		id, err := strconv.ParseUint(k.Name(), 10, 16)
		if err != nil {
			return nil, fmt.Errorf("key store %s: invalid key id %q", path, k.Name())
		}
		raw, err := hex.DecodeString(strings.TrimSpace(k.String()))
		if err != nil {
			return nil, fmt.Errorf("key store %s: key %d: %w", path, id, err)
		}
		if err := ks.SetKey(uint16(id), raw); err != nil {
			return nil, err
		}
	}
	master := f.Section("master")
	if secret := master.Key("secret").String(); secret != "" {
		raw, err := hex.DecodeString(strings.TrimSpace(secret))
		if err != nil {
			return nil, fmt.Errorf("key store %s: master secret: %w", path, err)
		}
		ks.SetMasterSecret(raw)
		var ids []uint16
		for _, v := range master.Key("derive").Strings(",") {
			id, err := strconv.ParseUint(v, 10, 16)
			if err != nil {
				return nil, fmt.Errorf("key store %s: invalid derive id %q", path, v)
			}
			ids = append(ids, uint16(id))
		}
		if err := ks.Derive(ids...); err != nil {
			return nil, err
		}
	}
	log.WithFields(logger.Fields{
		"path": path,
		"keys": len(ks.keys),
	}).Debug("Loaded key store")
	return ks, nil
}

// CsmAccessor implements CryptoService with AES-128-CMAC over a KeyStore.
type CsmAccessor struct {
	keys *KeyStore
	rng  io.Reader
}

// NewCsmAccessor creates a crypto service using crypto/rand.
func NewCsmAccessor(keys *KeyStore) *CsmAccessor {
	return &CsmAccessor{keys: keys, rng: rand.Reader}
}

// NewCsmAccessorWithRand creates a crypto service with a custom RNG.
func NewCsmAccessorWithRand(keys *KeyStore, rng io.Reader) *CsmAccessor {
	return &CsmAccessor{keys: keys, rng: rng}
}

func (c *CsmAccessor) cmac(keyID uint16, data []byte, alg MacAlgorithm) ([]byte, error) {
	if alg != MacAES128CMAC {
		return nil, ErrUnsupportedAlgorithm
	}
	key, ok := c.keys.key(keyID)
	if !ok {
		return nil, fmt.Errorf("%w: key id %d", ErrKeyNotFound, keyID)
	}
	prf, err := tinkmac.NewAESCMAC(key, cmacFullTagSize)
	if err != nil {
		return nil, fmt.Errorf("aes-cmac: %w", err)
	}
	return prf.ComputeMAC(data)
}

// MacCreate returns the full 16-byte AES-CMAC tag over data.
func (c *CsmAccessor) MacCreate(keyID uint16, data []byte, alg MacAlgorithm) ([]byte, error) {
	return c.cmac(keyID, data, alg)
}

// MacVerify checks a tag that may be truncated to as few as four bytes.
func (c *CsmAccessor) MacVerify(keyID uint16, data, mac []byte, alg MacAlgorithm) error {
	if len(mac) < minTruncatedTagSize || len(mac) > cmacFullTagSize {
		return fmt.Errorf("%w: tag length %d", ErrMacVerificationFailed, len(mac))
	}
	full, err := c.cmac(keyID, data, alg)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(full[:len(mac)], mac) != 1 {
		return ErrMacVerificationFailed
	}
	return nil
}

// IsKeyExists reports ErrKeyNotFound for unknown key ids.
func (c *CsmAccessor) IsKeyExists(keyID uint16) error {
	if _, ok := c.keys.key(keyID); !ok {
		return fmt.Errorf("%w: key id %d", ErrKeyNotFound, keyID)
	}
	return nil
}

// GenerateRandomBytes reads n bytes from the RNG.
func (c *CsmAccessor) GenerateRandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.rng, buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRng, err)
	}
	return buf, nil
}
