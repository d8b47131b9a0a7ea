// Package gpg verifies detached OpenPGP signatures over downloaded template bundles.
package gpg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
)

const (
	// maxKeyringSize limits downloaded keyrings
	maxKeyringSize = 10 * 1024 * 1024
	// maxSignatureSize limits signature files; detached signatures are typically < 1KB
	maxSignatureSize = 64 * 1024

	armoredSignaturePrefix = "-----BEGIN PGP SIGNATURE-----"
)

// Verifier checks detached signatures against a trusted keyring.
// It uses ProtonMail's go-crypto, a maintained fork of golang.org/x/crypto/openpgp.
type Verifier struct {
	mu         sync.RWMutex
	keyring    openpgp.EntityList
	httpClient *http.Client
}

// NewVerifier creates a verifier with an empty keyring
func NewVerifier() *Verifier {
	return &Verifier{
		keyring: make(openpgp.EntityList, 0),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// LoadKeyring imports keys from a local file or an http(s) URL
func (v *Verifier) LoadKeyring(ctx context.Context, source string) error {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return v.ImportKeysFromURL(ctx, source)
	}
	return v.ImportKeyFromFile(source)
}

// ImportKeysFromURL imports all keys from a published keyring file
func (v *Verifier) ImportKeysFromURL(ctx context.Context, keysURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, keysURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download keyring: %w", err)
	}
	//nolint:errcheck // Defer close
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("keyring download failed with status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxKeyringSize))
	if err != nil {
		return fmt.Errorf("failed to read keyring: %w", err)
	}
	return v.importKeys(data)
}

// ImportKeyFromFile imports keys from an armored or binary keyring file
func (v *Verifier) ImportKeyFromFile(keyPath string) error {
	//nolint:gosec // G304: keyPath is user-provided for key import
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return fmt.Errorf("failed to open key file: %w", err)
	}
	return v.importKeys(data)
}

func (v *Verifier) importKeys(data []byte) error {
	keys, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	if err != nil {
		keys, err = openpgp.ReadKeyRing(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("failed to read key: %w", err)
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("no keys found in keyring")
	}

	v.mu.Lock()
	v.keyring = append(v.keyring, keys...)
	v.mu.Unlock()
	return nil
}

// VerifyDetached verifies the detached signature in signaturePath over filePath
func (v *Verifier) VerifyDetached(_ context.Context, filePath, signaturePath string) error {
	v.mu.RLock()
	keyring := v.keyring
	v.mu.RUnlock()
	if len(keyring) == 0 {
		return fmt.Errorf("no keys imported, load a keyring first")
	}

	//nolint:gosec // G304: signaturePath is a downloaded signature for verification
	sigFile, err := os.Open(signaturePath)
	if err != nil {
		return fmt.Errorf("failed to open signature file: %w", err)
	}
	//nolint:errcheck // Defer close
	defer sigFile.Close()

	sigData, err := io.ReadAll(io.LimitReader(sigFile, maxSignatureSize))
	if err != nil {
		return fmt.Errorf("failed to read signature: %w", err)
	}
	if len(sigData) < 10 {
		return fmt.Errorf("signature file too small to be a valid signature")
	}

	//nolint:gosec // G304: filePath is the downloaded bundle being verified
	dataFile, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open data file: %w", err)
	}
	//nolint:errcheck // Defer close
	defer dataFile.Close()

	if bytes.HasPrefix(bytes.TrimSpace(sigData), []byte(armoredSignaturePrefix)) {
		_, err = openpgp.CheckArmoredDetachedSignature(keyring, dataFile, bytes.NewReader(sigData), nil)
	} else {
		_, err = openpgp.CheckDetachedSignature(keyring, dataFile, bytes.NewReader(sigData), nil)
	}
	if err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	return nil
}

// KeyringSize returns the number of keys in the keyring
func (v *Verifier) KeyringSize() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.keyring)
}
