package activitypub

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/deemkeen/solopub/util"
)

const (
	privateKeyFileName = "private.pem"
	publicKeyFileName  = "public.pem"
)

// Keys holds the actor's RSA identity. The server must not start without it:
// LoadKeys fails hard on malformed material.
type Keys struct {
	private   *rsa.PrivateKey
	publicPEM string
}

// LoadKeys loads the actor key pair from config, falling back to key files in
// the config directory. When nothing is configured a fresh pair is generated
// and persisted so the identity survives restarts.
func LoadKeys(conf *util.AppConfig) (*Keys, error) {
	privPEM := conf.Conf.PrivateKeyPem
	pubPEM := conf.Conf.PublicKeyPem

	if privPEM == "" || pubPEM == "" {
		filePriv, filePub, err := readKeyFiles()
		if err == nil {
			privPEM, pubPEM = filePriv, filePub
		}
	}

	if privPEM == "" || pubPEM == "" {
		log.Println("No actor keys configured, generating a new RSA key pair...")
		pair := util.GeneratePemKeypair()
		privPEM, pubPEM = pair.Private, pair.Public
		if err := writeKeyFiles(privPEM, pubPEM); err != nil {
			log.Printf("Warning: could not persist generated keys: %v", err)
		}
	}

	return NewKeysFromPEM(privPEM, pubPEM)
}

// NewKeysFromPEM builds the actor identity from PEM-encoded key material.
func NewKeysFromPEM(privPEM, pubPEM string) (*Keys, error) {
	private, err := ParsePrivateKey(privPEM)
	if err != nil {
		return nil, fmt.Errorf("loading actor private key: %w", err)
	}

	// Make sure the public half parses too before advertising it
	if _, err := ParsePublicKey(pubPEM); err != nil {
		return nil, fmt.Errorf("loading actor public key: %w", err)
	}

	return &Keys{private: private, publicPEM: pubPEM}, nil
}

// Private returns the signing key.
func (k *Keys) Private() *rsa.PrivateKey {
	return k.private
}

// PublicPEM returns the public key in PEM form for the actor document.
func (k *Keys) PublicPEM() string {
	return k.publicPEM
}

func readKeyFiles() (string, string, error) {
	configDir, err := util.GetConfigDir()
	if err != nil {
		return "", "", err
	}
	priv, err := os.ReadFile(filepath.Join(configDir, privateKeyFileName))
	if err != nil {
		return "", "", err
	}
	pub, err := os.ReadFile(filepath.Join(configDir, publicKeyFileName))
	if err != nil {
		return "", "", err
	}
	return string(priv), string(pub), nil
}

func writeKeyFiles(privPEM, pubPEM string) error {
	configDir, err := util.GetConfigDir()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(configDir, privateKeyFileName), []byte(privPEM), 0600); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(configDir, publicKeyFileName), []byte(pubPEM), 0644)
}

// ParsePrivateKey converts a PEM string to *rsa.PrivateKey
func ParsePrivateKey(pemString string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return privateKey, nil
}

// ParsePublicKey converts a PEM string to *rsa.PublicKey
func ParsePublicKey(pemString string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPubKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}

	return rsaPubKey, nil
}
