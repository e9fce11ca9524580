package pipeline

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

// EnsureKeyPair returns the path of the deploy private key under keyDir and
// its public half in authorized_keys format, generating the pair on first
// use. The public key is injected into the rendered template so the
// provisioned instance trusts us from boot.
func EnsureKeyPair(keyDir string) (privateKeyPath, publicKey string, err error) {
	keyPath := filepath.Join(keyDir, "id_rsa")
	pubPath := keyPath + ".pub"

	if _, statErr := os.Stat(keyPath); statErr == nil {
		pubBytes, readErr := os.ReadFile(pubPath)
		if readErr != nil {
			return "", "", fmt.Errorf("private key exists but public half is unreadable: %w", readErr)
		}
		return keyPath, strings.TrimSpace(string(pubBytes)), nil
	}

	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return "", "", err
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, 4096)
	if err != nil {
		return "", "", err
	}

	privateKeyFile, err := os.OpenFile(keyPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return "", "", err
	}
	defer privateKeyFile.Close()

	privateKeyPEM := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	}
	if err := pem.Encode(privateKeyFile, privateKeyPEM); err != nil {
		return "", "", err
	}

	sshPublicKey, err := ssh.NewPublicKey(&privateKey.PublicKey)
	if err != nil {
		return "", "", err
	}

	publicKeyBytes := ssh.MarshalAuthorizedKey(sshPublicKey)
	if err := os.WriteFile(pubPath, publicKeyBytes, 0644); err != nil {
		return "", "", err
	}

	return keyPath, strings.TrimSpace(string(publicKeyBytes)), nil
}
