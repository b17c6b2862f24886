package ipa

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
)

// Checksum describes the files written by WriteChecksum.
type Checksum struct {
	SHA256 string
	// Path is the <ipa>.sha256 file.
	Path string
	// SignaturePath is the clearsigned <ipa>.sha256.asc file, empty when
	// no key was given.
	SignaturePath string
}

// WriteChecksum writes the SHA-256 of the archive next to it, in the
// sha256sum format. When armoredKey holds a private key the checksum line
// is also written clearsigned.
func WriteChecksum(ipaPath, armoredKey string) (Checksum, error) {
	f, err := os.Open(ipaPath)
	if err != nil {
		return Checksum{}, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return Checksum{}, fmt.Errorf("hashing %s: %w", ipaPath, err)
	}
	sum := Checksum{SHA256: hex.EncodeToString(h.Sum(nil)), Path: ipaPath + ".sha256"}
	line := []byte(fmt.Sprintf("%s  %s\n", sum.SHA256, filepath.Base(ipaPath)))

	if err := os.WriteFile(sum.Path, line, 0644); err != nil {
		return Checksum{}, fmt.Errorf("writing checksum: %w", err)
	}
	if armoredKey == "" {
		return sum, nil
	}

	signed, err := signBytes(line, armoredKey)
	if err != nil {
		return Checksum{}, fmt.Errorf("signing checksum: %w", err)
	}
	sum.SignaturePath = sum.Path + ".asc"
	if err := os.WriteFile(sum.SignaturePath, signed, 0644); err != nil {
		return Checksum{}, fmt.Errorf("writing signature: %w", err)
	}
	return sum, nil
}

// signBytes signs the input using the provided armored private key.
// It returns the clearsigned message.
func signBytes(input []byte, key string) ([]byte, error) {
	entities, err := openpgp.ReadArmoredKeyRing(strings.NewReader(key))
	if err != nil {
		return nil, err
	}
	var signer *openpgp.Entity
	for _, e := range entities {
		if e.PrivateKey != nil {
			signer = e
			break
		}
	}
	if signer == nil {
		return nil, fmt.Errorf("no private key found")
	}

	var out bytes.Buffer
	w, err := clearsign.Encode(&out, signer.PrivateKey, nil)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(input); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
