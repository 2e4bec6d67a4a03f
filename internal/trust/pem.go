package trust

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// PEM block types recognized by the loader.
const (
	pemTypeCertificate = "CERTIFICATE"
	pemTypePKCS8Key    = "PRIVATE KEY"
	pemTypePKCS1Key    = "RSA PRIVATE KEY"
)

// ReadCertificates reads a PEM file and returns the DER bytes of every
// CERTIFICATE block, in file order.
func ReadCertificates(path string) ([][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewTrustError("load-chain", path, fmt.Errorf("%w: %v", ErrCertificate, err))
	}

	var ders [][]byte
	for {
		block, rest := pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type == pemTypeCertificate {
			ders = append(ders, block.Bytes)
		}
		data = rest
	}

	if len(ders) == 0 {
		return nil, NewTrustError("load-chain", path, ErrNoCertificates)
	}
	return ders, nil
}

// ParseCertificates reads a PEM file and parses every certificate in it.
func ParseCertificates(path string) ([]*x509.Certificate, error) {
	ders, err := ReadCertificates(path)
	if err != nil {
		return nil, err
	}

	certs := make([]*x509.Certificate, 0, len(ders))
	for _, der := range ders {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, NewTrustError("load-chain", path, fmt.Errorf("%w: %v", ErrCertificate, err))
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// ReadPrivateKey reads a PEM file and returns the first private key it
// contains. PKCS#8 blocks are preferred; if the file holds none, a second
// pass accepts legacy PKCS#1 RSA blocks. This fallback order is a
// compatibility policy: modern keys are PKCS#8, legacy deployments still
// ship RSA-format keys.
func ReadPrivateKey(path string) (crypto.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewTrustError("load-key", path, fmt.Errorf("%w: %v", ErrCertificate, err))
	}

	if key, err := firstKeyOfType(data, pemTypePKCS8Key, path); err != nil {
		return nil, err
	} else if key != nil {
		return key, nil
	}

	if key, err := firstKeyOfType(data, pemTypePKCS1Key, path); err != nil {
		return nil, err
	} else if key != nil {
		return key, nil
	}

	return nil, NewTrustError("load-key", path, ErrNoPrivateKey)
}

// firstKeyOfType scans the PEM data for the first block of the given type
// and parses it. Returns (nil, nil) when no block of that type exists.
func firstKeyOfType(data []byte, pemType, path string) (crypto.PrivateKey, error) {
	for {
		block, rest := pem.Decode(data)
		if block == nil {
			return nil, nil
		}
		if block.Type == pemType {
			var key crypto.PrivateKey
			var err error
			switch pemType {
			case pemTypePKCS8Key:
				key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
			case pemTypePKCS1Key:
				key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
			}
			if err != nil {
				return nil, NewTrustError("load-key", path, fmt.Errorf("%w: %v", ErrCertificate, err))
			}
			return key, nil
		}
		data = rest
	}
}
