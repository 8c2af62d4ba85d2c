package renewal

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	"github.com/org/certrenew/pkg/models"
	"golang.org/x/crypto/pkcs12"
)

// ValidatedUpload is a certificate upload the wizard will accept. The
// wizard stores it verbatim and never re-parses the content.
type ValidatedUpload struct {
	Filename   string
	Content    []byte
	Password   string
	IsPfx      bool
	CommonName string
	SanNames   []string
	NotAfter   time.Time
}

// Wipe zeroes the upload content. Called when the wizard closes.
func (u *ValidatedUpload) Wipe() {
	for i := range u.Content {
		u.Content[i] = 0
	}
	u.Content = nil
	u.Password = ""
}

// UploadValidator validates a certificate upload before the wizard accepts
// it. The wizard itself performs no certificate parsing.
type UploadValidator interface {
	Validate(filename string, content []byte, password string) (*ValidatedUpload, error)
}

// CertValidator validates PEM certificates and PFX bundles.
type CertValidator struct {
	now func() time.Time
}

// NewCertValidator creates a CertValidator.
func NewCertValidator() *CertValidator {
	return &CertValidator{now: time.Now}
}

// Validate parses the upload, rejects expired or unparseable certificates,
// and extracts the subject names for display.
func (v *CertValidator) Validate(filename string, content []byte, password string) (*ValidatedUpload, error) {
	if len(content) == 0 {
		return nil, &models.ValidationError{Msg: "uploaded file is empty"}
	}

	var cert *x509.Certificate
	var err error
	isPfx := false

	if strings.Contains(string(content), "-----BEGIN") {
		cert, err = parsePemCertificate(content)
	} else {
		isPfx = true
		cert, err = parsePfxCertificate(content, password)
	}
	if err != nil {
		return nil, err
	}

	if v.now().After(cert.NotAfter) {
		return nil, &models.ValidationError{
			Msg: fmt.Sprintf("certificate expired %s", cert.NotAfter.UTC().Format(time.RFC3339)),
		}
	}

	return &ValidatedUpload{
		Filename:   filename,
		Content:    content,
		Password:   password,
		IsPfx:      isPfx,
		CommonName: cert.Subject.CommonName,
		SanNames:   cert.DNSNames,
		NotAfter:   cert.NotAfter,
	}, nil
}

// MatchKey checks that keyPem is the private key for the certificate in
// certPem. Used when the operator supplies a separate key file; PFX
// bundles carry their own pairing.
func MatchKey(certPem, keyPem []byte) error {
	if _, err := tls.X509KeyPair(certPem, keyPem); err != nil {
		return &models.ValidationError{Msg: fmt.Sprintf("key does not match certificate: %v", err)}
	}
	return nil
}

func parsePemCertificate(content []byte) (*x509.Certificate, error) {
	rest := content
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, &models.ValidationError{Msg: "no certificate found in PEM data"}
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, &models.ValidationError{Msg: fmt.Sprintf("parsing certificate: %v", err)}
		}
		return cert, nil
	}
}

func parsePfxCertificate(content []byte, password string) (*x509.Certificate, error) {
	_, cert, err := pkcs12.Decode(content, password)
	if err != nil {
		return nil, &models.ValidationError{Msg: fmt.Sprintf("decoding PFX: %v", err)}
	}
	return cert, nil
}
