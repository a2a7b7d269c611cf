package models

import "time"

// TrustedCertificate is a host certificate the operator accepted. Hosts
// presenting it are admitted without a new confirmation round.
type TrustedCertificate struct {
	Context string `json:"@context,omitempty" jsonld:"@context"`
	Type    string `json:"@type,omitempty" jsonld:"@type"`
	ID      string `json:"@id" jsonld:"@id" couchdb:"_id"`
	Rev     string `json:"_rev,omitempty" couchdb:"_rev"`

	Fingerprint string    `json:"fingerprint"`
	Certificate string    `json:"certificate"`
	CommonName  string    `json:"commonName,omitempty"`
	Issuer      string    `json:"issuerName,omitempty"`
	NotAfter    time.Time `json:"validTo"`
	CreatedAt   time.Time `json:"dateCreated"`
}

// CertificateChallenge is returned instead of a cluster or host when the
// host presented a certificate nobody has trusted yet. The caller repeats
// the request with acceptCertificate set once the operator confirms.
type CertificateChallenge struct {
	Certificate string    `json:"certificate"`
	Fingerprint string    `json:"fingerprint"`
	CommonName  string    `json:"commonName,omitempty"`
	Issuer      string    `json:"issuerName,omitempty"`
	NotBefore   time.Time `json:"validSince"`
	NotAfter    time.Time `json:"validTo"`
}

// TrustedCertificateID derives the document id for a fingerprint.
func TrustedCertificateID(fingerprint string) string {
	return "cert:" + fingerprint
}
