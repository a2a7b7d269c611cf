package cluster

import (
	"context"

	"evalgo.org/stratum/models"
)

// AdmissionRequest describes a host to validate and register.
type AdmissionRequest struct {
	Host *models.Host

	// Properties are applied on top of the host's custom properties. A nil
	// value removes the key from the stored record.
	Properties map[string]*string

	AcceptCertificate bool

	// Replace overwrites an existing record with the same id instead of
	// failing with a conflict.
	Replace bool
}

// AdmissionOutcome tags an AdmissionResult.
type AdmissionOutcome int

const (
	AdmissionCreated AdmissionOutcome = iota + 1
	AdmissionNeedsTrust
	AdmissionFailed
)

// AdmissionResult is exactly one of: the registered host, a certificate
// awaiting confirmation, or a failure.
type AdmissionResult struct {
	Outcome     AdmissionOutcome
	Host        *models.Host
	Certificate *models.CertificateChallenge
	Err         error
}

// Admitted builds a successful result.
func Admitted(host *models.Host) AdmissionResult {
	return AdmissionResult{Outcome: AdmissionCreated, Host: host}
}

// NeedsTrustConfirmation builds a result carrying an untrusted certificate.
func NeedsTrustConfirmation(cert *models.CertificateChallenge) AdmissionResult {
	return AdmissionResult{Outcome: AdmissionNeedsTrust, Certificate: cert}
}

// AdmissionFailure builds a failed result.
func AdmissionFailure(err error) AdmissionResult {
	return AdmissionResult{Outcome: AdmissionFailed, Err: err}
}

// HostAdmission validates and registers hosts.
type HostAdmission interface {
	Admit(ctx context.Context, req AdmissionRequest) AdmissionResult
}
