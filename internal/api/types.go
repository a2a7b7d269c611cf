package api

import (
	"evalgo.org/stratum/models"
)

// ClusterListResponse is the result of a cluster listing. Documents is
// only filled when the caller asked for expand.
type ClusterListResponse struct {
	DocumentLinks []string                      `json:"documentLinks"`
	Documents     map[string]*models.ClusterDto `json:"documents,omitempty"`
	TotalCount    int                           `json:"totalCount"`
}

// HostListResponse is one page of the hosts of a cluster.
type HostListResponse struct {
	DocumentLinks []string                `json:"documentLinks"`
	Documents     map[string]*models.Host `json:"documents"`
	DocumentCount int                     `json:"documentCount"`
	NextPageLink  string                  `json:"nextPageLink,omitempty"`
}

// CertificateResponse is returned with the success status when the host
// presented a certificate that must be confirmed first.
type CertificateResponse struct {
	Certificate *models.CertificateChallenge `json:"certificate"`
}

// TeardownResponse reports a delete that is still running.
type TeardownResponse struct {
	ClusterID string `json:"clusterId"`
	HostID    string `json:"hostId,omitempty"`
	TaskID    string `json:"taskId,omitempty"`
	Stage     string `json:"stage"`
}
