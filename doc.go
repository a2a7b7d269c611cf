// Package stratum is a cluster lifecycle and aggregation engine for
// container hosts.
//
// # Overview
//
// Stratum groups registered container hosts into clusters. A cluster is
// not stored as such: it is a placement zone plus the hosts its query
// selects, projected on every read into a single aggregated view with a
// derived type, status and resource totals.
//
// The platform consists of these components:
//   - API Server: REST API and websocket event stream under /api/v1
//   - Orchestrator: create, read, patch and delete of clusters and their hosts
//   - Host Admission: address normalization, connectivity check and certificate trust
//   - Removal Executor: asynchronous host removal tasks with push notifications
//   - Storage Layer: CouchDB (through EVE) or an in-memory store
//
// # Architecture
//
//	┌─────────────────┐      ┌─────────────────┐
//	│  stratum CLI    │      │  Websocket      │
//	│  (pkg client)   │      │  subscribers    │
//	└────────┬────────┘      └────────▲────────┘
//	         │                        │
//	┌────────▼────────────────────────┴────────┐
//	│  API Server (Echo REST)                  │
//	└────────┬─────────────────────────────────┘
//	         │
//	┌────────▼────────┐      ┌─────────────────┐
//	│  Orchestrator   ├─────►│ Removal Executor│
//	└────────┬────────┘      └────────┬────────┘
//	         │                        │
//	┌────────▼────────────────────────▼────────┐
//	│  Storage Layer (EVE/CouchDB or memory)   │
//	└──────────────────────────────────────────┘
//
// # Usage
//
// Start the API server:
//
//	stratum server --config configs/config.yaml
//
// Create a cluster from its first host and list the clusters of a project:
//
//	stratum cluster create --name edge --address 10.0.0.4 --project /projects/default
//	stratum cluster list --project /projects/default
//
// Start a local CouchDB for development:
//
//	stratum-dev start
//
// # Configuration
//
// Configuration can be provided via:
//   - YAML file (configs/config.yaml)
//   - Environment variables (CG_ prefix)
//   - .env file
//
// Example configuration:
//
//	server:
//	  host: 0.0.0.0
//	  port: 8080
//	storage:
//	  driver: couchdb
//	couchdb:
//	  url: http://localhost:5984
//	  database: stratum
//	cluster:
//	  project_header: X-Project
//	  delete_wait: 10s
//	  removal_timeout: 10m
//
// # API Endpoints
//
// Clusters:
//   - GET    /api/v1/clusters                          - List clusters ($filter, type, expand)
//   - POST   /api/v1/clusters                          - Create a cluster
//   - GET    /api/v1/clusters/:clusterId               - Get a cluster
//   - PATCH  /api/v1/clusters/:clusterId               - Update name, details, status or public address
//   - DELETE /api/v1/clusters/:clusterId               - Delete a cluster and remove its hosts
//
// Cluster hosts:
//   - GET    /api/v1/clusters/:clusterId/hosts         - List hosts ($hostsFilter, customOptions, $limit, $skip)
//   - POST   /api/v1/clusters/:clusterId/hosts         - Add a host
//   - GET    /api/v1/clusters/:clusterId/hosts/:hostId - Get a host
//   - DELETE /api/v1/clusters/:clusterId/hosts/:hostId - Remove a host
//
// Events:
//   - GET /api/v1/ws/events - Cluster lifecycle events
//   - GET /api/v1/ws/stats  - Connected subscribers
//
// # Development
//
// Run tests:
//
//	go test ./...
//
// Run integration tests (requires Docker for the CouchDB container):
//
//	go test -v -tags=integration ./internal/storage/...
//
// Build the binary:
//
//	go build -o stratum ./cmd/stratum
package stratum
