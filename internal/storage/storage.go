// Package storage provides the CouchDB storage layer for Stratum.
// This package wraps the eve.evalgo.org/db library and implements the
// zone, placement, host, removal task and trust stores on a single
// database. Documents are told apart by their @type.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"eve.evalgo.org/db"

	"evalgo.org/stratum/internal/admission"
	"evalgo.org/stratum/internal/cluster"
	"evalgo.org/stratum/internal/config"
	"evalgo.org/stratum/internal/removal"
)

// Document types.
const (
	TypePlacementZone      = "PlacementZone"
	TypePlacement          = "Placement"
	TypeHost               = "Host"
	TypeRemovalTask        = "RemovalTask"
	TypeTrustedCertificate = "TrustedCertificate"

	documentContext = "https://schema.org"

	// unbounded is the Mango limit used when the caller asked for all
	// documents; CouchDB otherwise stops at 25.
	unbounded = 10000

	// saveAttempts bounds the conflict retries of a read-modify-write.
	saveAttempts = 3
)

var (
	_ cluster.ZoneStore      = (*Storage)(nil)
	_ cluster.PlacementStore = (*Storage)(nil)
	_ cluster.HostDirectory  = (*Storage)(nil)
	_ removal.TaskStore      = (*Storage)(nil)
	_ admission.TrustStore   = (*Storage)(nil)
)

// Storage is the CouchDB backend.
type Storage struct {
	service *db.CouchDBService
	config  *config.Config
	log     *slog.Logger
}

// New creates a Storage from the application configuration. It connects
// to CouchDB, creates the database if needed and ensures the indexes.
func New(cfg *config.Config, logger *slog.Logger) (*Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	couchConfig := db.CouchDBConfig{
		URL:             cfg.CouchDB.URL,
		Database:        cfg.CouchDB.Database,
		Username:        cfg.CouchDB.Username,
		Password:        cfg.CouchDB.Password,
		CreateIfMissing: true,
	}

	service, err := db.NewCouchDBServiceFromConfig(couchConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create CouchDB service: %w", err)
	}

	s := &Storage{
		service: service,
		config:  cfg,
		log:     logger.With("component", "storage"),
	}
	s.initializeSchema()
	return s, nil
}

// initializeSchema creates the Mango indexes behind the store queries.
func (s *Storage) initializeSchema() {
	indexes := []db.Index{
		{Name: "type-zone", Fields: []string{"@type", "zoneId"}, Type: "json"},
		{Name: "type-tenant", Fields: []string{"@type", "tenantLinks"}, Type: "json"},
		{Name: "type-stage", Fields: []string{"@type", "stage"}, Type: "json"},
		{Name: "type-name", Fields: []string{"@type", "name"}, Type: "json"},
	}
	for _, index := range indexes {
		if err := s.service.CreateIndex(index); err != nil {
			// The index may already exist.
			s.log.Warn("failed to create index", "index", index.Name, "error", err)
		}
	}
}

// Ping checks that the database answers.
func (s *Storage) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.service.GetDatabaseInfo()
	return err
}

// GetDatabaseInfo returns database statistics.
func (s *Storage) GetDatabaseInfo() (*db.DatabaseInfo, error) {
	return s.service.GetDatabaseInfo()
}

// Close closes the storage connection.
func (s *Storage) Close() error {
	return s.service.Close()
}

// saveDocument saves doc and writes the new revision back into its Rev
// field, so the next save of the same value does not conflict.
func (s *Storage) saveDocument(doc interface{}) error {
	resp, err := s.service.SaveGenericDocument(doc)
	if err != nil {
		return translate(err)
	}

	if resp != nil && resp.Rev != "" {
		v := reflect.ValueOf(doc)
		if v.Kind() == reflect.Ptr {
			v = v.Elem()
		}
		if v.Kind() == reflect.Struct {
			rev := v.FieldByName("Rev")
			if rev.IsValid() && rev.CanSet() && rev.Kind() == reflect.String {
				rev.SetString(resp.Rev)
			}
		}
	}
	return nil
}

// getDocument loads a document and checks its type.
func (s *Storage) getDocument(id, docType string, out interface{}) error {
	if err := s.service.GetGenericDocument(id, out); err != nil {
		return translate(err)
	}
	var typ string
	v := reflect.ValueOf(out).Elem()
	if f := v.FieldByName("Type"); f.IsValid() && f.Kind() == reflect.String {
		typ = f.String()
	}
	if typ != docType {
		return fmt.Errorf("%s %s: %w", docType, id, cluster.ErrNotFound)
	}
	return nil
}

// deleteDocument removes the current revision of a document.
func (s *Storage) deleteDocument(id, rev string) error {
	return translate(s.service.DeleteDocument(id, rev))
}

// translate maps CouchDB errors onto the store sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var couchErr *db.CouchDBError
	if errors.As(err, &couchErr) {
		switch {
		case couchErr.IsNotFound():
			return fmt.Errorf("%w: %v", cluster.ErrNotFound, err)
		case couchErr.IsConflict():
			return fmt.Errorf("%w: %v", cluster.ErrConflict, err)
		}
	}
	return err
}

// typed starts a selector for one document type.
func typed(docType string) map[string]interface{} {
	return map[string]interface{}{"@type": map[string]interface{}{"$eq": docType}}
}

// inProject restricts a selector to documents carrying the project.
func inProject(selector map[string]interface{}, project string) {
	if project == "" {
		return
	}
	selector["tenantLinks"] = map[string]interface{}{
		"$elemMatch": map[string]interface{}{"$eq": project},
	}
}

// combine joins a base selector with an optional extra one.
func combine(base, extra map[string]interface{}) map[string]interface{} {
	if len(extra) == 0 {
		return base
	}
	return map[string]interface{}{"$and": []interface{}{base, extra}}
}

func find[T any](s *Storage, selector map[string]interface{}, limit int) ([]T, error) {
	if limit <= 0 {
		limit = unbounded
	}
	docs, err := db.FindTyped[T](s.service, db.MangoQuery{Selector: selector, Limit: limit})
	if err != nil {
		return nil, translate(err)
	}
	return docs, nil
}
