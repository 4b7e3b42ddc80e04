// Package store is the Object Store (C4): an in-memory typed registry
// keyed by (type tag, id), the only shared mutable state in the engine.
// It replaces the teacher's SQLite repositories — persistence is an
// explicit Non-goal here — but keeps the repository idea of serialized
// access through explicit Put/Get calls rather than an ORM, collapsed
// into a single Store type.
package store

import (
	"sync"

	"github.com/adamscao/acmeserver/internal/models"
)

// Store indexes entities by type tag then id. All operations serialize
// on a single lock; reads return the live entity so callers mutating it
// must write it back through Put.
type Store struct {
	mu   sync.Mutex
	data map[string]map[string]models.Entity
}

func New() *Store {
	return &Store{data: make(map[string]map[string]models.Entity)}
}

func (s *Store) Put(e models.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.data[e.TypeTag()]
	if !ok {
		bucket = make(map[string]models.Entity)
		s.data[e.TypeTag()] = bucket
	}
	bucket[e.ID()] = e
}

func (s *Store) Get(typeTag, id string) (models.Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.data[typeTag]
	if !ok {
		return nil, false
	}
	e, ok := bucket[id]
	return e, ok
}

func (s *Store) GetRegistration(thumbprint string) (*models.Registration, bool) {
	e, ok := s.Get(models.TypeRegistration, thumbprint)
	if !ok {
		return nil, false
	}
	return e.(*models.Registration), true
}

func (s *Store) GetApplication(id string) (*models.Application, bool) {
	e, ok := s.Get(models.TypeApplication, id)
	if !ok {
		return nil, false
	}
	return e.(*models.Application), true
}

func (s *Store) GetAuthorization(id string) (*models.Authorization, bool) {
	e, ok := s.Get(models.TypeAuthorization, id)
	if !ok {
		return nil, false
	}
	return e.(*models.Authorization), true
}

func (s *Store) GetCertificate(id string) (*models.Certificate, bool) {
	e, ok := s.Get(models.TypeCertificate, id)
	if !ok {
		return nil, false
	}
	return e.(*models.Certificate), true
}

// AuthzFor performs the linear scan specified for authz_for: find an
// authorization owned by thumbprint for name. scope, when non-empty,
// restricts the match to an authorization created with that exact
// scope (the order that pinned it) rather than any authorization for
// (thumbprint, name); an empty scope matches regardless of the
// authorization's own Scope, preserving unscoped cross-order reuse.
func (s *Store) AuthzFor(thumbprint, name, scope string) (*models.Authorization, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.data[models.TypeAuthorization]
	for _, e := range bucket {
		a := e.(*models.Authorization)
		if a.Thumbprint != thumbprint || a.Identifier.Value != name {
			continue
		}
		if scope != "" && a.Scope != scope {
			continue
		}
		return a, true
	}
	return nil, false
}

// UpdateOrdersFor rewrites every Application owned by authz's thumbprint
// whose requirement URL matches authzURL to carry authz's current
// status, then recomputes order readiness. It must be called with the
// authz's status already up to date.
func (s *Store) UpdateOrdersFor(authz *models.Authorization, authzURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.data[models.TypeApplication]
	for _, e := range bucket {
		app := e.(*models.Application)
		if app.Thumbprint != authz.Thumbprint {
			continue
		}
		changed := false
		for i := range app.Requirements {
			if app.Requirements[i].URL == authzURL {
				app.Requirements[i].Status = authz.Status
				changed = true
			}
		}
		if changed {
			app.MarkReady()
		}
	}
}

// ApplicationsFor lists every order owned by thumbprint, for the
// per-account orders collection.
func (s *Store) ApplicationsFor(thumbprint string) []*models.Application {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.data[models.TypeApplication]
	var out []*models.Application
	for _, e := range bucket {
		app := e.(*models.Application)
		if app.Thumbprint == thumbprint {
			out = append(out, app)
		}
	}
	return out
}
