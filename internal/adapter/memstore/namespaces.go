package memstore

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"kb/internal/adapter/clock"
	"kb/internal/domain"
	"kb/internal/logging"
	"kb/internal/port"
)

// NamespaceStore keeps namespace definitions in memory and, when a
// repository is configured, writes every change through to it.
type NamespaceStore struct {
	mu     sync.RWMutex
	spaces map[string]domain.Namespace
	repo   port.NamespaceRepository
	clock  port.Clock
	logger *zap.Logger
}

// NewNamespaceStore creates a store and loads any persisted namespaces.
// repo, clk and logger may be nil.
func NewNamespaceStore(repo port.NamespaceRepository, clk port.Clock, logger *zap.Logger) (*NamespaceStore, error) {
	if clk == nil {
		clk = clock.System{}
	}
	s := &NamespaceStore{
		spaces: make(map[string]domain.Namespace),
		repo:   repo,
		clock:  clk,
		logger: logging.OrNop(logger),
	}
	if repo == nil {
		return s, nil
	}

	loaded, err := repo.LoadNamespaces()
	if err != nil {
		return nil, domain.StorageError("load namespaces", err, "namespace repository")
	}
	for _, ns := range loaded {
		s.spaces[ns.ID] = ns
	}
	return s, nil
}

// Create stores a new namespace and returns it with timestamps set.
func (s *NamespaceStore) Create(ns domain.Namespace) (domain.Namespace, error) {
	const op = "create namespace"
	if err := domain.ValidateNamespace(ns); err != nil {
		return domain.Namespace{}, domain.InvalidInput(op, "%v", err).WithDetail("namespace", ns.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.spaces[ns.ID]; exists {
		return domain.Namespace{}, domain.NamespaceAlreadyExists(op, ns.ID)
	}

	now := s.clock.Now()
	ns.CreatedAt = now
	ns.UpdatedAt = now

	if s.repo != nil {
		if err := s.repo.SaveNamespace(ns); err != nil {
			s.logger.Error("persist namespace failed", zap.String("namespace", ns.ID), zap.String("op", op), zap.Error(err))
			return domain.Namespace{}, domain.StorageError(op, err, "persist namespace %q", ns.ID)
		}
	}
	s.spaces[ns.ID] = ns
	return ns, nil
}

// Get returns the namespace with id.
func (s *NamespaceStore) Get(id string) (domain.Namespace, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.spaces[id]
	return ns, ok
}

// Delete removes the namespace. It reports false when id is unknown.
func (s *NamespaceStore) Delete(id string) (bool, error) {
	const op = "delete namespace"
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.spaces[id]; !ok {
		return false, nil
	}
	if s.repo != nil {
		if err := s.repo.DeleteNamespace(id); err != nil {
			s.logger.Error("delete persisted namespace failed", zap.String("namespace", id), zap.String("op", op), zap.Error(err))
			return false, domain.StorageError(op, err, "delete namespace %q", id)
		}
	}
	delete(s.spaces, id)
	return true, nil
}

// UpdateConfig applies patch to the namespace config. It reports false
// when id is unknown. An invalid result leaves the namespace unchanged.
func (s *NamespaceStore) UpdateConfig(id string, patch domain.KnowledgeBaseConfigPatch) (bool, error) {
	const op = "update namespace config"
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.spaces[id]
	if !ok {
		return false, nil
	}
	cfg := patch.Apply(ns.Config)
	if err := domain.ValidateConfig(cfg); err != nil {
		return false, domain.InvalidInput(op, "config: %v", err).WithDetail("namespace", id)
	}

	updated := ns
	updated.Config = cfg
	updated.UpdatedAt = s.clock.Now()
	if s.repo != nil {
		if err := s.repo.SaveNamespace(updated); err != nil {
			s.logger.Error("persist namespace failed", zap.String("namespace", id), zap.String("op", op), zap.Error(err))
			return false, domain.StorageError(op, err, "persist namespace %q", id)
		}
	}
	s.spaces[id] = updated
	return true, nil
}

// List returns all namespaces sorted by id.
func (s *NamespaceStore) List() []domain.Namespace {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Namespace, 0, len(s.spaces))
	for _, ns := range s.spaces {
		out = append(out, ns)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
