package cache

import (
	"errors"
	"time"

	"github.com/cuemby/proxyworld/pkg/subscription"
	"github.com/cuemby/proxyworld/pkg/types"
	"github.com/google/uuid"
)

// ErrNotFound is returned when no entry exists for a subscription id
var ErrNotFound = errors.New("cache entry not found")

// ProxyEntry is the last successful decode of a node subscription
type ProxyEntry struct {
	Nodes     []types.ProxyConfig   `json:"nodes"`
	Metadata  subscription.Metadata `json:"metadata,omitempty"`
	UpdatedAt time.Time             `json:"updatedAt"`
}

// RuleEntry is the last validated provider of a rule subscription
type RuleEntry struct {
	Provider  types.RuleProvider `json:"provider"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// Store persists subscription data keyed by subscription id
type Store interface {
	// Node subscriptions
	PutProxies(id uuid.UUID, entry *ProxyEntry) error
	GetProxies(id uuid.UUID) (*ProxyEntry, error)
	DeleteProxies(id uuid.UUID) error

	// Rule subscriptions
	PutRules(id uuid.UUID, entry *RuleEntry) error
	GetRules(id uuid.UUID) (*RuleEntry, error)
	DeleteRules(id uuid.UUID) error

	// Snapshot returns every entry in the shape the generator consumes
	Snapshot() (types.ProxyCache, types.RuleCache, error)

	// Prune drops entries whose id is not in keep and returns how many were removed
	Prune(keep map[uuid.UUID]bool) (int, error)

	// Utility
	Close() error
}
