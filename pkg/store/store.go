// Package store implements the persistence layer on top of PostgreSQL.
// Each repository takes the shared database client in its constructor and
// exposes the queries one pipeline concern needs.
package store

import (
	"errors"

	"github.com/freedomfin/fireroute/pkg/database"
	"github.com/jmoiron/sqlx"
)

// Sentinel errors returned by repositories.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")
)

// Stores bundles all repositories over one database client.
type Stores struct {
	Batches     *BatchStore
	Tickets     *TicketStore
	Managers    *ManagerStore
	Offices     *OfficeStore
	Analyses    *AnalysisStore
	Assignments *AssignmentStore
	PII         *PIIStore
	States      *StateStore
	GeoCache    *GeoCacheStore
}

// New builds the full repository set.
func New(client *database.Client) *Stores {
	return &Stores{
		Batches:     NewBatchStore(client),
		Tickets:     NewTicketStore(client),
		Managers:    NewManagerStore(client),
		Offices:     NewOfficeStore(client),
		Analyses:    NewAnalysisStore(client),
		Assignments: NewAssignmentStore(client),
		PII:         NewPIIStore(client),
		States:      NewStateStore(client),
		GeoCache:    NewGeoCacheStore(client),
	}
}

func dbOf(client *database.Client) *sqlx.DB {
	return client.DB
}
