// Package migration describes a single, named schema change applied inside a transaction.
package migration

import (
	"database/sql"
	"fmt"
)

type Migration struct {
	Name string
	Func func(tx *sql.Tx) error
}

func (m *Migration) String() string {
	return fmt.Sprintf("migration %s", m.Name)
}
