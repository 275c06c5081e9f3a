// Package all registers every storage backend. Import it for side effects
// from commands that select the backend at run time.
package all

import (
	_ "github.com/microsoft/go-mssqldb"

	_ "healthetl/internal/storage/mssql"
	_ "healthetl/internal/storage/postgres"
	_ "healthetl/internal/storage/sqlite"
)
