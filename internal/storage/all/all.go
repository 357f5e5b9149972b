// Package all registers every storage backend and the SQL Server driver.
// Binaries import it for its side effects and pick a backend by kind.
package all

import (
	_ "github.com/microsoft/go-mssqldb"

	_ "dfapi/internal/storage/mssql"
	_ "dfapi/internal/storage/postgres"
	_ "dfapi/internal/storage/sqlite"
)
