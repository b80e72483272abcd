// Package all registers every storage backend with the factory. Binaries
// blank-import it so config alone selects the backend.
package all

import (
	_ "deviceetl/internal/storage/mssql"
	_ "deviceetl/internal/storage/postgres"
	_ "deviceetl/internal/storage/sqlite"
)
