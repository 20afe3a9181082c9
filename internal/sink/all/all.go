// Package all registers every built-in sink backend. Import it for side
// effects from the binary that opens sinks.
package all

import (
	_ "github.com/JonMunkholm/ingest/internal/sink/mongo"
	_ "github.com/JonMunkholm/ingest/internal/sink/postgres"
	_ "github.com/JonMunkholm/ingest/internal/sink/sqlsink"
)
