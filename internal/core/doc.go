// Package core runs CSV imports on behalf of the HTTP server and the CLI.
//
// It owns no parsing or storage logic of its own: each import is a
// [pipeline.Run] against the sink of a registered target. What core adds is
// the service around it.
//
// # Targets
//
// A target pairs a schema with the table or collection its records are
// stored in. Targets are registered at init time, usually by
// internal/core/targets:
//
//	core.Register(core.TargetDefinition{
//	    Key:    "users",
//	    Table:  "users",
//	    Schema: schema.People,
//	})
//
// # Service
//
// [Service] opens one sink per target on first use and keeps it until
// [Service.Close]. Every import takes a slot from a [RunLimiter]; when all
// slots stay busy past the wait limit the import fails with
// [ErrTooManyImports]. Finished runs are summarized in a bounded in-memory
// history.
//
// # Errors
//
// [MapError] turns any error an import can return into a coded
// [UserMessage] for clients. Technical errors are logged, never shown.
package core
