// Package models defines the ledger entities and their table mapping.
//
// # Entities
//
//   - User: an account identified by a unique email
//   - Person: a named sub-account owned by a User, carrying a running balance
//   - Operation: a ledger entry that adjusts a Person's balance
//
// # Mapping
//
// Every entity declares its table explicitly (see UserTable, PersonTable and
// OperationTable). The storage layer renders DDL and SQL from these
// declarations through the Record interface, so column order in a Table must
// match the order of Values and Targets on the entity.
//
// # Soft delete
//
// Person and Operation embed SoftDelete. Delete only stamps the deleted
// column in memory; the caller attaches the record to a session and commits.
// Reads never filter deleted rows, callers check IsDeleted themselves.
// Deleting a parent does not touch its children.
package models
