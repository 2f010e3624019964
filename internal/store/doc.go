// Package store provides persistent storage for switchboard using SQLite.
//
// # Architecture
//
// Two interfaces split the persistence surface:
//
//   - ConversationStore: conversations and their messages
//   - Directory: agents, teams and the candidate query used by assignment
//
// Store combines both with Ping and Close. SQLiteStore implements Store in a
// single struct; MockStore is an in-memory equivalent for unit tests.
//
// # Data Models
//
//   - Conversation: status, participants, assignee and routing metadata
//   - Message: content authored by a participant or the assistant
//   - Agent: a human agent with a presence value
//   - Team: a group of agents; inactive teams are skipped by fallback routing
//   - AgentCandidate: query-time projection with active team IDs and load
//
// Load is never stored. It is counted at query time as the number of
// conversations assigned to the agent whose status is open or active.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Timestamps are stored as RFC3339Nano strings in UTC.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicate: entity with the same ID already exists
//   - ErrConversationClosed: a closed conversation cannot be escalated or resolved
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore(":memory:") or a
// t.TempDir() path for integration tests with real SQLite.
package store
