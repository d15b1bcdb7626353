// Package store provides persistent storage for the concierge engine using SQLite.
//
// # Data Models
//
//   - Conversation: one dialogue per user+platform, with mode (ai/human),
//     last activity and last platform sequence number
//   - Message: immutable history entries with role, intent and handled_by
//   - ClientProfile: per-user counters and classification tags
//   - HandoffRecord: escalations with typed reason and a
//     pending -> notified -> accepted -> resolved lifecycle
//   - Fact / CatalogItem: knowledge base entries and enumerable inventory
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: Requested entity does not exist
//   - ErrDuplicateConversation: Conversation already exists for user+platform
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMockStore() for unit tests, or NewSQLiteStore(":memory:") for
// integration tests with real SQLite.
package store
