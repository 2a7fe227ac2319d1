// Package core provides the business logic of the mobile sync service.
//
// This package contains all domain logic independent of HTTP or storage. It
// can be used by web handlers, the admin CLI, or tests without modification.
//
// # Architecture
//
// The package is organized around several key concepts:
//
//   - Resources: each synced entity (customer, sale, payment, visit,
//     delivery, product) is described by a [Resource] registered at init
//     time. A resource names its table, filter allow-list, base predicate,
//     wire projection and, for writable entities, how a client record maps
//     onto storage columns.
//   - Service: the entry point for listing and batch synchronization.
//   - Store: the persistence contract ([Store], [Tx]) implemented by the
//     postgres and memory packages.
//   - Authenticator and RateLimiter: request admission.
//   - EventEmitter: the port change notifications leave through.
//
// # Batch Synchronization
//
// A batch is a JSON array of at most [MaxBatchSize] records. All records are
// written in one transaction and the first invalid record aborts the batch:
//
//  1. Required fields are checked (absent or null counts as missing)
//  2. The record is validated against the entity's JSON schema
//  3. Datetimes are parsed and foreign keys checked
//  4. The record is upserted by mobile_uid inside a savepoint
//  5. After commit, one event per record is emitted
//
// When two requests create the same mobile_uid concurrently, the loser's
// insert fails with [ErrConflict]; the engine rolls back to the savepoint and
// retries the record as an update.
package core
