// Package core holds the domain logic of the table API, independent of any
// transport or storage engine. It can be used by the HTTP handlers, the CLI
// or tests without modification.
//
// # Architecture
//
// The package is organized around a few concepts:
//
//   - Values: [Value] is a tagged union of null, string, number, boolean and
//     date. [Row] is an ordered list of named values and [RawRow] is a parsed
//     file row before conversion.
//   - Inference: [Detect] classifies a single cell and [Infer] folds the
//     observations of a sample into a [DataSchema].
//   - Storage: [Store] is the contract every backend implements. Tables
//     are created on first write and grow new columns as rows introduce them.
//   - Filtering: [Filters] are equality constraints parsed from query
//     parameters. [WhereBuilder] renders them as parameterized SQL and
//     [Filters.Match] evaluates them in memory.
//   - Service: [Service] is the entry point for ingest, table and record
//     operations. It owns the [IngestLimiter] that caps concurrent ingests.
//
// # Ingest Flow
//
//	file -> ParseFunc -> []RawRow -> Infer -> CoerceRow -> CreateTable -> InsertBatch
//
// Columns that lose a cell during coercion are committed as nullable.
//
// The parser is injected through [ParseFunc] so this package never depends
// on a file format library.
//
// # Error Handling
//
// Errors are classified by type: [NotFoundError], [ValidationError] and
// [StorageError]. [MapError] turns any error into a [UserMessage] carrying
// a support code. Storage errors never leak query text to clients.
//
// # Concurrency
//
// [Service] is safe for concurrent use. Store implementations must assign
// unique, strictly increasing ids per table under concurrent inserts.
package core
