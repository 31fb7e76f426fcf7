// Package thread persists conversation threads.
//
// Three ThreadStore backends are provided: FileStore keeps one append-only
// JSONL file per thread and is the default, GormStore keeps threads in SQL
// (sqlite or postgres) and InMemoryStore is intended for tests. All of them
// serialize appends per thread id and accept ids handed out by
// ReserveThreadID before the thread exists.
package thread
