// Package store persists player accounts, win counts and finished race
// records for the kart race server.
//
// Core Types:
//
// Store is the persistence contract consumed by sessions and the match
// coordinator. SQLStore implements it over database/sql with the sqlite3 or
// postgres driver; Memory implements it in process for tests and for
// throwaway servers.
//
// Passwords are never stored in clear text. HashPassword derives a salted
// PBKDF2-SHA512 key and stores it as "salt:hash" in hex.
//
// Usage:
//
//	st, err := store.Open("sqlite3", "kartrace.db")
//	if err != nil {
//		return err
//	}
//	defer st.Close()
//
//	ok, err := st.Register(ctx, "alice", "secret")
//	ok, err = st.Authenticate(ctx, "alice", "secret")
//
// Concurrency:
//
// Every implementation is safe for concurrent use.
package store
