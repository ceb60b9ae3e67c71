// Package structdb is an embedded, single-process object store for Go
// structs: schema-aware records in one data file, ACID transactions through
// a write-ahead log, and declared indexes served by an in-memory query
// planner.
//
// Applications describe each struct with a generated schema.Type binding
// and register it with Define. From there the store hands out Rids on
// insert, serves committed reads, and answers queries:
//
//	store, err := structdb.Open("app.sdb")
//	...
//	store.Define(bindings.UserType{})
//
//	tx, _ := store.Begin()
//	rid, _ := tx.Insert(&bindings.User{Email: "ada@example.com"})
//	tx.Commit()
//
//	cur, _ := store.Query("User").Where(query.Eq("email", "ada@example.com")).Iter()
//	defer cur.Close()
//	for cur.Next() {
//		u := cur.Value().(*bindings.User)
//		...
//	}
//
// Writes serialize on a single writer; readers run against captured views
// and never block. One process owns a store at a time, enforced with a file
// lock.
package structdb
