// Package redishost is a [host.Host] backed by Redis, with hook bodies written
// in Lua.
//
// One Host models one backend process serving one session, so it pairs with
// exactly one loginhook.Engine. Catalog and server flags live in Redis:
//
//	<prefix>:recovery                 "1" while the server is a replica in recovery
//	<prefix>:db:<id>:event_trigger    "1" when a login event trigger covers the database
//	<prefix>:namespaces               set of namespace names
//	<prefix>:ns:<namespace>           hash, field = routine name, value = Lua source
//	<prefix>:superusers               set of user names
//	<prefix>:db:<id>:kv:<key>         data written by hooks
//
// Writes made by a hook are buffered in the Host's transaction and applied with
// MULTI/EXEC on commit. Sub-transactions are marks in that buffer. Reads are
// pinned for the length of the attempt's snapshot: once a key has been read,
// later reads return the same value even if another session commits a change.
//
// Hooks see a session module:
//
//	session.get(key), session.set(key, value), session.del(key)
//	session.log(msg), session.notice(msg)
//	session.raise(code, message [, detail [, hint]])
//	session.user(), session.database(), session.executing()
//	session.connect()   re-enters dispatch for a nested session start
package redishost
