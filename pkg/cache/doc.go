/*
Package cache persists the last successful result of every subscription fetch.

The daemon keeps its cache in a BoltDB file (cache.db) in the data directory
with two buckets:

	proxies  subscription id -> JSON ProxyEntry (decoded nodes + metadata)
	rules    subscription id -> JSON RuleEntry (validated rule provider)

A failed fetch never touches the cache, so generation keeps using the last good
data. On a cold start the daemon reconciles from the cache before the first
refresh completes.

Snapshot converts the store into the ProxyCache and RuleCache maps consumed
by the generator. Prune removes entries of subscriptions that were dropped
from the spec file.

MemoryStore implements the same interface without persistence and backs the
one-shot generate command when no cache directory is given.
*/
package cache
