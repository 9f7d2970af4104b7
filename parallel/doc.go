// Package parallel runs one node's input across device-pinned engine
// instances and merges the results back into input order.
//
// The input is cut into contiguous shards with Partition. Shard i runs on
// logical device i, mapped to a physical device through the environment's
// visibility list, and goes through the engine lifecycle on its own. A shard
// whose engine fails to load is retried; if it still fails, every record in
// it becomes an error-marked result, or the node fails under fail-fast.
package parallel
