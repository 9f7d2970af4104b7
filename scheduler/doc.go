// Package scheduler executes a workflow: nodes run one at a time in
// dependency order, each loading its input, running its engine (sharded
// across devices when asked) and writing its output file.
//
// Node states follow PENDING, RUNNING, then SUCCEEDED, PARTIAL or FAILED. A
// node whose dependency FAILED is never run and ends SKIPPED. A PARTIAL node
// finished with some error-marked records; its dependents still run and pass
// those records through as failed. The workflow succeeds only when every node
// SUCCEEDED.
package scheduler
