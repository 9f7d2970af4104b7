// Package dag orders and executes a directed acyclic graph of nodes.
//
// BuildLevels groups nodes by dependency depth with Kahn's algorithm and
// reports cycles as *CycleError. Engine.Execute walks the levels, runs a
// node only once its dependencies ended SUCCEEDED or PARTIAL, and marks
// nodes behind a failed dependency SKIPPED. Nodes exchange data through
// State, read and written with typed Ports.
package dag
