// Package async provides utilities for parallel task execution with
// error collection.
//
// [RunParallel] starts every task concurrently, waits for all of them and
// returns the joined errors. Destroying several independent environments in
// one invocation goes through it; each task keeps its own ordering.
package async
