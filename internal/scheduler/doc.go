// Package scheduler runs a plan on an agent: task specs strictly in order,
// each one fanned out to its parallelism and joined before the next begins.
package scheduler
