// Package pool recycles receive buffers across transfers and goroutines.
package pool
