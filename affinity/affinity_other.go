//go:build !linux

// File: affinity/affinity_other.go
// Author: momentics <momentics@gmail.com>

package affinity

func setAffinity(int) (func(), error) { return nil, ErrUnsupported }

// Current is not available off linux.
func Current() ([]int, error) { return nil, ErrUnsupported }

func allowedCPUs() []int { return nil }
