package model

import "hash/fnv"

// Shard maps a package name onto one of nJobs worker slots. The hash is
// stable across processes so concurrent sharded runs partition the node
// set without coordination.
func Shard(name string, nJobs int) int {
	if nJobs <= 1 {
		return 0
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(name))

	return int(h.Sum32() % uint32(nJobs))
}
