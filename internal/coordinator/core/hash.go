package core

import "hash/fnv"

func Hash(value string) uint32 {
	hash := fnv.New32a()
	hash.Write([]byte(value))
	return hash.Sum32()
}

// Partition maps key onto one of n slots.
func Partition(key string, n int) int {
	if n <= 0 {
		return 0
	}
	return int(Hash(key) % uint32(n))
}
