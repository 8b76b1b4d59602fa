/**
 * @description
 * Isolated-failure batch combinator.
 * Runs one function per key, collects every result, and never lets one item's
 * failure abort the rest. Multi-chain reads (export snapshots, balance sweeps)
 * run through this so a single chain's RPC outage degrades to a per-item error
 * instead of poisoning the batch.
 */

package services

import "sync"

// ItemResult is one key's outcome within a batch.
type ItemResult[K comparable, V any] struct {
	Key   K
	Value V
	Err   error
}

// RunAll executes fn for every key concurrently and returns all outcomes in
// input order. Errors are collected, not thrown.
func RunAll[K comparable, V any](keys []K, fn func(K) (V, error)) []ItemResult[K, V] {
	results := make([]ItemResult[K, V], len(keys))

	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		go func(i int, key K) {
			defer wg.Done()
			value, err := fn(key)
			results[i] = ItemResult[K, V]{Key: key, Value: value, Err: err}
		}(i, key)
	}
	wg.Wait()

	return results
}
