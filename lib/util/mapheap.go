// Package util
//
// This file provides a deadline-ordered priority queue with key-based access.
//
// The implementation combines a binary heap with a hash map. The heap orders
// entries by their deadline, the map gives O(1) lookups by key. The timer wheel
// uses it to keep the countdown and cleanup timers of all documents, where a
// timer must both fire in deadline order and be cancellable by its key.
//
// Time Complexity:
//   - O(log n) for Push, Pop, AddItem (insert or reschedule) and RemoveByKey
//   - O(1) for Peek, Contains and GetByKey
//
// Concurrency Considerations:
//
//	This implementation is not thread-safe, callers must synchronize access.
//
// Example usage:
//
//	timers := NewMapHeap[string, func()]()
//	timers.AddItem("doc-1/steal", time.Now().Add(30*time.Second), onExpire)
//
//	for {
//	    next, ok := timers.Peek()
//	    if !ok || next.Deadline.After(time.Now()) {
//	        break
//	    }
//	    heap.Pop(timers).(*Item[string, func()]).Value()
//	}
package util

import (
	"container/heap"
	"fmt"
	"time"
)

// Item is an entry of the MapHeap
type Item[K comparable, V any] struct {
	Key      K         // Unique identifier for the item
	Deadline time.Time // Ordering criterion (earliest first)
	Value    V         // Payload
	seq      uint64    // insertion sequence, breaks ties between equal deadlines
	index    int       // Index in the heap, maintained by heap package
}

func (i *Item[K, V]) String() string {
	return fmt.Sprintf("{Key: %v, Deadline: %s}", i.Key, i.Deadline.Format(time.RFC3339Nano))
}

// MapHeap is a min-heap ordered by deadline with key-based access
type MapHeap[K comparable, V any] struct {
	items    []*Item[K, V]     // The actual heap slice
	itemsMap map[K]*Item[K, V] // Map for O(1) access by key
	seq      uint64
}

// NewMapHeap creates a new, initialized heap
func NewMapHeap[K comparable, V any]() *MapHeap[K, V] {
	return &MapHeap[K, V]{
		items:    make([]*Item[K, V], 0),
		itemsMap: make(map[K]*Item[K, V]),
	}
}

// Len returns the number of items in the heap (part of heap.Interface)
func (h *MapHeap[K, V]) Len() int { return len(h.items) }

// Less orders by deadline, then by insertion (part of heap.Interface)
func (h *MapHeap[K, V]) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if a.Deadline.Equal(b.Deadline) {
		return a.seq < b.seq
	}
	return a.Deadline.Before(b.Deadline)
}

// Swap exchanges items at positions i and j (part of heap.Interface)
func (h *MapHeap[K, V]) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

// Push adds an item to the heap (part of heap.Interface)
func (h *MapHeap[K, V]) Push(x interface{}) {
	item := x.(*Item[K, V])
	item.index = len(h.items)
	h.items = append(h.items, item)
	h.itemsMap[item.Key] = item
}

// Pop removes and returns the last item (part of heap.Interface)
func (h *MapHeap[K, V]) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil  // Avoid memory leak
	item.index = -1 // For safety
	h.items = old[:n-1]
	delete(h.itemsMap, item.Key)
	return item
}

// AddItem inserts a new item or reschedules an existing one
func (h *MapHeap[K, V]) AddItem(key K, deadline time.Time, value V) {
	h.seq++
	if item, exists := h.itemsMap[key]; exists {
		item.Deadline = deadline
		item.Value = value
		item.seq = h.seq
		heap.Fix(h, item.index)
		return
	}

	heap.Push(h, &Item[K, V]{
		Key:      key,
		Deadline: deadline,
		Value:    value,
		seq:      h.seq,
	})
}

// RemoveByKey removes an item by its key
func (h *MapHeap[K, V]) RemoveByKey(key K) (V, bool) {
	item, exists := h.itemsMap[key]
	if !exists {
		var zero V
		return zero, false
	}

	heap.Remove(h, item.index)
	return item.Value, true
}

// Peek returns the item with the earliest deadline without removing it
func (h *MapHeap[K, V]) Peek() (*Item[K, V], bool) {
	if len(h.items) == 0 {
		return nil, false
	}
	return h.items[0], true
}

// PopDue removes and returns the earliest item if its deadline is not after now
func (h *MapHeap[K, V]) PopDue(now time.Time) (*Item[K, V], bool) {
	next, ok := h.Peek()
	if !ok || next.Deadline.After(now) {
		return nil, false
	}
	return heap.Pop(h).(*Item[K, V]), true
}

// Contains checks if a key exists in the heap
func (h *MapHeap[K, V]) Contains(key K) bool {
	_, exists := h.itemsMap[key]
	return exists
}

// GetByKey retrieves an item by its key without removing it
func (h *MapHeap[K, V]) GetByKey(key K) (*Item[K, V], bool) {
	item, exists := h.itemsMap[key]
	return item, exists
}
