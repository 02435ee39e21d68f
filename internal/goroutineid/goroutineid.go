// Package goroutineid reports the identity of the calling goroutine.
//
// The runtime does not expose goroutine ids, so Get parses the header line of
// runtime.Stack ("goroutine 123 [running]:"). It is used to decide whether a
// caller is already executing on the pinned runtime goroutine.
package goroutineid

import (
	"runtime"
	"sync"
)

// headerLen is large enough for "goroutine " plus any int64 and the state.
const headerLen = 64

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, headerLen)
		return &b
	},
}

// Get returns the id of the calling goroutine, or 0 if the stack header
// could not be parsed.
func Get() int64 {
	bp := bufPool.Get().(*[]byte)
	defer bufPool.Put(bp)
	n := runtime.Stack(*bp, false)
	return parse((*bp)[:n])
}

var prefix = []byte("goroutine ")

// parse extracts the id from a stack header without allocating.
func parse(stack []byte) int64 {
	if len(stack) <= len(prefix) {
		return 0
	}
	for i := range prefix {
		if stack[i] != prefix[i] {
			return 0
		}
	}
	var id int64
	digits := 0
	for _, b := range stack[len(prefix):] {
		if b < '0' || b > '9' {
			break
		}
		id = id*10 + int64(b-'0')
		digits++
	}
	if digits == 0 {
		return 0
	}
	return id
}
