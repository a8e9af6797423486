/*
	This file implements a monitor of the I/O done by storage engines.  Engines
	report bytes as they read and write, and the monitor keeps running totals
	along with the rates over the last second.
*/

package storage

import (
	"sync"
	"sync/atomic"
	"time"
)

const MonitorBuffer = 10000

// IORates are the bytes and operations counted over one second or, for totals,
// since the process started.
type IORates struct {
	StoreBytesRead    int64
	StoreBytesWritten int64
	FileBytesRead     int64
	FileBytesWritten  int64
	Gets              int64
	Puts              int64
}

var (
	// Channels to notify bytes read and written by key-value engines.
	storeBytesRead    = make(chan int, MonitorBuffer)
	storeBytesWritten = make(chan int, MonitorBuffer)

	// Channels to notify bytes read and written by file engines.
	fileBytesRead    = make(chan int, MonitorBuffer)
	fileBytesWritten = make(chan int, MonitorBuffer)

	monitorOnce sync.Once
	ratesMu     sync.RWMutex
	lastSecond  IORates

	totalStoreRead, totalStoreWritten int64
	totalFileRead, totalFileWritten   int64
	totalGets, totalPuts              int64
)

// notify passes n to the monitor without blocking; a full buffer drops it from
// the rates but not from the totals.
func notify(ch chan int, n int) {
	monitorOnce.Do(func() { go loadMonitor() })
	select {
	case ch <- n:
	default:
	}
}

// StoreRead records a get of n bytes from a key-value engine.
func StoreRead(n int) {
	atomic.AddInt64(&totalStoreRead, int64(n))
	atomic.AddInt64(&totalGets, 1)
	notify(storeBytesRead, n)
}

// StoreWritten records a put of n bytes to a key-value engine.
func StoreWritten(n int) {
	atomic.AddInt64(&totalStoreWritten, int64(n))
	atomic.AddInt64(&totalPuts, 1)
	notify(storeBytesWritten, n)
}

// FileRead records n bytes read from a file.
func FileRead(n int) {
	atomic.AddInt64(&totalFileRead, int64(n))
	notify(fileBytesRead, n)
}

// FileWritten records n bytes written to a file.
func FileWritten(n int) {
	atomic.AddInt64(&totalFileWritten, int64(n))
	notify(fileBytesWritten, n)
}

// IOTotals returns everything counted since the process started.
func IOTotals() IORates {
	return IORates{
		StoreBytesRead:    atomic.LoadInt64(&totalStoreRead),
		StoreBytesWritten: atomic.LoadInt64(&totalStoreWritten),
		FileBytesRead:     atomic.LoadInt64(&totalFileRead),
		FileBytesWritten:  atomic.LoadInt64(&totalFileWritten),
		Gets:              atomic.LoadInt64(&totalGets),
		Puts:              atomic.LoadInt64(&totalPuts),
	}
}

// IOPerSecond returns what was counted during the last full second.
func IOPerSecond() IORates {
	ratesMu.RLock()
	defer ratesMu.RUnlock()
	return lastSecond
}

// Tallies notifications and publishes them every second.
func loadMonitor() {
	secondTick := time.NewTicker(1 * time.Second)
	defer secondTick.Stop()
	var current IORates
	for {
		select {
		case b := <-storeBytesRead:
			current.StoreBytesRead += int64(b)
			current.Gets++
		case b := <-storeBytesWritten:
			current.StoreBytesWritten += int64(b)
			current.Puts++
		case b := <-fileBytesRead:
			current.FileBytesRead += int64(b)
		case b := <-fileBytesWritten:
			current.FileBytesWritten += int64(b)
		case <-secondTick.C:
			ratesMu.Lock()
			lastSecond = current
			ratesMu.Unlock()
			current = IORates{}
		}
	}
}
