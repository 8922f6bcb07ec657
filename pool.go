package openwire

import (
	"sync"
)

// Buffer pools for reducing allocations in hot paths.
var (
	// dataWriterPool for frame encoding
	dataWriterPool = sync.Pool{
		New: func() any {
			return &dataWriter{}
		},
	}

	// booleanStreamPool for tight encoding
	booleanStreamPool = sync.Pool{
		New: func() any {
			return &BooleanStream{}
		},
	}
)

// getDataWriter returns a pooled, empty dataWriter.
func getDataWriter() *dataWriter {
	w := dataWriterPool.Get().(*dataWriter)
	w.reset()
	return w
}

// putDataWriter returns a dataWriter to the pool.
func putDataWriter(w *dataWriter) {
	if w == nil {
		return
	}
	// Only pool if capacity is reasonable (64KB)
	if cap(w.buf) <= 65536 {
		w.reset()
		dataWriterPool.Put(w)
	}
}

// getBooleanStream returns a pooled, cleared BooleanStream.
func getBooleanStream() *BooleanStream {
	bs := booleanStreamPool.Get().(*BooleanStream)
	bs.Clear()
	return bs
}

// putBooleanStream returns a BooleanStream to the pool.
func putBooleanStream(bs *BooleanStream) {
	if bs == nil {
		return
	}
	bs.Clear()
	booleanStreamPool.Put(bs)
}
