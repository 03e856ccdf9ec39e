package camera

import "sync"

// Reusable pixel buffer pool to reduce heap churn from per-pull frame
// allocation. Sources acquire a buffer when producing a frame; the worker
// recycles it after the consumer callback returns. Consumers that keep a
// frame past the callback must Clone it first. If nothing ever recycles,
// behaviour degrades gracefully to plain allocation.

var bufPool sync.Pool // stores []uint8

// acquireBuf returns a pixel buffer with length exactly n.
func acquireBuf(n int) []uint8 {
	if n <= 0 {
		return nil
	}
	if v := bufPool.Get(); v != nil {
		buf := v.([]uint8)
		if cap(buf) >= n {
			return buf[:n]
		}
	}
	return make([]uint8, n)
}

// RecycleFrame returns a frame's backing buffer to the pool. The frame must
// no longer be accessed by the caller afterwards.
func RecycleFrame(f Frame) {
	if len(f.Pix) == 0 {
		return
	}
	bufPool.Put(f.Pix[:cap(f.Pix)])
}
