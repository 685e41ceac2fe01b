package target

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hitzhangjie/dbgstub/pkg/errcode"
)

const cacheLineSize = 64

// memCache caches aligned lines of debuggee memory while every thread is
// stopped. Any resume or write purges it.
type memCache struct {
	lines *lru.Cache[uint64, []byte]
}

// newMemCache returns a cache of size lines, or a disabled cache when size
// is not positive.
func newMemCache(size int) *memCache {
	if size <= 0 {
		return &memCache{}
	}
	lines, err := lru.New[uint64, []byte](size)
	if err != nil {
		return &memCache{}
	}
	return &memCache{lines: lines}
}

func (c *memCache) enabled() bool {
	return c != nil && c.lines != nil
}

func (c *memCache) get(line uint64) ([]byte, bool) {
	if !c.enabled() {
		return nil, false
	}
	return c.lines.Get(line)
}

func (c *memCache) add(line uint64, data []byte) {
	if c.enabled() {
		c.lines.Add(line, data)
	}
}

func (c *memCache) purge() {
	if c.enabled() {
		c.lines.Purge()
	}
}

func (c *memCache) len() int {
	if !c.enabled() {
		return 0
	}
	return c.lines.Len()
}

// readMemory reads n bytes at addr through the line cache. If a whole line
// cannot be read, the exact range is read directly, uncached. While any
// thread runs the memory may change under the cache, so it is bypassed.
func (p *Process) readMemory(addr uint64, n int) ([]byte, error) {
	if !p.mem.enabled() || p.anyRunning() {
		return p.readDirect(addr, n)
	}

	out := make([]byte, 0, n)
	end := addr + uint64(n)
	for cur := addr; cur < end; {
		line := cur &^ (cacheLineSize - 1)
		data, ok := p.mem.get(line)
		if !ok {
			buf := make([]byte, cacheLineSize)
			if m, err := p.ops.ReadMemory(p.pid, line, buf); err != nil || m != cacheLineSize {
				rest, err := p.readDirect(cur, int(end-cur))
				out = append(out, rest...)
				if len(out) > 0 {
					return out, nil
				}
				return nil, err
			}
			p.mem.add(line, buf)
			data = buf
		}
		off := cur - line
		take := uint64(cacheLineSize) - off
		if take > end-cur {
			take = end - cur
		}
		out = append(out, data[off:off+take]...)
		cur += take
	}
	return out, nil
}

// readDirect returns the readable prefix of [addr, addr+n); err is set when
// nothing could be read.
func (p *Process) readDirect(addr uint64, n int) ([]byte, error) {
	buf := make([]byte, n)
	m, err := p.ops.ReadMemory(p.pid, addr, buf)
	if m > 0 {
		return buf[:m], nil
	}
	if err == nil {
		err = fmt.Errorf("read %#x+%d: nothing read", addr, n)
	}
	return nil, fmt.Errorf("read memory at %#x: %w", addr, p.translate(err, errcode.InvalidAddress))
}
