package multicast

import (
	"encoding/binary"
	"net/netip"

	"github.com/valyala/bytebufferpool"
)

// Every datagram starts with a fixed header:
//
//	0      2   3     4          8          12         16
//	+------+---+-----+----------+----------+----------+
//	|magic |ver|flags|   seq    |  offset  |  total   |
//	+------+---+-----+----------+----------+----------+
//
// seq numbers messages per sender, offset/total locate the fragment payload
// inside the message. All fields are big endian.
const (
	HeaderSize = 16

	headerMagic   uint16 = 0x4d43 // "MC"
	headerVersion uint8  = 1

	// MaxMessageSize bounds what a receiver is willing to reassemble.
	MaxMessageSize = 256 << 20

	maxSources = 1024
)

type header struct {
	flags  uint8
	seq    uint32
	offset uint32
	total  uint32
}

func (h header) encode(b []byte) {
	binary.BigEndian.PutUint16(b[0:2], headerMagic)
	b[2] = headerVersion
	b[3] = h.flags
	binary.BigEndian.PutUint32(b[4:8], h.seq)
	binary.BigEndian.PutUint32(b[8:12], h.offset)
	binary.BigEndian.PutUint32(b[12:16], h.total)
}

func decodeHeader(b []byte) (h header, payload []byte, ok bool) {
	if len(b) < HeaderSize {
		return h, nil, false
	}
	if binary.BigEndian.Uint16(b[0:2]) != headerMagic || b[2] != headerVersion {
		return h, nil, false
	}
	h.flags = b[3]
	h.seq = binary.BigEndian.Uint32(b[4:8])
	h.offset = binary.BigEndian.Uint32(b[8:12])
	h.total = binary.BigEndian.Uint32(b[12:16])
	payload = b[HeaderSize:]

	if h.total > MaxMessageSize ||
		uint64(h.offset)+uint64(len(payload)) > uint64(h.total) {
		return h, nil, false
	}
	if len(payload) == 0 && h.total != 0 {
		return h, nil, false
	}
	return h, payload, true
}

// fragments returns how many datagrams a message of n bytes needs.
func fragments(n, fragmentSize int) int {
	if n == 0 {
		return 1
	}
	return (n + fragmentSize - 1) / fragmentSize
}

type partial struct {
	seq    uint32
	total  uint32
	next   uint32
	broken bool
	buf    *bytebufferpool.ByteBuffer
}

// assembler rebuilds messages from in-order fragments, one partial message per
// source. A gap or a newer sequence number abandons the partial message; there
// is no retransmission to wait for.
type assembler struct {
	partials map[netip.AddrPort]*partial
	pool     bytebufferpool.Pool

	// Buffer handed out by the last completed message, reclaimed on the next add.
	lent *bytebufferpool.ByteBuffer

	onIncomplete func()
}

func newAssembler(onIncomplete func()) *assembler {
	if onIncomplete == nil {
		onIncomplete = func() {}
	}
	return &assembler{
		partials:     make(map[netip.AddrPort]*partial),
		onIncomplete: onIncomplete,
	}
}

// add feeds one fragment. When it completes a message the message is returned;
// it stays valid until the next call to add or release.
func (a *assembler) add(from netip.AddrPort, h header, payload []byte) (msg []byte, complete bool) {
	a.reclaim()

	p := a.partials[from]
	if p != nil && p.seq != h.seq {
		if !p.broken {
			a.onIncomplete()
		}
		a.drop(from, p)
		p = nil
	}

	if h.offset == 0 && uint32(len(payload)) == h.total {
		// Single fragment message, no copy needed.
		return payload, true
	}

	if p == nil {
		if len(a.partials) >= maxSources {
			return nil, false
		}
		p = &partial{seq: h.seq, total: h.total}
		if h.offset != 0 {
			// We joined in the middle of a message.
			p.broken = true
			a.onIncomplete()
		} else {
			p.buf = a.pool.Get()
		}
		a.partials[from] = p
	}

	if p.broken {
		return nil, false
	}

	if h.offset != p.next || h.total != p.total {
		p.broken = true
		a.pool.Put(p.buf)
		p.buf = nil
		a.onIncomplete()
		return nil, false
	}

	_, _ = p.buf.Write(payload)
	p.next += uint32(len(payload))
	if p.next < p.total {
		return nil, false
	}

	delete(a.partials, from)
	a.lent = p.buf
	return p.buf.B, true
}

func (a *assembler) drop(from netip.AddrPort, p *partial) {
	if p.buf != nil {
		a.pool.Put(p.buf)
	}
	delete(a.partials, from)
}

func (a *assembler) reclaim() {
	if a.lent != nil {
		a.pool.Put(a.lent)
		a.lent = nil
	}
}

func (a *assembler) pending() int {
	return len(a.partials)
}

func (a *assembler) release() {
	a.reclaim()
	for from, p := range a.partials {
		a.drop(from, p)
	}
}
