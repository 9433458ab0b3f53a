package mp4parse

import "fmt"

// byteQueue is an offset-tracking append-only buffer (§4.I "offset-tracking
// byte queue"): bytes are appended as they arrive and discarded from the
// front once the parser no longer needs them, keeping memory bounded
// against an mdat that may be far larger than any single Parse() chunk.
type byteQueue struct {
	buf  []byte
	base int64 // absolute stream offset of buf[0]
}

// Append adds data to the end of the queue.
func (q *byteQueue) Append(data []byte) {
	q.buf = append(q.buf, data...)
}

// End returns the absolute offset one past the last buffered byte.
func (q *byteQueue) End() int64 { return q.base + int64(len(q.buf)) }

// Available reports whether [start, start+n) is entirely resident.
func (q *byteQueue) Available(start int64, n int) bool {
	return start >= q.base && start+int64(n) <= q.End()
}

// Peek returns a view of [start, start+n). The slice aliases the queue's
// internal buffer and is invalidated by the next Discard.
func (q *byteQueue) Peek(start int64, n int) ([]byte, error) {
	if !q.Available(start, n) {
		return nil, fmt.Errorf("mp4parse: byte queue: [%d,%d) not resident (have [%d,%d))", start, start+int64(n), q.base, q.End())
	}
	rel := start - q.base
	return q.buf[rel : rel+int64(n)], nil
}

// Discard drops every buffered byte below the absolute watermark.
func (q *byteQueue) Discard(watermark int64) {
	if watermark <= q.base {
		return
	}
	if watermark >= q.End() {
		q.buf = q.buf[:0]
		q.base = watermark
		return
	}
	rel := watermark - q.base
	q.buf = append(q.buf[:0], q.buf[rel:]...)
	q.base = watermark
}
