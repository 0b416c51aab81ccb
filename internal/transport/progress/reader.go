// Package progress counts bytes flowing through a reader and reports them in steps.
package progress

import "io"

// Reader wraps an io.Reader and reports progress via a callback.
// Written starts at the resume offset so reports cover the whole file.
type Reader struct {
	reader     io.Reader
	written    int64
	expected   int64
	sinceLast  int64
	interval   int64
	onProgress func(written, expected int64)
}

// NewReader reports every interval bytes and once more when the stream ends.
// expected <= 0 means the total size is unknown.
func NewReader(r io.Reader, offset, expected, interval int64, cb func(written, expected int64)) *Reader {
	return &Reader{
		reader:     r,
		written:    offset,
		expected:   expected,
		interval:   interval,
		onProgress: cb,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.written += int64(n)
		pr.sinceLast += int64(n)

		if pr.sinceLast >= pr.interval {
			pr.report()
		}
	}

	if err == io.EOF && pr.sinceLast > 0 {
		pr.report()
	}

	return n, err
}

// Written is the byte count so far, offset included.
func (pr *Reader) Written() int64 {
	return pr.written
}

func (pr *Reader) report() {
	pr.sinceLast = 0

	if pr.onProgress != nil {
		pr.onProgress(pr.written, pr.expected)
	}
}
