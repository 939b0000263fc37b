package response

import (
	"io"
	"strconv"

	"github.com/nabbar/httpd/wire"
)

// writeCallbackLocked pulls the next chunk from the application callback on
// demand and frames it per RFC 7230 chunked transfer-encoding, terminating
// with the zero-size chunk once pull returns io.EOF. A chunk already framed
// but only partially written is held in pendingChunk so a later call
// resumes the same bytes instead of re-pulling (pull is called at most once
// per chunk).
func (r *Response) writeCallbackLocked(w wire.Adapter) (bool, error) {
	for {
		if r.pullEOF {
			return true, nil
		}

		if r.pendingChunk == nil {
			if r.termPending {
				r.pendingChunk = terminatorChunk
				r.pendingOff = 0
				r.pendingLast = true
			} else {
				n, err := r.pull(r.pullBuf)
				if err != nil && err != io.EOF {
					return false, err
				}
				eof := err == io.EOF
				if n > 0 {
					// A chunk with data, whether or not EOF arrived
					// alongside it: frame the data now and, if EOF
					// came with it, queue the terminator for the next
					// pass through this loop rather than ending here.
					r.pendingChunk = frameChunk(r.pullBuf[:n])
					r.pendingOff = 0
					r.pendingLast = false
					r.termPending = eof
				} else if eof {
					r.pendingChunk = terminatorChunk
					r.pendingOff = 0
					r.pendingLast = true
				} else {
					// No data yet, no EOF: PullFunc's io.Reader-style
					// contract permits (0, nil); nothing to write now.
					return false, nil
				}
			}
		}

		for r.pendingOff < len(r.pendingChunk) {
			n, err := w.Send(r.pendingChunk[r.pendingOff:])
			r.pendingOff += n
			if err != nil {
				if err == wire.ErrWouldBlock {
					return false, nil
				}
				return false, err
			}
		}

		done := r.pendingLast
		r.pendingChunk = nil
		r.pendingOff = 0
		if done {
			r.pullEOF = true
			return true, nil
		}
	}
}

var terminatorChunk = []byte("0\r\n\r\n")

func frameChunk(data []byte) []byte {
	buf := make([]byte, 0, len(data)+16)
	buf = strconv.AppendInt(buf, int64(len(data)), 16)
	buf = append(buf, '\r', '\n')
	buf = append(buf, data...)
	buf = append(buf, '\r', '\n')
	return buf
}
