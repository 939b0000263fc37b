package reqfsm

import "github.com/nabbar/httpd/header"

// Request holds the parsed request line and framing decisions for one
// HTTP exchange. The strings here are pool-allocated copies (see package
// pool), valid until the owning connection's pool.Reset.
type Request struct {
	Method  string
	Path    string
	Query   string
	Version string

	ContentLength  int64 // -1 when absent or when the body is chunked
	Chunked        bool
	ExpectContinue bool
	KeepAlive      KeepAlive

	Headers header.List
	Footers header.List
}

// Reset clears a Request for reuse across a keep-alive cycle. It does not
// touch the pool backing its strings; the caller resets that separately
// once the Request itself (and any Response referencing it) is done.
func (r *Request) Reset() {
	r.Method = ""
	r.Path = ""
	r.Query = ""
	r.Version = ""
	r.ContentLength = -1
	r.Chunked = false
	r.ExpectContinue = false
	r.KeepAlive = KeepAliveMay
	r.Headers.Reset()
	r.Footers.Reset()
}
