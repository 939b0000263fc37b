// Package header implements the append-ordered HTTP header list shared by
// requests and responses.
package header

// Kind distinguishes the different triples that can live on a header list.
// A single list holds headers, cookies, footers (trailers), response
// headers, GET query arguments, and POSTDATA fields, all in the order they
// were appended.
type Kind int

const (
	Header Kind = iota
	Cookie
	Footer
	ResponseHeader
	GetArgument
	PostData
)

func (k Kind) String() string {
	switch k {
	case Header:
		return "header"
	case Cookie:
		return "cookie"
	case Footer:
		return "footer"
	case ResponseHeader:
		return "response-header"
	case GetArgument:
		return "get-argument"
	case PostData:
		return "postdata"
	default:
		return "unknown"
	}
}

// entry is one node of the list. name/value are views into the connection's
// pool buffer (see package pool) for the lifetime of the request; they must
// not be retained past a pool Reset.
type entry struct {
	kind  Kind
	name  string
	value string
	next  *entry
}

// List is an append-ordered singly-linked list of header-like triples.
// It preserves both ordering and duplicate entries, which a map-based
// representation cannot: HTTP explicitly allows repeated header fields
// (e.g. multiple Set-Cookie lines) and requires Content-Type-sensitive
// transports to see them in wire order.
//
// A List is owned by a single Request/Response for the duration of one
// HTTP exchange; it is reset (not freed) by List.Reset so the backing
// entry nodes can be reused across keep-alive cycles via the List's own
// free list.
type List struct {
	head  *entry
	tail  *entry
	count int

	free []*entry // recycled nodes, reused by Append before allocating
}

// Append adds a new (kind, name, value) triple to the end of the list.
func (l *List) Append(kind Kind, name, value string) {
	var e *entry
	if n := len(l.free); n > 0 {
		e = l.free[n-1]
		l.free = l.free[:n-1]
		*e = entry{}
	} else {
		e = &entry{}
	}
	e.kind = kind
	e.name = name
	e.value = value

	if l.tail == nil {
		l.head = e
		l.tail = e
	} else {
		l.tail.next = e
		l.tail = e
	}
	l.count++
}

// Get returns the value of the first entry of the given kind matching name
// (case-insensitive for Header/ResponseHeader/Footer kinds, exact otherwise),
// and whether it was found.
func (l *List) Get(kind Kind, name string) (string, bool) {
	caseInsensitive := kind == Header || kind == ResponseHeader || kind == Footer
	for e := l.head; e != nil; e = e.next {
		if e.kind != kind {
			continue
		}
		if caseInsensitive {
			if equalFold(e.name, name) {
				return e.value, true
			}
		} else if e.name == name {
			return e.value, true
		}
	}
	return "", false
}

// Values appends all values matching kind+name to dst and returns the
// extended slice, preserving wire order. Used for repeated headers such as
// Set-Cookie or multi-valued Accept.
func (l *List) Values(dst []string, kind Kind, name string) []string {
	caseInsensitive := kind == Header || kind == ResponseHeader || kind == Footer
	for e := l.head; e != nil; e = e.next {
		if e.kind != kind {
			continue
		}
		if caseInsensitive {
			if equalFold(e.name, name) {
				dst = append(dst, e.value)
			}
		} else if e.name == name {
			dst = append(dst, e.value)
		}
	}
	return dst
}

// Len returns the total number of entries across all kinds.
func (l *List) Len() int { return l.count }

// Each calls fn for every entry in append order; fn must not mutate the
// list. Used for serialization (writing response headers to the wire).
func (l *List) Each(fn func(kind Kind, name, value string)) {
	for e := l.head; e != nil; e = e.next {
		fn(e.kind, e.name, e.value)
	}
}

// Reset clears the list, moving all entries onto the free list for reuse by
// future Append calls. It does not release the backing array — callers that
// want the memory itself released should drop the List along with the
// owning connection's pool.
func (l *List) Reset() {
	for e := l.head; e != nil; {
		next := e.next
		e.next = nil
		l.free = append(l.free, e)
		e = next
	}
	l.head = nil
	l.tail = nil
	l.count = 0
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
