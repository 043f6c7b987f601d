// Package trace builds the keys that identify an evaluation point of the
// device program: the chain of call-sites and partition keys enclosing it.
package trace

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Site labels one evaluation point of the program. Labels must be unique
// among siblings of the same scope.
type Site string

// Path is the encoded chain of sites and partition keys. The zero value is
// the root path. Paths are comparable and usable as map keys.
type Path string

// Root is the empty path every device round starts from
const Root Path = ""

const (
	siteTag  = 's'
	keyTag   = 'k'
	keyIDSep = '#'
)

// Push returns the path extended with a call-site segment
func (p Path) Push(site Site) Path {
	return p + Path(string(siteTag)+strconv.Quote(string(site)))
}

// keyTable interns partition keys. Two keys get the same id exactly when
// they are == as interface values, so equal dynamic type and equal value.
var keyTable = struct {
	ids   map[any]uint64
	mutex sync.Mutex
}{ids: make(map[any]uint64)}

func internKey(key any) uint64 {
	keyTable.mutex.Lock()
	defer keyTable.mutex.Unlock()

	id, ok := keyTable.ids[key]
	if !ok {
		id = uint64(len(keyTable.ids))
		keyTable.ids[key] = id
	}
	return id
}

// Split returns the path extended with a partition key segment. The segment
// is identified by the interned id of the key; the printed key only follows
// it for readability. Keys must be comparable at run time.
func (p Path) Split(key any) Path {
	segment := fmt.Sprintf("%T:%v%c%d", key, key, keyIDSep, internKey(key))
	return p + Path(string(keyTag)+strconv.Quote(segment))
}

// HasPrefix reports whether q is an ancestor of (or equal to) p
func (p Path) HasPrefix(q Path) bool {
	return strings.HasPrefix(string(p), string(q))
}

// Bytes returns the path as a byte key
func (p Path) Bytes() []byte {
	return []byte(p)
}

// Segments decodes the path back into readable segments, mostly for logs
// and debugging endpoints.
func (p Path) Segments() []string {
	var out []string
	rest := string(p)
	for len(rest) > 0 {
		tag := rest[0]
		quoted, err := strconv.QuotedPrefix(rest[1:])
		if err != nil {
			out = append(out, rest)
			break
		}
		value, _ := strconv.Unquote(quoted)
		if tag == keyTag {
			if i := strings.LastIndexByte(value, keyIDSep); i >= 0 {
				value = value[:i]
			}
			value = "[" + value + "]"
		}
		out = append(out, value)
		rest = rest[1+len(quoted):]
	}
	return out
}

func (p Path) String() string {
	if p == Root {
		return "/"
	}
	return "/" + strings.Join(p.Segments(), "/")
}
