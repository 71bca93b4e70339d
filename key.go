package swrcache

import (
	"fmt"
	"strings"
)

// keySeparator terminates every serialized segment.
// Terminating rather than joining keeps serialization prefix preserving:
// Key{"a"} serializes to "a\x1f", which is not a prefix of Key{"ab"}.
const keySeparator = "\x1f"

// Key is an ordered sequence of segments. Key{"a","b","c"} is under the prefix Key{"a","b"}.
type Key []string

// String returns the serialized form of the key.
func (k Key) String() string {
	var b strings.Builder
	for _, s := range k {
		if strings.Contains(s, keySeparator) {
			panic(fmt.Errorf("%w: segment %q contains separator", ErrInvalidKey, s))
		}

		b.WriteString(s)
		b.WriteString(keySeparator)
	}

	return b.String()
}

// HasPrefix reports whether k is under prefix. Every key is under the empty prefix.
func (k Key) HasPrefix(prefix Key) bool {
	return strings.HasPrefix(k.String(), prefix.String())
}

// storeKey serializes a key used for storage. An empty key is rejected.
func storeKey(k Key) string {
	if len(k) == 0 {
		panic(fmt.Errorf("%w: empty key", ErrInvalidKey))
	}

	return k.String()
}
