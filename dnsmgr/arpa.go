package dnsmgr

import (
	"net"
	"strconv"
	"strings"
)

// arpaReverse converts an IP address to its canonical reverse-DNS (ARPA)
// representation, e.g. 127.0.0.1 -> "1.0.0.127.in-addr.arpa." and
// ::1 -> the nibble-reversed "...ip6.arpa." form.
//
// spec.md treats ARPA conversion as a pure helper external to the manager's
// core logic; it is implemented here as exactly that — a side-effect-free
// function with no dependency on the resolver library or the cache.
func arpaReverse(addr net.IP) string {
	if v4 := addr.To4(); v4 != nil {
		var b strings.Builder
		for i := len(v4) - 1; i >= 0; i-- {
			b.WriteString(strconv.Itoa(int(v4[i])))
			b.WriteByte('.')
		}
		b.WriteString("in-addr.arpa.")
		return b.String()
	}

	v6 := addr.To16()
	if v6 == nil {
		return ""
	}
	var b strings.Builder
	for i := len(v6) - 1; i >= 0; i-- {
		hi := v6[i] >> 4
		lo := v6[i] & 0x0f
		b.WriteString(strconv.FormatUint(uint64(lo), 16))
		b.WriteByte('.')
		b.WriteString(strconv.FormatUint(uint64(hi), 16))
		b.WriteByte('.')
	}
	b.WriteString("ip6.arpa.")
	return b.String()
}
