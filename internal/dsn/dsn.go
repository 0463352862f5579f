// Package dsn parses keystore connection strings of the form
//
//	driver:key=value;key=value;...
//
// The part before the first ':' names the driver. The remainder is a bag of
// ';'-separated attributes. host, port and timeout are interpreted here; every
// other key is kept verbatim for the driver to read.
package dsn

import (
	"fmt"
	"sort"
	"strings"
)

// NoPort is the port value used when the DSN carries no port attribute.
// Drivers treat it as "host is a local (unix-domain) address".
const NoPort = -1

// Attribute keys understood by the parser itself.
const (
	KeyHost    = "host"
	KeyPort    = "port"
	KeyTimeout = "timeout"
)

// Params holds the connection parameters extracted from a DSN.
type Params struct {
	Driver  string
	Host    string
	Port    int
	Timeout Timeval
	// Attrs holds every attribute, recognized or not. The last occurrence of a
	// repeated key wins.
	Attrs map[string]string

	// PortLax is set when the port text had no leading digits and was read as 0.
	PortLax bool
	// TimeoutInvalid is set when a timeout attribute was present but could not be
	// parsed; Timeout is then left zero.
	TimeoutInvalid bool
}

// HasHost reports whether a host attribute was supplied.
func (p Params) HasHost() bool {
	_, ok := p.Attrs[KeyHost]
	return ok
}

// Attr returns the named attribute or def when absent.
func (p Params) Attr(key, def string) string {
	if v, ok := p.Attrs[key]; ok {
		return v
	}
	return def
}

// Local reports whether the parameters address a unix-domain endpoint.
func (p Params) Local() bool {
	return p.Port == NoPort
}

// String renders the params for logs. Attribute values other than host, port
// and timeout are elided since they may carry credentials.
func (p Params) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:host=%s", p.Driver, p.Host)
	if p.Port != NoPort {
		fmt.Fprintf(&b, ";port=%d", p.Port)
	}
	if !p.Timeout.IsZero() {
		fmt.Fprintf(&b, ";timeout=%s", p.Timeout.Duration())
	}
	extra := make([]string, 0, len(p.Attrs))
	for k := range p.Attrs {
		switch k {
		case KeyHost, KeyPort, KeyTimeout:
			continue
		}
		extra = append(extra, k)
	}
	sort.Strings(extra)
	for _, k := range extra {
		fmt.Fprintf(&b, ";%s=***", k)
	}
	return b.String()
}

// SyntaxError describes one malformed piece of a DSN.
type SyntaxError struct {
	Segment string
	Offset  int
	Reason  string
}

func (e *SyntaxError) Error() string {
	if e.Segment == "" {
		return fmt.Sprintf("dsn: %s at offset %d", e.Reason, e.Offset)
	}
	return fmt.Sprintf("dsn: %s in segment %q at offset %d", e.Reason, e.Segment, e.Offset)
}

// SplitDriver returns the driver name and the attribute list of s.
func SplitDriver(s string) (name, rest string, err error) {
	name, rest, ok := strings.Cut(s, ":")
	if !ok {
		return "", "", &SyntaxError{Offset: len(s), Reason: "no driver separator ':'"}
	}
	return name, rest, nil
}

// Parse tokenizes s into Params. It fails only on structural problems: a
// missing driver separator or an attribute segment without '='. Lax port text
// and unparsable timeouts are reported through PortLax and TimeoutInvalid.
func Parse(s string) (Params, error) {
	name, rest, err := SplitDriver(s)
	if err != nil {
		return Params{}, err
	}
	p := Params{
		Driver: name,
		Port:   NoPort,
		Attrs:  make(map[string]string),
	}

	offset := len(name) + 1
	for _, seg := range strings.Split(rest, ";") {
		start := offset
		offset += len(seg) + 1
		if seg == "" {
			continue
		}
		key, value, ok := strings.Cut(seg, "=")
		if !ok {
			return Params{}, &SyntaxError{Segment: seg, Offset: start, Reason: "attribute without '='"}
		}
		if key == "" {
			return Params{}, &SyntaxError{Segment: seg, Offset: start, Reason: "empty attribute name"}
		}
		p.Attrs[key] = value
	}

	if host, ok := p.Attrs[KeyHost]; ok {
		p.Host = host
	}
	if port, ok := p.Attrs[KeyPort]; ok {
		p.Port, p.PortLax = ParsePort(port)
	}
	if timeout, ok := p.Attrs[KeyTimeout]; ok {
		tv, ok := ParseTimeout(timeout)
		p.Timeout = tv
		p.TimeoutInvalid = !ok
	}
	return p, nil
}

// ParsePort converts port text leniently: leading spaces, an
// optional sign, then the longest run of decimal digits. Text without digits
// yields 0 with lax set.
func ParsePort(s string) (port int, lax bool) {
	i := 0
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	neg := false
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		neg = s[i] == '-'
		i++
	}
	start := i
	n := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		if n < 1<<31 {
			n = n*10 + int(s[i]-'0')
		}
		i++
	}
	if i == start {
		return 0, true
	}
	if neg {
		n = -n
	}
	return n, false
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}
