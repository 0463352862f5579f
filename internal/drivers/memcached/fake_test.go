package memcached

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// fakeServer speaks the subset of the memcached text protocol the client
// uses: gets, set, add, delete, touch, incr and decr.
type fakeServer struct {
	ln net.Listener

	mu       sync.Mutex
	data     map[string][]byte
	exptimes map[string]int64
	commands []string
	hangups  int
}

func startFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeServer{ln: ln, data: map[string][]byte{}, exptimes: map[string]int64{}}
	go s.serve()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *fakeServer) dsn() string {
	host, port, _ := net.SplitHostPort(s.ln.Addr().String())
	return "memcached:host=" + host + ";port=" + port
}

func (s *fakeServer) seen(verb string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.commands {
		if c == verb {
			n++
		}
	}
	return n
}

// disconnects returns how many client sockets have been closed.
func (s *fakeServer) disconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hangups
}

func (s *fakeServer) serve() {
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(c)
	}
}

func (s *fakeServer) handle(c net.Conn) {
	defer c.Close()
	defer func() {
		s.mu.Lock()
		s.hangups++
		s.mu.Unlock()
	}()
	rw := bufio.NewReadWriter(bufio.NewReader(c), bufio.NewWriter(c))
	for {
		line, err := rw.ReadString('\n')
		if err != nil {
			return
		}
		f := strings.Fields(line)
		if len(f) == 0 {
			continue
		}
		s.mu.Lock()
		s.commands = append(s.commands, f[0])
		s.mu.Unlock()

		switch f[0] {
		case "get", "gets":
			s.mu.Lock()
			for i, key := range f[1:] {
				if v, ok := s.data[key]; ok {
					fmt.Fprintf(rw, "VALUE %s 0 %d %d\r\n%s\r\n", key, len(v), i+1, v)
				}
			}
			s.mu.Unlock()
			rw.WriteString("END\r\n")
		case "set", "add":
			size, _ := strconv.Atoi(f[4])
			buf := make([]byte, size+2)
			if _, err := io.ReadFull(rw, buf); err != nil {
				return
			}
			exp, _ := strconv.ParseInt(f[3], 10, 64)
			s.mu.Lock()
			if _, ok := s.data[f[1]]; ok && f[0] == "add" {
				rw.WriteString("NOT_STORED\r\n")
			} else {
				s.data[f[1]] = buf[:size]
				s.exptimes[f[1]] = exp
				rw.WriteString("STORED\r\n")
			}
			s.mu.Unlock()
		case "delete":
			s.mu.Lock()
			if _, ok := s.data[f[1]]; ok {
				delete(s.data, f[1])
				rw.WriteString("DELETED\r\n")
			} else {
				rw.WriteString("NOT_FOUND\r\n")
			}
			s.mu.Unlock()
		case "touch":
			exp, _ := strconv.ParseInt(f[2], 10, 64)
			s.mu.Lock()
			if _, ok := s.data[f[1]]; ok {
				s.exptimes[f[1]] = exp
				rw.WriteString("TOUCHED\r\n")
			} else {
				rw.WriteString("NOT_FOUND\r\n")
			}
			s.mu.Unlock()
		case "incr", "decr":
			delta, _ := strconv.ParseUint(f[2], 10, 64)
			s.mu.Lock()
			v, ok := s.data[f[1]]
			if !ok {
				rw.WriteString("NOT_FOUND\r\n")
				s.mu.Unlock()
				break
			}
			n, err := strconv.ParseUint(string(v), 10, 64)
			if err != nil {
				rw.WriteString("CLIENT_ERROR cannot increment or decrement non-numeric value\r\n")
				s.mu.Unlock()
				break
			}
			if f[0] == "incr" {
				n += delta
			} else if n < delta {
				n = 0
			} else {
				n -= delta
			}
			s.data[f[1]] = []byte(strconv.FormatUint(n, 10))
			s.mu.Unlock()
			fmt.Fprintf(rw, "%d\r\n", n)
		default:
			rw.WriteString("ERROR\r\n")
		}
		if err := rw.Flush(); err != nil {
			return
		}
	}
}
