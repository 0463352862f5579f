package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/gomodule/redigo/redis"
)

// fakeServer is a tiny in-memory Redis that testConns talk to.
type fakeServer struct {
	mu      sync.Mutex
	data    map[string]string
	conns   []*testConn
	dials   []string
	dialErr error
	// next, if set, is handed out by the next dial instead of a fresh conn.
	next *testConn
}

func newFakeServer() *fakeServer {
	return &fakeServer{data: make(map[string]string)}
}

func (s *fakeServer) dial(_ context.Context, network, address string, _ ...redis.DialOption) (redis.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dials = append(s.dials, network+" "+address)
	if s.dialErr != nil {
		return nil, s.dialErr
	}
	c := s.next
	s.next = nil
	if c == nil {
		c = &testConn{}
	}
	c.server = s
	s.conns = append(s.conns, c)
	return c, nil
}

func (s *fakeServer) dialCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dials)
}

func (s *fakeServer) exec(cmd string, args []any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	str := func(i int) string { return fmt.Sprint(args[i]) }

	switch strings.ToUpper(cmd) {
	case "PING":
		return "PONG", nil
	case "GET":
		v, ok := s.data[str(0)]
		if !ok {
			return nil, nil
		}
		return []byte(v), nil
	case "SET":
		s.data[str(0)] = str(1)
		return "OK", nil
	case "SETNX":
		if _, ok := s.data[str(0)]; ok {
			return int64(0), nil
		}
		s.data[str(0)] = str(1)
		return int64(1), nil
	case "EXISTS", "EXPIRE":
		if _, ok := s.data[str(0)]; ok {
			return int64(1), nil
		}
		return int64(0), nil
	case "DEL":
		if _, ok := s.data[str(0)]; ok {
			delete(s.data, str(0))
			return int64(1), nil
		}
		return int64(0), nil
	case "INCR", "DECR":
		v, ok := s.data[str(0)]
		if !ok {
			v = "0"
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, redis.Error("ERR value is not an integer or out of range")
		}
		if strings.ToUpper(cmd) == "INCR" {
			n++
		} else {
			n--
		}
		s.data[str(0)] = strconv.FormatInt(n, 10)
		return n, nil
	case "KEYS":
		return []any{}, nil
	}
	return nil, redis.Error(fmt.Sprintf("ERR unknown command '%s'", cmd))
}

type pending struct {
	cmd  string
	args []any
}

// testConn records its history and answers from the fake server. The hooks
// override individual calls. It is deliberately unsynchronized: a
// dispatcher that lets two goroutines drive one conn trips the race detector.
type testConn struct {
	History   []string
	CloseFn   func() error
	ErrFn     func() error
	SendFn    func(commandName string, args ...interface{}) error
	FlushFn   func() error
	ReceiveFn func() (reply interface{}, err error)

	server  *fakeServer
	queue   []pending
	flushed int
	closed  bool
}

func (t *testConn) Record(cmd string, args ...interface{}) {
	sa := []string{}
	for _, v := range args {
		if v == nil {
			continue
		}
		sa = append(sa, fmt.Sprint(v))
	}
	t.History = append(t.History, strings.TrimSpace(fmt.Sprintf("%s %s", cmd, strings.Join(sa, " "))))
}

func (t *testConn) Close() error {
	t.Record("Close()", nil)
	t.closed = true
	if t.CloseFn != nil {
		return t.CloseFn()
	}
	return nil
}

func (t *testConn) Err() error {
	if t.ErrFn != nil {
		return t.ErrFn()
	}
	return nil
}

func (t *testConn) Do(commandName string, args ...interface{}) (interface{}, error) {
	if err := t.Send(commandName, args...); err != nil {
		return nil, err
	}
	if err := t.Flush(); err != nil {
		return nil, err
	}
	return t.Receive()
}

func (t *testConn) Send(commandName string, args ...interface{}) error {
	t.Record(commandName, args...)
	if t.SendFn != nil {
		return t.SendFn(commandName, args...)
	}
	t.queue = append(t.queue, pending{cmd: commandName, args: args})
	return nil
}

func (t *testConn) Flush() error {
	t.Record("Flush()", nil)
	if t.FlushFn != nil {
		return t.FlushFn()
	}
	t.flushed = len(t.queue)
	return nil
}

func (t *testConn) Receive() (interface{}, error) {
	t.Record("Receive()", nil)
	if t.ReceiveFn != nil {
		return t.ReceiveFn()
	}
	if t.flushed == 0 {
		return nil, fmt.Errorf("receive with nothing flushed")
	}
	p := t.queue[0]
	t.queue = t.queue[1:]
	t.flushed--
	return t.server.exec(p.cmd, p.args)
}

func (t *testConn) isClosed() bool {
	return t.closed
}
