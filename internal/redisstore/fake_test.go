package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/gomodule/redigo/redis"
)

// fakeRedis implements the handful of commands this package issues.
type fakeRedis struct {
	mu      sync.Mutex
	strings map[string][]byte
	lists   map[string][][]byte
	ttls    map[string]int
	closed  int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		strings: map[string][]byte{},
		lists:   map[string][][]byte{},
		ttls:    map[string]int{},
	}
}

func (f *fakeRedis) GetContext(context.Context) (redis.Conn, error) {
	return &fakeConn{f: f}, nil
}

type fakeConn struct {
	f *fakeRedis
}

func (c *fakeConn) Close() error {
	c.f.mu.Lock()
	c.f.closed++
	c.f.mu.Unlock()
	return nil
}

func (c *fakeConn) Err() error                        { return nil }
func (c *fakeConn) Send(string, ...interface{}) error { return nil }
func (c *fakeConn) Flush() error                      { return nil }
func (c *fakeConn) Receive() (interface{}, error)     { return nil, nil }

func str(v interface{}) string {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(v)
}

func (c *fakeConn) Do(cmd string, args ...interface{}) (interface{}, error) {
	f := c.f
	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd {
	case "PING":
		return "PONG", nil
	case "GET":
		v, ok := f.strings[str(args[0])]
		if !ok {
			return nil, nil
		}
		return v, nil
	case "SETEX":
		key := str(args[0])
		ttl, _ := strconv.Atoi(str(args[1]))
		f.strings[key] = []byte(str(args[2]))
		f.ttls[key] = ttl
		return "OK", nil
	case "DEL":
		var n int64
		for _, a := range args {
			key := str(a)
			if _, ok := f.strings[key]; ok {
				n++
			}
			if _, ok := f.lists[key]; ok {
				n++
			}
			delete(f.strings, key)
			delete(f.lists, key)
			delete(f.ttls, key)
		}
		return n, nil
	case "SCAN":
		pattern := strings.TrimSuffix(str(args[2]), "*")
		keys := []interface{}{}
		for k := range f.strings {
			if strings.HasPrefix(k, pattern) {
				keys = append(keys, []byte(k))
			}
		}
		return []interface{}{[]byte("0"), keys}, nil
	case "INCR":
		key := str(args[0])
		n, _ := strconv.ParseInt(string(f.strings[key]), 10, 64)
		n++
		f.strings[key] = []byte(strconv.FormatInt(n, 10))
		return n, nil
	case "LPUSH":
		key := str(args[0])
		f.lists[key] = append([][]byte{[]byte(str(args[1]))}, f.lists[key]...)
		return int64(len(f.lists[key])), nil
	case "LTRIM":
		key := str(args[0])
		stop, _ := strconv.Atoi(str(args[2]))
		if stop+1 < len(f.lists[key]) {
			f.lists[key] = f.lists[key][:stop+1]
		}
		return "OK", nil
	case "LRANGE":
		out := []interface{}{}
		for _, v := range f.lists[str(args[0])] {
			out = append(out, v)
		}
		return out, nil
	case "EXPIRE":
		ttl, _ := strconv.Atoi(str(args[1]))
		f.ttls[str(args[0])] = ttl
		return int64(1), nil
	}
	return nil, fmt.Errorf("unsupported command %s", cmd)
}
