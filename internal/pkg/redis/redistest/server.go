// Package redistest answers go-redis commands from memory through a process
// hook, so stores built on redis.Client can be tested without a server.
package redistest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"ordersaga/internal/pkg/redis"
)

// ScriptFunc stands in for a Lua script. It runs with the server locked.
type ScriptFunc func(s *Server, keys []string, args []string) (interface{}, error)

// Server is an in-memory keyspace covering the commands the stores issue:
// SET NX, DEL, RPUSH, LRANGE, PEXPIRE, SCRIPT LOAD, EVALSHA and EVAL.
type Server struct {
	mu      sync.Mutex
	strings map[string]string
	lists   map[string][]string
	ttls    map[string]time.Duration
	scripts map[string]ScriptFunc // by sha1
	loaded  map[string]bool
	fail    error
}

func NewServer() *Server {
	return &Server{
		strings: make(map[string]string),
		lists:   make(map[string][]string),
		ttls:    make(map[string]time.Duration),
		scripts: make(map[string]ScriptFunc),
		loaded:  make(map[string]bool),
	}
}

// Client returns a client whose commands never leave the process.
func (s *Server) Client() *redis.Client {
	rdb := goredis.NewClient(&goredis.Options{Addr: "redistest:0"})
	rdb.AddHook(hook{s})
	return redis.Wrap(rdb)
}

// Script registers fn as the implementation of the Lua source src.
func (s *Server) Script(src string, fn ScriptFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[sha(src)] = fn
}

// FailWith makes every following command fail with err; nil heals the server.
func (s *Server) FailWith(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

// List returns the list stored at key.
func (s *Server) List(key string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lists[key]...)
}

// TTL returns the expiry last set on key, zero when there is none.
func (s *Server) TTL(key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ttls[key]
}

// Exists reports whether key holds a string or a list.
func (s *Server) Exists(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exists(key)
}

// RPush appends values to a list; meant for ScriptFunc bodies.
func (s *Server) RPush(key string, values ...string) int64 {
	s.lists[key] = append(s.lists[key], values...)
	return int64(len(s.lists[key]))
}

// PExpire sets a TTL; meant for ScriptFunc bodies.
func (s *Server) PExpire(key string, ttl time.Duration) {
	s.ttls[key] = ttl
}

func (s *Server) exists(key string) bool {
	_, str := s.strings[key]
	_, list := s.lists[key]
	return str || list
}

func (s *Server) del(keys ...string) int64 {
	var n int64
	for _, k := range keys {
		if s.exists(k) {
			n++
		}
		delete(s.strings, k)
		delete(s.lists, k)
		delete(s.ttls, k)
	}
	return n
}

func (s *Server) process(cmd goredis.Cmder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		cmd.SetErr(s.fail)
		return s.fail
	}

	args := make([]string, len(cmd.Args()))
	for i, a := range cmd.Args() {
		args[i] = str(a)
	}
	var err error
	switch name := strings.ToLower(args[0]); name {
	case "set", "setnx":
		err = s.set(cmd, args)
	case "del":
		err = setVal(cmd, s.del(args[1:]...))
	case "rpush":
		err = setVal(cmd, s.RPush(args[1], args[2:]...))
	case "lrange":
		err = setVal(cmd, s.lrange(args))
	case "pexpire":
		ms, _ := strconv.ParseInt(args[2], 10, 64)
		s.PExpire(args[1], time.Duration(ms)*time.Millisecond)
		err = setVal(cmd, true)
	case "script":
		digest := sha(args[2])
		s.loaded[digest] = true
		err = setVal(cmd, digest)
	case "evalsha", "eval":
		err = s.eval(cmd, name, args)
	default:
		err = errors.Errorf("redistest: unsupported command %s", name)
	}
	if err != nil {
		cmd.SetErr(err)
	}
	return err
}

func (s *Server) set(cmd goredis.Cmder, args []string) error {
	key, value := args[1], args[2]
	nx := args[0] == "setnx"
	var ttl time.Duration
	for i := 3; i < len(args); i++ {
		switch strings.ToLower(args[i]) {
		case "nx":
			nx = true
		case "px", "ex":
			n, _ := strconv.ParseInt(args[i+1], 10, 64)
			ttl = time.Duration(n) * time.Millisecond
			if strings.ToLower(args[i]) == "ex" {
				ttl = time.Duration(n) * time.Second
			}
			i++
		}
	}
	if nx && s.exists(key) {
		return setVal(cmd, false)
	}
	s.strings[key] = value
	if ttl > 0 {
		s.ttls[key] = ttl
	}
	return setVal(cmd, true)
}

func (s *Server) lrange(args []string) []string {
	list := s.lists[args[1]]
	start, _ := strconv.Atoi(args[2])
	stop, _ := strconv.Atoi(args[3])
	if stop < 0 {
		stop = len(list) + stop
	}
	if start < 0 {
		start = 0
	}
	if stop >= len(list) {
		stop = len(list) - 1
	}
	if start > stop {
		return []string{}
	}
	return append([]string(nil), list[start:stop+1]...)
}

func (s *Server) eval(cmd goredis.Cmder, name string, args []string) error {
	digest := args[1]
	if name == "eval" {
		digest = sha(args[1])
	} else if !s.loaded[digest] {
		return noScript("NOSCRIPT No matching script. Please use EVAL.")
	}
	fn, ok := s.scripts[digest]
	if !ok {
		return errors.Errorf("redistest: no implementation for script %s", digest)
	}
	n, err := strconv.Atoi(args[2])
	if err != nil {
		return errors.Wrap(err, "redistest: numkeys")
	}
	res, err := fn(s, args[3:3+n], args[3+n:])
	if err != nil {
		return err
	}
	return setVal(cmd, res)
}

func setVal(cmd goredis.Cmder, v interface{}) error {
	switch c := cmd.(type) {
	case *goredis.Cmd:
		c.SetVal(v)
	case *goredis.BoolCmd:
		b, _ := v.(bool)
		c.SetVal(b)
	case *goredis.IntCmd:
		n, _ := v.(int64)
		c.SetVal(n)
	case *goredis.StringCmd:
		c.SetVal(str(v))
	case *goredis.StringSliceCmd:
		ss, _ := v.([]string)
		c.SetVal(ss)
	case *goredis.StatusCmd:
		c.SetVal(str(v))
	default:
		return errors.Errorf("redistest: unsupported reply type %T", cmd)
	}
	return nil
}

func str(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

func sha(src string) string {
	sum := sha1.Sum([]byte(src))
	return hex.EncodeToString(sum[:])
}

// noScript is a server reply error, which makes go-redis fall back to EVAL.
type noScript string

func (e noScript) Error() string { return string(e) }
func (noScript) RedisError()     {}

type hook struct{ s *Server }

func (h hook) DialHook(goredis.DialHook) goredis.DialHook {
	return func(context.Context, string, string) (net.Conn, error) {
		return nil, errors.New("redistest: no network")
	}
}

func (h hook) ProcessHook(goredis.ProcessHook) goredis.ProcessHook {
	return func(_ context.Context, cmd goredis.Cmder) error {
		return h.s.process(cmd)
	}
}

func (h hook) ProcessPipelineHook(goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(_ context.Context, cmds []goredis.Cmder) error {
		for _, cmd := range cmds {
			if err := h.s.process(cmd); err != nil {
				return err
			}
		}
		return nil
	}
}
