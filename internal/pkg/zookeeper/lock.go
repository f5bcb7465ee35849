// internal/pkg/zookeeper/lock.go
package zookeeper

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"

	"ordersaga/internal/pkg/logger"
)

const lockRoot = "/ordersaga_locks"

// Conn is the subset of *zk.Conn the lock needs.
type Conn interface {
	Exists(path string) (bool, *zk.Stat, error)
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	CreateProtectedEphemeralSequential(path string, data []byte, acl []zk.ACL) (string, error)
	Children(path string) ([]string, *zk.Stat, error)
	Delete(path string, version int32) error
}

// Connect opens a session and waits until it is established or ctx is done.
func Connect(ctx context.Context, servers []string, sessionTimeout time.Duration) (*zk.Conn, error) {
	conn, events, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "connect zookeeper")
	}
	for {
		select {
		case ev := <-events:
			if ev.State == zk.StateHasSession {
				logger.Ctx(ctx).Info().Strs("servers", servers).Msg("✅ Successfully connected to ZooKeeper.")
				return conn, nil
			}
		case <-ctx.Done():
			conn.Close()
			return nil, errors.Wrap(ctx.Err(), "waiting for zookeeper session")
		}
	}
}

// DistributedLock is a non-blocking lock over ephemeral sequential nodes. The
// lowest sequence number under the lock path holds it.
type DistributedLock struct {
	conn     Conn
	path     string
	lockNode string
}

func NewDistributedLock(conn Conn, resourceID string) (*DistributedLock, error) {
	lockPath := lockRoot + "/" + resourceID
	for _, p := range []string{lockRoot, lockPath} {
		if err := ensureNode(conn, p); err != nil {
			return nil, err
		}
	}
	return &DistributedLock{conn: conn, path: lockPath}, nil
}

func ensureNode(conn Conn, path string) error {
	exists, _, err := conn.Exists(path)
	if err != nil {
		return errors.Wrapf(err, "check lock node %s", path)
	}
	if exists {
		return nil
	}
	if _, err := conn.Create(path, []byte(""), 0, zk.WorldACL(zk.PermAll)); err != nil && !errors.Is(err, zk.ErrNodeExists) {
		return errors.Wrapf(err, "create lock node %s", path)
	}
	return nil
}

// TryLock creates this holder's node and keeps it only if it is the lowest.
func (l *DistributedLock) TryLock() (bool, error) {
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/lock-", []byte(""), zk.WorldACL(zk.PermAll))
	if err != nil {
		return false, errors.Wrap(err, "failed to create sequential node")
	}
	children, _, err := l.conn.Children(l.path)
	if err != nil {
		_ = l.conn.Delete(nodePath, -1)
		return false, errors.Wrap(err, "failed to get children nodes")
	}
	// Protected nodes carry a GUID prefix; order by the sequence suffix.
	sort.Slice(children, func(i, j int) bool { return sequence(children[i]) < sequence(children[j]) })

	myNodeName := strings.TrimPrefix(nodePath, l.path+"/")
	if len(children) > 0 && children[0] == myNodeName {
		l.lockNode = nodePath
		return true, nil
	}
	if err := l.conn.Delete(nodePath, -1); err != nil && !errors.Is(err, zk.ErrNoNode) {
		return false, errors.Wrap(err, "failed to withdraw lock node")
	}
	return false, nil
}

func (l *DistributedLock) Unlock() error {
	if l.lockNode == "" {
		return errors.New("no lock to unlock")
	}
	err := l.conn.Delete(l.lockNode, -1)
	if err != nil && !errors.Is(err, zk.ErrNoNode) {
		return errors.Wrap(err, "failed to delete lock node")
	}
	l.lockNode = ""
	return nil
}

func sequence(node string) string {
	if i := strings.LastIndex(node, "lock-"); i >= 0 {
		return node[i+len("lock-"):]
	}
	return node
}

// Locker hands out one DistributedLock per TryLock call.
type Locker struct {
	conn Conn
}

func NewLocker(conn Conn) *Locker {
	return &Locker{conn: conn}
}

func (l *Locker) TryLock(ctx context.Context, name string) (func(), bool, error) {
	lock, err := NewDistributedLock(l.conn, name)
	if err != nil {
		return nil, false, err
	}
	ok, err := lock.TryLock()
	if err != nil || !ok {
		return nil, false, err
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("lock", name).Msg("failed to release zookeeper lock")
		}
	}, true, nil
}
