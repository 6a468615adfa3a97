package kvserver

import (
	"bytes"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/lxzan/gws"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/mechanism-s/silkrpc/constants"
	"github.com/mechanism-s/silkrpc/kv"
	"github.com/mechanism-s/silkrpc/utils"
)

// Server speaks the remote KV wire protocol over a websocket endpoint,
// backed by a local store. One connection carries one transaction: the first
// outbound frame assigns the txn id, every request frame is answered by
// exactly one Pair in FIFO order.
//
// This is a development and integration fixture, not the execution node.
type Server struct {
	store  *Store
	nextTx atomic.Uint64

	listener net.Listener
	server   *http.Server
}

func NewServer(store *Store) *Server {
	return &Server{store: store}
}

// Start binds addr and begins serving. Use Addr to learn the bound address
// when addr carries port zero.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("kv server listen: %w", err)
	}
	s.listener = listener

	upgrader := gws.NewUpgrader(&txHandler{server: s}, &gws.ServerOption{})

	mux := http.NewServeMux()
	mux.HandleFunc(constants.KvStreamRoute, func(w http.ResponseWriter, r *http.Request) {
		socket, err := upgrader.Upgrade(w, r)
		if err != nil {
			return
		}
		go socket.ReadLoop()
	})

	s.server = &http.Server{Handler: mux}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			utils.LogWithTime(fmt.Sprintf("Error in kv server: %s", err), utils.RED_COLOR)
		}
	}()
	return nil
}

func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// URL returns the websocket endpoint clients dial.
func (s *Server) URL() string {
	return "ws://" + s.Addr() + constants.KvStreamRoute
}

func (s *Server) Close() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// session is the per-connection transaction state.
type session struct {
	txnId      uint64
	mu         sync.Mutex
	nextCursor uint32
	cursors    map[uint32]*srvCursor
}

// srvCursor wraps one iterator over a table prefix.
type srvCursor struct {
	table   string
	prefix  []byte
	dupSort bool
	dupKey  []byte // key part the dup family iterates within
	iter    iterator.Iterator
}

const sessionKey = "kv-session"

type txHandler struct {
	gws.BuiltinEventHandler
	server *Server
}

func (h *txHandler) OnOpen(socket *gws.Conn) {
	sess := &session{
		txnId:      h.server.nextTx.Add(1),
		nextCursor: 0,
		cursors:    map[uint32]*srvCursor{},
	}
	socket.Session().Store(sessionKey, sess)

	first := kv.Pair{TxnId: sess.txnId}
	_ = socket.WriteMessage(gws.OpcodeBinary, first.Encode())
}

func (h *txHandler) OnClose(socket *gws.Conn, err error) {
	if v, ok := socket.Session().Load(sessionKey); ok {
		sess := v.(*session)
		sess.mu.Lock()
		for _, cursor := range sess.cursors {
			if cursor.iter != nil {
				cursor.iter.Release()
			}
		}
		sess.cursors = map[uint32]*srvCursor{}
		sess.mu.Unlock()
	}
}

func (h *txHandler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	v, ok := socket.Session().Load(sessionKey)
	if !ok {
		return
	}
	sess := v.(*session)

	req, err := kv.DecodeCursor(message.Bytes())
	if err != nil {
		// A malformed frame breaks the pairing contract; drop the stream.
		_ = socket.WriteClose(1002, []byte("bad frame"))
		return
	}

	reply := h.serve(sess, req)
	_ = socket.WriteMessage(gws.OpcodeBinary, reply.Encode())
}

func (h *txHandler) serve(sess *session, req kv.Cursor) kv.Pair {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	switch req.Op {
	case kv.OpOpen, kv.OpOpenDupSort:
		sess.nextCursor++
		id := sess.nextCursor
		prefix := tablePrefix(req.Table)
		sess.cursors[id] = &srvCursor{
			table:   req.Table,
			prefix:  prefix,
			dupSort: req.Op == kv.OpOpenDupSort || constants.DupSortTables[req.Table],
			iter:    h.server.store.db.NewIterator(util.BytesPrefix(prefix), nil),
		}
		return kv.Pair{CursorId: id}

	case kv.OpClose:
		if cursor, ok := sess.cursors[req.CursorId]; ok {
			if cursor.iter != nil {
				cursor.iter.Release()
			}
			delete(sess.cursors, req.CursorId)
		}
		return kv.Pair{CursorId: req.CursorId}
	}

	cursor, ok := sess.cursors[req.CursorId]
	if !ok {
		return kv.Pair{}
	}

	switch req.Op {
	case kv.OpSeek:
		return cursor.pairAt(cursor.iter.Seek(concat(cursor.prefix, req.Key)))
	case kv.OpSeekExact:
		if cursor.iter.Seek(concat(cursor.prefix, req.Key)) {
			if bytes.Equal(cursor.stripPrefix(), req.Key) {
				return cursor.pairAt(true)
			}
		}
		return kv.Pair{}
	case kv.OpNext:
		return cursor.pairAt(cursor.iter.Next())
	case kv.OpPrev:
		return cursor.pairAt(cursor.iter.Prev())
	case kv.OpFirst:
		return cursor.pairAt(cursor.iter.First())
	case kv.OpLast:
		return cursor.pairAt(cursor.iter.Last())
	case kv.OpCurrent:
		return cursor.pairAt(cursor.iter.Valid())
	case kv.OpSeekBoth:
		return cursor.seekBoth(req.Key, req.SubKey, false)
	case kv.OpSeekBothExact:
		return cursor.seekBoth(req.Key, req.SubKey, true)
	case kv.OpNextDup:
		return cursor.stepDup(cursor.iter.Next())
	case kv.OpPrevDup:
		return cursor.stepDup(cursor.iter.Prev())
	case kv.OpNextNoDup:
		return cursor.nextNoDup()
	default:
		return kv.Pair{}
	}
}

func (c *srvCursor) stripPrefix() []byte {
	key := c.iter.Key()
	if len(key) < len(c.prefix) {
		return nil
	}
	return key[len(c.prefix):]
}

func (c *srvCursor) pairAt(valid bool) kv.Pair {
	if !valid || !bytes.HasPrefix(c.iter.Key(), c.prefix) {
		return kv.Pair{}
	}
	key := append([]byte(nil), c.stripPrefix()...)
	value := append([]byte(nil), c.iter.Value()...)
	return kv.Pair{Key: key, Value: value}
}

// seekBoth positions at key and the first dup value >= subkey. Dup entries
// carry the value inside the composite ldb key.
func (c *srvCursor) seekBoth(key, subkey []byte, exact bool) kv.Pair {
	if !c.dupSort {
		return kv.Pair{}
	}
	c.dupKey = append([]byte(nil), key...)
	target := concat(concat(c.prefix, key), subkey)
	if !c.iter.Seek(target) {
		return kv.Pair{}
	}
	full := c.iter.Key()
	keyPrefix := concat(c.prefix, key)
	if !bytes.HasPrefix(full, keyPrefix) {
		return kv.Pair{}
	}
	value := append([]byte(nil), full[len(keyPrefix):]...)
	if exact && !bytes.HasPrefix(value, subkey) {
		return kv.Pair{}
	}
	return kv.Pair{Key: append([]byte(nil), key...), Value: value}
}

// stepDup advances within the dup values of the current key.
func (c *srvCursor) stepDup(valid bool) kv.Pair {
	if !c.dupSort || c.dupKey == nil || !valid {
		return kv.Pair{}
	}
	keyPrefix := concat(c.prefix, c.dupKey)
	full := c.iter.Key()
	if !bytes.HasPrefix(full, keyPrefix) {
		return kv.Pair{}
	}
	value := append([]byte(nil), full[len(keyPrefix):]...)
	return kv.Pair{Key: append([]byte(nil), c.dupKey...), Value: value}
}

// nextNoDup skips the remaining dup values of the current key.
func (c *srvCursor) nextNoDup() kv.Pair {
	if !c.dupSort || c.dupKey == nil {
		return kv.Pair{}
	}
	keyPrefix := concat(c.prefix, c.dupKey)
	for c.iter.Next() {
		if !bytes.HasPrefix(c.iter.Key(), keyPrefix) {
			break
		}
	}
	if !c.iter.Valid() || !bytes.HasPrefix(c.iter.Key(), c.prefix) {
		return kv.Pair{}
	}
	rest := c.stripPrefix()
	if len(rest) >= len(c.dupKey) {
		newKey := append([]byte(nil), rest[:len(c.dupKey)]...)
		value := append([]byte(nil), rest[len(c.dupKey):]...)
		c.dupKey = newKey
		return kv.Pair{Key: newKey, Value: value}
	}
	return kv.Pair{Key: append([]byte(nil), rest...)}
}

func concat(a, b []byte) []byte {
	out := make([]byte, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}
