// =============================================================================
// 文件: internal/transport/websocket.go
// 描述: WebSocket 数据报端点 - UDP 被封锁的网络下的备用链路
//       一条二进制消息 = 一个数据报，边界语义与 UDP 一致
// =============================================================================
package transport

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mrcgq/233/internal/protocol"
)

// WSConfig WebSocket 端点配置
type WSConfig struct {
	Path string // 升级路径，如 /cast
}

// DefaultWSConfig 默认 WebSocket 配置
func DefaultWSConfig() *WSConfig {
	return &WSConfig{Path: "/cast"}
}

// WSEndpoint WebSocket 数据报端点
//
// listen 模式起 HTTP 服务等待唯一对端接入，dial 模式主动连接对端。
// 协议假定单一固定对端，后续接入会顶掉旧连接。
type WSEndpoint struct {
	httpServer *http.Server
	upgrader   websocket.Upgrader
	localAddr  net.Addr

	connMu sync.Mutex
	conn   *websocket.Conn

	// 读协程把消息搬进队列，Poll 从队列取，保持引擎侧单线程
	recvCh chan []byte
	stopCh chan struct{}
	closed int32

	datagramsSent uint64
	datagramsRecv uint64
}

// NewWSListenEndpoint 创建监听模式端点
func NewWSListenEndpoint(listen string, cfg *WSConfig) (*WSEndpoint, error) {
	if cfg == nil {
		cfg = DefaultWSConfig()
	}

	e := &WSEndpoint{
		recvCh: make(chan []byte, 1024),
		stopCh: make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("绑定 %s 失败: %w", listen, err)
	}
	e.localAddr = ln.Addr()

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, e.handleUpgrade)

	e.httpServer = &http.Server{Handler: mux}
	go func() {
		_ = e.httpServer.Serve(ln)
	}()

	return e, nil
}

// NewWSDialEndpoint 创建拨号模式端点
func NewWSDialEndpoint(peer string, cfg *WSConfig) (*WSEndpoint, error) {
	if cfg == nil {
		cfg = DefaultWSConfig()
	}

	url := fmt.Sprintf("ws://%s%s", peer, cfg.Path)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("连接 %s 失败: %w", url, err)
	}

	e := &WSEndpoint{
		conn:      conn,
		localAddr: conn.LocalAddr(),
		recvCh:    make(chan []byte, 1024),
		stopCh:    make(chan struct{}),
	}
	go e.readLoop(conn)

	return e, nil
}

func (e *WSEndpoint) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	e.connMu.Lock()
	if e.conn != nil {
		_ = e.conn.Close()
	}
	e.conn = conn
	e.connMu.Unlock()

	go e.readLoop(conn)
}

func (e *WSEndpoint) readLoop(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		select {
		case e.recvCh <- data:
		case <-e.stopCh:
			return
		default:
			// 队列满时丢弃，交给 ARQ 层重传补救
		}
	}
}

// Send 向对端发送一个数据报
func (e *WSEndpoint) Send(data []byte) error {
	if len(data) > protocol.MaxDatagramSize {
		return fmt.Errorf("数据报 %d 字节超出上限 %d", len(data), protocol.MaxDatagramSize)
	}

	e.connMu.Lock()
	defer e.connMu.Unlock()

	if e.conn == nil {
		return fmt.Errorf("WebSocket 对端尚未接入")
	}
	if err := e.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("WebSocket 发送失败: %w", err)
	}

	atomic.AddUint64(&e.datagramsSent, 1)
	return nil
}

// Poll 在 timeout 内等待一个入站数据报
func (e *WSEndpoint) Poll(timeout time.Duration) ([]byte, PollStatus, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data := <-e.recvCh:
		atomic.AddUint64(&e.datagramsRecv, 1)
		return data, PollData, nil
	case <-timer.C:
		return nil, PollIdle, nil
	case <-e.stopCh:
		return nil, PollError, fmt.Errorf("WebSocket 端点已关闭")
	}
}

// LocalAddr 本地绑定地址
func (e *WSEndpoint) LocalAddr() net.Addr {
	return e.localAddr
}

// DatagramsSent 已发送数据报计数
func (e *WSEndpoint) DatagramsSent() uint64 {
	return atomic.LoadUint64(&e.datagramsSent)
}

// DatagramsRecv 已接收数据报计数
func (e *WSEndpoint) DatagramsRecv() uint64 {
	return atomic.LoadUint64(&e.datagramsRecv)
}

// Close 关闭端点
func (e *WSEndpoint) Close() error {
	if !atomic.CompareAndSwapInt32(&e.closed, 0, 1) {
		return nil
	}
	close(e.stopCh)

	e.connMu.Lock()
	if e.conn != nil {
		_ = e.conn.Close()
	}
	e.connMu.Unlock()

	if e.httpServer != nil {
		return e.httpServer.Close()
	}
	return nil
}
