// =============================================================================
// 文件: internal/transport/udp.go
// 描述: UDP 数据报端点 - 单一对端、三态轮询
// =============================================================================
package transport

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/mrcgq/233/internal/protocol"
)

// UDPConfig UDP 端点配置
type UDPConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
}

// DefaultUDPConfig 默认 UDP 配置
func DefaultUDPConfig() *UDPConfig {
	return &UDPConfig{
		ReadBufferSize:  defaultReadBufferSize,
		WriteBufferSize: defaultWriteBufferSize,
	}
}

// UDPEndpoint UDP 数据报端点
type UDPEndpoint struct {
	conn *net.UDPConn
	peer *net.UDPAddr

	readBuf []byte

	// 统计
	datagramsSent uint64
	datagramsRecv uint64
	bytesSent     uint64
	bytesRecv     uint64
	sendErrors    uint64
}

// NewUDPEndpoint 创建 UDP 端点，绑定本地地址并锁定对端
//
// 绑定失败是启动期致命错误，由调用方决定退出。
func NewUDPEndpoint(listen, peer string, cfg *UDPConfig) (*UDPEndpoint, error) {
	if cfg == nil {
		cfg = DefaultUDPConfig()
	}

	localAddr, err := net.ResolveUDPAddr("udp", listen)
	if err != nil {
		return nil, fmt.Errorf("解析本地地址: %w", err)
	}
	peerAddr, err := net.ResolveUDPAddr("udp", peer)
	if err != nil {
		return nil, fmt.Errorf("解析对端地址: %w", err)
	}

	conn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("绑定 %s 失败: %w", listen, err)
	}

	// 缓冲区设置失败只是性能问题，不中断启动
	if cfg.ReadBufferSize > 0 {
		_ = conn.SetReadBuffer(cfg.ReadBufferSize)
	}
	if cfg.WriteBufferSize > 0 {
		_ = conn.SetWriteBuffer(cfg.WriteBufferSize)
	}

	return &UDPEndpoint{
		conn:    conn,
		peer:    peerAddr,
		readBuf: make([]byte, protocol.MaxDatagramSize+1),
	}, nil
}

// Send 向对端发送一个数据报
func (e *UDPEndpoint) Send(data []byte) error {
	if len(data) > protocol.MaxDatagramSize {
		return fmt.Errorf("数据报 %d 字节超出上限 %d", len(data), protocol.MaxDatagramSize)
	}

	n, err := e.conn.WriteToUDP(data, e.peer)
	if err != nil {
		atomic.AddUint64(&e.sendErrors, 1)
		return fmt.Errorf("UDP 发送失败: %w", err)
	}

	atomic.AddUint64(&e.datagramsSent, 1)
	atomic.AddUint64(&e.bytesSent, uint64(n))
	return nil
}

// Poll 在 timeout 内等待一个入站数据报
//
// 超时不是错误: 返回 PollIdle，调用方继续下一轮循环。
func (e *UDPEndpoint) Poll(timeout time.Duration) ([]byte, PollStatus, error) {
	if err := e.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, PollError, fmt.Errorf("设置读超时: %w", err)
	}

	n, _, err := e.conn.ReadFromUDP(e.readBuf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, PollIdle, nil
		}
		return nil, PollError, fmt.Errorf("UDP 接收失败: %w", err)
	}

	atomic.AddUint64(&e.datagramsRecv, 1)
	atomic.AddUint64(&e.bytesRecv, uint64(n))

	data := make([]byte, n)
	copy(data, e.readBuf[:n])
	return data, PollData, nil
}

// LocalAddr 本地绑定地址
func (e *UDPEndpoint) LocalAddr() net.Addr {
	return e.conn.LocalAddr()
}

// Close 关闭端点
func (e *UDPEndpoint) Close() error {
	return e.conn.Close()
}

// DatagramsSent 已发送数据报数
func (e *UDPEndpoint) DatagramsSent() uint64 {
	return atomic.LoadUint64(&e.datagramsSent)
}

// DatagramsRecv 已接收数据报数
func (e *UDPEndpoint) DatagramsRecv() uint64 {
	return atomic.LoadUint64(&e.datagramsRecv)
}
