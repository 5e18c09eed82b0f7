// =============================================================================
// 文件: internal/transport/types.go
// 描述: 传输层与 ARQ 引擎 - 统一类型定义 (唯一定义位置)
// =============================================================================
package transport

import (
	"errors"
	"net"
	"time"
)

// 默认参数
const (
	DefaultWindowSize       = 5
	DefaultRTO              = 1 * time.Second
	DefaultMaxRetries       = 3
	DefaultPollTimeout      = 100 * time.Millisecond
	DefaultReassemblyExpiry = 5 * time.Second

	// 缓冲区配置
	defaultReadBufferSize  = 8 * 1024 * 1024
	defaultWriteBufferSize = 8 * 1024 * 1024
)

// 引擎错误
var (
	// ErrWindowFull 发送窗口已满，属于背压信号而非故障，调用方下个周期重试即可
	ErrWindowFull = errors.New("发送窗口已满")
)

// LossPolicy 重试耗尽后的处理策略
type LossPolicy string

const (
	// LossPolicyStall 可靠优先: 帧留在窗口内直至确认，窗口可能在 base 处永久停滞
	LossPolicyStall LossPolicy = "stall"

	// LossPolicyDrop 活性优先: 重试耗尽后放弃该帧并允许窗口前进
	LossPolicyDrop LossPolicy = "drop"
)

// Valid 检查策略取值
func (p LossPolicy) Valid() bool {
	return p == LossPolicyStall || p == LossPolicyDrop
}

// =============================================================================
// 传输层抽象
// =============================================================================

// PollStatus 轮询结果三态
type PollStatus uint8

const (
	PollData  PollStatus = iota // 收到一个数据报
	PollIdle                    // 超时内没有数据，正常状态
	PollError                   // 传输层故障
)

// Endpoint 数据报端点
//
// 面向单一固定对端收发有大小上限的数据报，自身不提供任何可靠性保证。
// "没有数据" 是三态结果之一，不作为错误上报。
type Endpoint interface {
	// Send 向对端发送一个数据报
	Send(data []byte) error

	// Poll 在 timeout 内等待一个入站数据报
	Poll(timeout time.Duration) ([]byte, PollStatus, error)

	// LocalAddr 本地绑定地址
	LocalAddr() net.Addr

	Close() error
}

// =============================================================================
// 发送端类型
// =============================================================================

// FrameRecord 在途帧记录 (用于重传追踪)
type FrameRecord struct {
	Seq     uint32
	Payload []byte
	SentAt  time.Time
	Retries int
}

// SenderConfig 发送引擎配置
type SenderConfig struct {
	WindowSize   int
	MaxChunkSize int
	RTO          time.Duration
	MaxRetries   int
	LossPolicy   LossPolicy
}

// DefaultSenderConfig 默认发送配置
func DefaultSenderConfig() *SenderConfig {
	return &SenderConfig{
		WindowSize:   DefaultWindowSize,
		MaxChunkSize: 60000,
		RTO:          DefaultRTO,
		MaxRetries:   DefaultMaxRetries,
		LossPolicy:   LossPolicyStall,
	}
}

// SenderStats 发送端统计快照 (只读，供展示和指标采集)
type SenderStats struct {
	Base       uint32
	NextSeq    uint32
	WindowSize int
	InFlight   int

	FramesSent      uint64
	Retransmits     uint64
	AcksReceived    uint64
	FramesOversize  uint64
	FramesAbandoned uint64
	WindowRejects   uint64
}

// =============================================================================
// 接收端类型
// =============================================================================

// ReceiverConfig 接收引擎配置
type ReceiverConfig struct {
	ReassemblyExpiry time.Duration
}

// DefaultReceiverConfig 默认接收配置
func DefaultReceiverConfig() *ReceiverConfig {
	return &ReceiverConfig{
		ReassemblyExpiry: DefaultReassemblyExpiry,
	}
}

// ReceiverStats 接收端统计快照
type ReceiverStats struct {
	Expected        uint32
	FramesDelivered uint64
	Duplicates      uint64
	OutOfOrder      uint64
	AcksSent        uint64
	DecodeErrors    uint64
	FramesExpired   uint64
	ChunksRejected  uint64

	ReorderBuffered int
	Incomplete      int
}
