// =============================================================================
// 文件: internal/transport/sender.go
// 描述: ARQ 发送引擎 - 滑动窗口、确认处理与超时重传
// =============================================================================
package transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/mrcgq/233/internal/protocol"
)

// SenderEngine 发送引擎
//
// 窗口状态只属于驱动它的那个控制循环，所有方法都不做并发保护；
// 不变量: base ≤ nextSeq 且 nextSeq − base ≤ WindowSize 恒成立。
type SenderEngine struct {
	ep  Endpoint
	cfg *SenderConfig

	base    uint32
	nextSeq uint32

	// pending 保存未确认帧的记录，acked 保存窗口内每个帧的确认标志；
	// 两者都在帧进入窗口时建立，滑动时从 base 起连续回收
	pending map[uint32]*FrameRecord
	acked   map[uint32]bool

	framesSent      uint64
	retransmits     uint64
	acksReceived    uint64
	framesOversize  uint64
	framesAbandoned uint64
	windowRejects   uint64

	logLevel int
}

// NewSenderEngine 创建发送引擎
func NewSenderEngine(ep Endpoint, cfg *SenderConfig, logLevel string) *SenderEngine {
	if cfg == nil {
		cfg = DefaultSenderConfig()
	}
	return &SenderEngine{
		ep:       ep,
		cfg:      cfg,
		pending:  make(map[uint32]*FrameRecord),
		acked:    make(map[uint32]bool),
		logLevel: parseLogLevel(logLevel),
	}
}

// TrySend 尝试把一帧载荷送入窗口并发出所有分块
//
// 窗口满返回 ErrWindowFull 且不改变任何状态。分片失败 (帧过大) 返回
// ErrOversizeFrame，帧被整个丢弃，不进入窗口。任一分块发送失败则整帧
// 中止，不留下半成品记录，序列号也不消耗。
func (e *SenderEngine) TrySend(payload []byte) error {
	if e.nextSeq-e.base >= uint32(e.cfg.WindowSize) {
		e.windowRejects++
		return ErrWindowFull
	}

	chunks, err := protocol.SplitFrame(e.nextSeq, payload, e.cfg.MaxChunkSize)
	if err != nil {
		if errors.Is(err, protocol.ErrOversizeFrame) {
			e.framesOversize++
		}
		return err
	}

	for _, c := range chunks {
		if err := e.ep.Send(c.Encode()); err != nil {
			return fmt.Errorf("帧 %d 块 %d/%d 发送失败: %w", e.nextSeq, c.Index+1, c.Count, err)
		}
	}

	rec := &FrameRecord{
		Seq:     e.nextSeq,
		Payload: make([]byte, len(payload)),
		SentAt:  time.Now(),
	}
	copy(rec.Payload, payload)

	e.pending[e.nextSeq] = rec
	e.acked[e.nextSeq] = false
	e.log(2, "发出帧 %d (%d 块, %d 字节)", e.nextSeq, len(chunks), len(payload))

	e.nextSeq++
	e.framesSent++
	return nil
}

// OnAck 处理一个确认
//
// 没有对应在途记录的确认 (重复、迟到或从未发出) 幂等忽略。确认后从
// base 起连续滑动，中间有未确认帧时 base 不动 —— 队头阻塞是协议设计。
func (e *SenderEngine) OnAck(seq uint32) {
	flag, ok := e.acked[seq]
	if !ok || flag {
		return
	}

	e.acked[seq] = true
	delete(e.pending, seq)
	e.acksReceived++

	e.slide()
	e.log(2, "确认帧 %d, 窗口 [%d-%d)", seq, e.base, e.nextSeq)
}

// slide 从 base 起连续回收已确认帧
func (e *SenderEngine) slide() {
	for {
		flag, ok := e.acked[e.base]
		if !ok || !flag {
			return
		}
		delete(e.acked, e.base)
		e.base++
	}
}

// CheckTimeouts 重传超时未确认的帧
//
// 对每个超龄且重试次数未耗尽的记录: 重新分片原始载荷、重发全部分块、
// 刷新时间戳、重试数加一。重试耗尽后按策略处理: stall 策略下记录留在
// 窗口里等确认 (可能永久停滞)，drop 策略下放弃并允许窗口前进。
// 返回本轮重传的帧数。
func (e *SenderEngine) CheckTimeouts(now time.Time) int {
	count := 0
	for seq, rec := range e.pending {
		if now.Sub(rec.SentAt) <= e.cfg.RTO {
			continue
		}

		if rec.Retries >= e.cfg.MaxRetries {
			if e.cfg.LossPolicy == LossPolicyDrop {
				e.log(0, "帧 %d 重试 %d 次后放弃", seq, rec.Retries)
				e.acked[seq] = true
				delete(e.pending, seq)
				e.framesAbandoned++
				e.slide()
			}
			continue
		}

		if err := e.retransmit(rec, now); err != nil {
			// 传输层故障只中止本次操作，时间戳不刷新，下一轮继续尝试
			e.log(0, "帧 %d 重传失败: %v", seq, err)
			continue
		}
		count++
	}
	return count
}

// retransmit 重发一个帧的全部分块
func (e *SenderEngine) retransmit(rec *FrameRecord, now time.Time) error {
	chunks, err := protocol.SplitFrame(rec.Seq, rec.Payload, e.cfg.MaxChunkSize)
	if err != nil {
		// 载荷当初能进窗口就一定能再次分片
		return err
	}

	for _, c := range chunks {
		if err := e.ep.Send(c.Encode()); err != nil {
			return err
		}
	}

	rec.SentAt = now
	rec.Retries++
	e.retransmits++
	e.log(1, "重传帧 %d (第 %d 次)", rec.Seq, rec.Retries)
	return nil
}

// Stats 统计快照
func (e *SenderEngine) Stats() SenderStats {
	return SenderStats{
		Base:            e.base,
		NextSeq:         e.nextSeq,
		WindowSize:      e.cfg.WindowSize,
		InFlight:        len(e.pending),
		FramesSent:      e.framesSent,
		Retransmits:     e.retransmits,
		AcksReceived:    e.acksReceived,
		FramesOversize:  e.framesOversize,
		FramesAbandoned: e.framesAbandoned,
		WindowRejects:   e.windowRejects,
	}
}

func (e *SenderEngine) log(level int, format string, args ...interface{}) {
	logf(e.logLevel, level, "SEND", format, args...)
}
