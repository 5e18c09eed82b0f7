// =============================================================================
// 文件: internal/transport/receiver.go
// 描述: ARQ 接收引擎 - 期望序列号追踪、乱序缓冲与确认策略
// =============================================================================
package transport

import (
	"fmt"
	"time"

	"github.com/mrcgq/233/internal/protocol"
)

// ReceiverEngine 接收引擎
//
// 与发送引擎一样由单一控制循环独占驱动，不做并发保护。
// 不变量: 乱序缓冲里的每个键都严格大于 expected。
type ReceiverEngine struct {
	ep  Endpoint
	asm *Reassembler

	expected uint32
	reorder  map[uint32][]byte

	framesDelivered uint64
	duplicates      uint64
	outOfOrder      uint64
	acksSent        uint64
	decodeErrors    uint64

	logLevel int
}

// NewReceiverEngine 创建接收引擎
func NewReceiverEngine(ep Endpoint, cfg *ReceiverConfig, logLevel string) *ReceiverEngine {
	if cfg == nil {
		cfg = DefaultReceiverConfig()
	}
	return &ReceiverEngine{
		ep:       ep,
		asm:      NewReassembler(cfg.ReassemblyExpiry),
		reorder:  make(map[uint32][]byte),
		logLevel: parseLogLevel(logLevel),
	}
}

// HandleChunk 处理一个数据块，返回本次可按序交付的载荷 (0 个或多个)
//
// 重组未完成时无排序动作。重组完成后无条件立即发确认 —— 确认与交付
// 顺序解耦，任何重组完整的帧不论位置先确认再排序:
//   - seq == expected: 立即交付，然后把乱序缓冲里连上的帧依次放出，
//     每个帧都是独立的交付事件，序列号递增；
//   - seq >  expected: 进乱序缓冲，暂不交付；
//   - seq <  expected: 重复帧，丢弃并计数。
func (e *ReceiverEngine) HandleChunk(c *protocol.Chunk) ([][]byte, error) {
	payload, complete, err := e.asm.Accept(c)
	if err != nil {
		e.decodeErrors++
		return nil, err
	}
	if !complete {
		e.log(2, "帧 %d 收到块 %d/%d，继续等待", c.Seq, c.Index+1, c.Count)
		return nil, nil
	}

	if err := e.sendAck(c.Seq); err != nil {
		// 确认丢了发送端会重传，这里只记录不上抛
		e.log(0, "帧 %d 确认发送失败: %v", c.Seq, err)
	}

	switch {
	case c.Seq == e.expected:
		deliveries := [][]byte{payload}
		e.expected++
		e.framesDelivered++

		// 排空乱序缓冲中连续的部分
		for {
			buffered, ok := e.reorder[e.expected]
			if !ok {
				break
			}
			delete(e.reorder, e.expected)
			deliveries = append(deliveries, buffered)
			e.log(1, "放出缓冲帧 %d", e.expected)
			e.expected++
			e.framesDelivered++
		}
		return deliveries, nil

	case c.Seq > e.expected:
		e.reorder[c.Seq] = payload
		e.outOfOrder++
		e.log(1, "乱序帧 %d (期望 %d)，缓冲", c.Seq, e.expected)
		return nil, nil

	default:
		e.duplicates++
		e.log(2, "重复帧 %d，丢弃", c.Seq)
		return nil, nil
	}
}

// sendAck 对一个帧发确认
func (e *ReceiverEngine) sendAck(seq uint32) error {
	if err := e.ep.Send(protocol.EncodeAck(seq)); err != nil {
		return fmt.Errorf("ACK %d: %w", seq, err)
	}
	e.acksSent++
	return nil
}

// CountDecodeError 记录一次解码失败 (头部损坏在进引擎前就被丢弃)
func (e *ReceiverEngine) CountDecodeError() {
	e.decodeErrors++
}

// ExpireIncomplete 回收超龄的重组状态
func (e *ReceiverEngine) ExpireIncomplete(now time.Time) int {
	return e.asm.Expire(now)
}

// Stats 统计快照
func (e *ReceiverEngine) Stats() ReceiverStats {
	return ReceiverStats{
		Expected:        e.expected,
		FramesDelivered: e.framesDelivered,
		Duplicates:      e.duplicates,
		OutOfOrder:      e.outOfOrder,
		AcksSent:        e.acksSent,
		DecodeErrors:    e.decodeErrors,
		FramesExpired:   e.asm.FramesExpired(),
		ChunksRejected:  e.asm.ChunksRejected(),
		ReorderBuffered: len(e.reorder),
		Incomplete:      e.asm.Pending(),
	}
}

func (e *ReceiverEngine) log(level int, format string, args ...interface{}) {
	logf(e.logLevel, level, "RECV", format, args...)
}
