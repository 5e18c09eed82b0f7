// =============================================================================
// 文件: internal/cast/receiver.go
// 描述: 接收控制循环 - 排空、交付与空闲停机
// =============================================================================
package cast

import (
	"context"
	"errors"
	"time"

	"github.com/mrcgq/233/internal/protocol"
	"github.com/mrcgq/233/internal/transport"
)

// ErrIdle 接收端过久没有交付任何帧，循环正常停机
var ErrIdle = errors.New("接收端空闲超时")

// ReceiverLoopConfig 接收循环配置
type ReceiverLoopConfig struct {
	// PollTimeout 入站轮询超时
	PollTimeout time.Duration

	// IdleTimeout 交付过至少一帧后，这么久没有新交付就停机；0 表示不停机
	IdleTimeout time.Duration

	// StatsPeriod 统计输出周期
	StatsPeriod time.Duration
}

// DefaultReceiverLoopConfig 默认接收循环配置
func DefaultReceiverLoopConfig() *ReceiverLoopConfig {
	return &ReceiverLoopConfig{
		PollTimeout: transport.DefaultPollTimeout,
		IdleTimeout: 10 * time.Second,
		StatsPeriod: 3 * time.Second,
	}
}

// ReceiverLoop 接收控制循环
//
// 每轮迭代: 排空当前可收的入站数据报并把完整按序的帧交给出口 →
// 回收超龄重组状态 → 周期性统计 → 空闲判定。
type ReceiverLoop struct {
	ep     transport.Endpoint
	engine *transport.ReceiverEngine
	sink   DeliverySink
	cfg    *ReceiverLoopConfig

	// OnStats 每个统计周期回调一次快照，可为 nil
	OnStats func(transport.ReceiverStats)

	lastDelivery time.Time
	logLevel     int
}

// NewReceiverLoop 创建接收循环
func NewReceiverLoop(ep transport.Endpoint, engine *transport.ReceiverEngine, sink DeliverySink, cfg *ReceiverLoopConfig, logLevel string) *ReceiverLoop {
	if cfg == nil {
		cfg = DefaultReceiverLoopConfig()
	}
	return &ReceiverLoop{
		ep:       ep,
		engine:   engine,
		sink:     sink,
		cfg:      cfg,
		logLevel: parseLogLevel(logLevel),
	}
}

// Run 运行循环直至 ctx 取消或空闲停机
func (l *ReceiverLoop) Run(ctx context.Context) error {
	l.log(1, "接收循环启动, 本地 %v", l.ep.LocalAddr())

	var lastStats time.Time

	for {
		select {
		case <-ctx.Done():
			l.logFinal()
			return ctx.Err()
		default:
		}

		if err := l.drainInbound(); err != nil {
			l.log(0, "交付失败: %v", err)
		}

		l.engine.ExpireIncomplete(time.Now())

		now := time.Now()
		if now.Sub(lastStats) >= l.cfg.StatsPeriod {
			st := l.engine.Stats()
			l.log(1, "统计: 已收 %d, 缓冲 %d, 重复 %d, 重组中 %d",
				st.FramesDelivered, st.ReorderBuffered, st.Duplicates, st.Incomplete)
			if l.OnStats != nil {
				l.OnStats(st)
			}
			lastStats = now
		}

		if l.cfg.IdleTimeout > 0 && !l.lastDelivery.IsZero() &&
			now.Sub(l.lastDelivery) > l.cfg.IdleTimeout {
			l.log(1, "%v 没有新帧, 停机", l.cfg.IdleTimeout)
			l.logFinal()
			return ErrIdle
		}
	}
}

// drainInbound 排空当前可收的入站数据报
//
// 积压必须一次排干，否则已缓冲分块的确认会被饿着。
func (l *ReceiverLoop) drainInbound() error {
	for {
		data, status, err := l.ep.Poll(l.cfg.PollTimeout)
		switch status {
		case transport.PollData:
			if err := l.handleDatagram(data); err != nil {
				return err
			}
			continue
		case transport.PollIdle:
			return nil
		default:
			l.log(0, "接收故障: %v", err)
			return nil
		}
	}
}

// handleDatagram 按数据报形状分发
func (l *ReceiverLoop) handleDatagram(data []byte) error {
	switch protocol.Classify(data) {
	case protocol.KindChunk:
		chunk, err := protocol.DecodeChunk(data)
		if err != nil {
			// 坏数据报丢弃计数，不中断循环
			l.engine.CountDecodeError()
			l.log(2, "数据块丢弃: %v", err)
			return nil
		}

		deliveries, err := l.engine.HandleChunk(chunk)
		if err != nil {
			l.log(2, "分块被拒: %v", err)
			return nil
		}

		// 每个排出的帧都是独立交付事件
		base := l.engine.Stats().Expected - uint32(len(deliveries))
		for i, payload := range deliveries {
			if err := l.sink.Deliver(base+uint32(i), payload); err != nil {
				return err
			}
			l.lastDelivery = time.Now()
		}
		return nil

	case protocol.KindAck:
		// 单向流，接收端不应收到确认
		l.log(2, "忽略入站 ACK")
		return nil

	default:
		l.engine.CountDecodeError()
		l.log(2, "忽略 %d 字节的畸形数据报", len(data))
		return nil
	}
}

func (l *ReceiverLoop) logFinal() {
	st := l.engine.Stats()
	l.log(1, "接收循环结束: 共收 %d 帧, 重复 %d, 过期 %d",
		st.FramesDelivered, st.Duplicates, st.FramesExpired)
}

func (l *ReceiverLoop) log(level int, format string, args ...interface{}) {
	logf(l.logLevel, level, "RECV-LOOP", format, args...)
}
