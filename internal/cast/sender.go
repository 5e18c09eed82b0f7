// =============================================================================
// 文件: internal/cast/sender.go
// 描述: 发送控制循环 - 单线程协作式调度
// =============================================================================
package cast

import (
	"context"
	"errors"
	"time"

	"github.com/mrcgq/233/internal/protocol"
	"github.com/mrcgq/233/internal/transport"
)

// SenderLoopConfig 发送循环配置
type SenderLoopConfig struct {
	// SendInterval 最小发送间隔，与采集/编码一帧花多久无关
	SendInterval time.Duration

	// PollTimeout 入站轮询超时
	PollTimeout time.Duration

	// StatsPeriod 统计输出周期
	StatsPeriod time.Duration
}

// DefaultSenderLoopConfig 默认发送循环配置
func DefaultSenderLoopConfig() *SenderLoopConfig {
	return &SenderLoopConfig{
		SendInterval: 100 * time.Millisecond,
		PollTimeout:  transport.DefaultPollTimeout,
		StatsPeriod:  3 * time.Second,
	}
}

// SenderLoop 发送控制循环
//
// 每轮迭代: 排空当前可收的入站数据报 (确认) → 按最小间隔采集并发送
// 一帧 → 检查超时重传 → 周期性统计。引擎状态只被这个循环访问，
// 不需要锁；阻塞只发生在有界超时的轮询上。
type SenderLoop struct {
	ep     transport.Endpoint
	engine *transport.SenderEngine
	source PayloadSource
	cfg    *SenderLoopConfig

	// OnStats 每个统计周期回调一次快照 (指标采集挂在这里)，可为 nil
	OnStats func(transport.SenderStats)

	logLevel int
}

// NewSenderLoop 创建发送循环
func NewSenderLoop(ep transport.Endpoint, engine *transport.SenderEngine, source PayloadSource, cfg *SenderLoopConfig, logLevel string) *SenderLoop {
	if cfg == nil {
		cfg = DefaultSenderLoopConfig()
	}
	return &SenderLoop{
		ep:       ep,
		engine:   engine,
		source:   source,
		cfg:      cfg,
		logLevel: parseLogLevel(logLevel),
	}
}

// Run 运行循环直至 ctx 取消
func (l *SenderLoop) Run(ctx context.Context) error {
	l.log(1, "发送循环启动, 本地 %v", l.ep.LocalAddr())

	var lastSend, lastStats time.Time

	for {
		select {
		case <-ctx.Done():
			l.logFinal()
			return ctx.Err()
		default:
		}

		l.drainInbound()

		now := time.Now()
		if now.Sub(lastSend) >= l.cfg.SendInterval {
			if l.acquireAndSend() {
				lastSend = now
			}
		}

		l.engine.CheckTimeouts(time.Now())

		if now.Sub(lastStats) >= l.cfg.StatsPeriod {
			st := l.engine.Stats()
			l.log(1, "统计: 已发 %d, 重传 %d, 在途 %d, 窗口 [%d-%d)",
				st.FramesSent, st.Retransmits, st.InFlight, st.Base, st.NextSeq)
			if l.OnStats != nil {
				l.OnStats(st)
			}
			lastStats = now
		}
	}
}

// drainInbound 排空当前可收的入站数据报
//
// 必须循环到没有积压为止，否则已经到达的确认会被饿着。
func (l *SenderLoop) drainInbound() {
	for {
		data, status, err := l.ep.Poll(l.cfg.PollTimeout)
		switch status {
		case transport.PollData:
			l.handleDatagram(data)
			continue
		case transport.PollIdle:
			return
		default:
			// 单次接收故障只中止本次轮询，下一轮继续
			l.log(0, "接收故障: %v", err)
			return
		}
	}
}

// handleDatagram 按数据报形状分发
func (l *SenderLoop) handleDatagram(data []byte) {
	switch protocol.Classify(data) {
	case protocol.KindAck:
		seq, err := protocol.DecodeAck(data)
		if err != nil {
			l.log(2, "ACK 解码失败: %v", err)
			return
		}
		l.engine.OnAck(seq)
	default:
		// 单向流，发送端不应收到数据块
		l.log(2, "忽略 %d 字节的非 ACK 数据报", len(data))
	}
}

// acquireAndSend 采集一帧并尝试送入窗口，成功返回 true
func (l *SenderLoop) acquireAndSend() bool {
	payload, err := l.source.NextFrame()
	if err != nil {
		// 采集失败跳过本周期
		if !errors.Is(err, ErrNoFrame) {
			l.log(1, "采集失败, 跳过本周期: %v", err)
		}
		return false
	}

	err = l.engine.TrySend(payload)
	switch {
	case err == nil:
		return true
	case errors.Is(err, transport.ErrWindowFull):
		// 背压，不是故障，下一周期重试
		l.log(2, "窗口满, 跳过本周期")
		return false
	case errors.Is(err, protocol.ErrOversizeFrame):
		l.log(0, "帧被丢弃: %v", err)
		return false
	default:
		l.log(0, "发送失败: %v", err)
		return false
	}
}

func (l *SenderLoop) logFinal() {
	st := l.engine.Stats()
	l.log(1, "发送循环结束: 共发 %d 帧, 重传 %d 次, 放弃 %d 帧",
		st.FramesSent, st.Retransmits, st.FramesAbandoned)
}

func (l *SenderLoop) log(level int, format string, args ...interface{}) {
	logf(l.logLevel, level, "SEND-LOOP", format, args...)
}
