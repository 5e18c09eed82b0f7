// =============================================================================
// 文件: internal/cast/cast_test.go
// 描述: 控制循环与协作者测试
// =============================================================================
package cast

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mrcgq/233/internal/protocol"
	"github.com/mrcgq/233/internal/transport"
)

func TestPatternSourceFrames(t *testing.T) {
	s := NewPatternSource(1024)

	f1, err := s.NextFrame()
	if err != nil {
		t.Fatalf("NextFrame 失败: %v", err)
	}
	if len(f1) != 1024 {
		t.Errorf("帧大小不正确: got %d, want 1024", len(f1))
	}

	f2, _ := s.NextFrame()
	if bytes.Equal(f1, f2) {
		t.Error("相邻帧内容不应相同")
	}
}

func TestShrinkingSource(t *testing.T) {
	t.Run("正常大小直接通过", func(t *testing.T) {
		src := NewShrinkingSource(NewPatternSource(1000), 50, 10, 10, 100)
		frame, err := src.NextFrame()
		if err != nil {
			t.Fatalf("NextFrame 失败: %v", err)
		}
		if len(frame) > 255*100 {
			t.Errorf("帧仍超出上限: %d", len(frame))
		}
	})

	t.Run("超大帧逐档降质", func(t *testing.T) {
		// 100% 质量 40000 字节，上限 255×100=25500，降质后能通过
		src := NewShrinkingSource(NewPatternSource(40000), 100, 10, 10, 100)
		frame, err := src.NextFrame()
		if err != nil {
			t.Fatalf("降质后应能产出: %v", err)
		}
		if len(frame) > 25500 {
			t.Errorf("降质后仍超出上限: %d", len(frame))
		}
	})

	t.Run("降到下限仍超标则放弃", func(t *testing.T) {
		// 即使 10% 质量仍有 100000 字节，上限 2550
		src := NewShrinkingSource(NewPatternSource(1000000), 100, 10, 30, 10)
		if _, err := src.NextFrame(); !errors.Is(err, protocol.ErrOversizeFrame) {
			t.Errorf("应返回 ErrOversizeFrame: got %v", err)
		}
	})
}

func TestDirSink(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewDirSink(filepath.Join(dir, "frames"))
	if err != nil {
		t.Fatalf("创建出口失败: %v", err)
	}
	defer sink.Close()

	if err := sink.Deliver(3, []byte("payload-3")); err != nil {
		t.Fatalf("Deliver 失败: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "frames", "frame-000003.bin"))
	if err != nil {
		t.Fatalf("读取输出文件失败: %v", err)
	}
	if string(data) != "payload-3" {
		t.Errorf("文件内容不正确: got %s", data)
	}
}

// collectSink 把交付收进内存
type collectSink struct {
	mu     sync.Mutex
	frames map[uint32][]byte
	seqs   []uint32
}

func newCollectSink() *collectSink {
	return &collectSink{frames: make(map[uint32][]byte)}
}

func (s *collectSink) Deliver(seq uint32, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := make([]byte, len(payload))
	copy(d, payload)
	s.frames[seq] = d
	s.seqs = append(s.seqs, seq)
	return nil
}

func (s *collectSink) Close() error { return nil }

func (s *collectSink) snapshot() (map[uint32][]byte, []uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	frames := make(map[uint32][]byte, len(s.frames))
	for k, v := range s.frames {
		frames[k] = v
	}
	seqs := append([]uint32(nil), s.seqs...)
	return frames, seqs
}

// 端到端: 两个循环经真实 UDP 对传
func TestLoopsEndToEnd(t *testing.T) {
	recvEp, err := transport.NewUDPEndpoint("127.0.0.1:0", "127.0.0.1:9", nil)
	if err != nil {
		t.Fatalf("创建接收端点失败: %v", err)
	}
	recvAddr := recvEp.LocalAddr().String()

	sendEp, err := transport.NewUDPEndpoint("127.0.0.1:0", recvAddr, nil)
	if err != nil {
		t.Fatalf("创建发送端点失败: %v", err)
	}

	// 接收端点要回指发送端点，重建
	recvEp.Close()
	recvEp, err = transport.NewUDPEndpoint(recvAddr, sendEp.LocalAddr().String(), nil)
	if err != nil {
		t.Fatalf("重建接收端点失败: %v", err)
	}
	defer recvEp.Close()
	defer sendEp.Close()

	scfg := transport.DefaultSenderConfig()
	scfg.MaxChunkSize = 1000
	senderEngine := transport.NewSenderEngine(sendEp, scfg, "error")
	receiverEngine := transport.NewReceiverEngine(recvEp, nil, "error")

	loopCfg := DefaultSenderLoopConfig()
	loopCfg.SendInterval = 20 * time.Millisecond
	loopCfg.PollTimeout = 10 * time.Millisecond
	senderLoop := NewSenderLoop(sendEp, senderEngine, NewPatternSource(2500), loopCfg, "error")

	rxCfg := DefaultReceiverLoopConfig()
	rxCfg.PollTimeout = 10 * time.Millisecond
	rxCfg.IdleTimeout = 0
	sink := newCollectSink()
	receiverLoop := NewReceiverLoop(recvEp, receiverEngine, sink, rxCfg, "error")

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = senderLoop.Run(ctx) }()
	go func() { defer wg.Done(); _ = receiverLoop.Run(ctx) }()
	wg.Wait()

	frames, seqs := sink.snapshot()
	if len(frames) < 3 {
		t.Fatalf("应至少交付 3 帧: got %d", len(frames))
	}

	// 交付必须按序列号递增且无空洞
	for i, seq := range seqs {
		if seq != uint32(i) {
			t.Fatalf("交付顺序错误: 第 %d 个是帧 %d", i, seq)
		}
	}

	// 内容与图样来源一致
	expectSrc := NewPatternSource(2500)
	for i := 0; i < len(seqs); i++ {
		want, _ := expectSrc.NextFrame()
		if !bytes.Equal(frames[uint32(i)], want) {
			t.Fatalf("帧 %d 内容不一致", i)
		}
	}
}

func TestReceiverLoopIdleTimeout(t *testing.T) {
	ep, err := transport.NewUDPEndpoint("127.0.0.1:0", "127.0.0.1:9", nil)
	if err != nil {
		t.Fatalf("创建端点失败: %v", err)
	}
	defer ep.Close()

	engine := transport.NewReceiverEngine(ep, nil, "error")
	cfg := DefaultReceiverLoopConfig()
	cfg.PollTimeout = 10 * time.Millisecond
	cfg.IdleTimeout = 50 * time.Millisecond
	loop := NewReceiverLoop(ep, engine, NullSink{}, cfg, "error")

	// 人为制造"交付过一帧"的状态再停喂
	loop.lastDelivery = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = loop.Run(ctx)
	if !errors.Is(err, ErrIdle) {
		t.Errorf("应以 ErrIdle 停机: got %v", err)
	}
}
