// =============================================================================
// 文件: internal/transport/endpoint_test.go
// 描述: 数据报端点测试 - UDP 与 WebSocket 的三态轮询
// =============================================================================
package transport

import (
	"bytes"
	"testing"
	"time"

	"github.com/mrcgq/233/internal/protocol"
)

// udpPair 建一对互为对端的 UDP 端点
func udpPair(t *testing.T) (*UDPEndpoint, *UDPEndpoint) {
	t.Helper()

	a, err := NewUDPEndpoint("127.0.0.1:0", "127.0.0.1:1", nil)
	if err != nil {
		t.Fatalf("创建端点 a 失败: %v", err)
	}
	b, err := NewUDPEndpoint("127.0.0.1:0", a.LocalAddr().String(), nil)
	if err != nil {
		a.Close()
		t.Fatalf("创建端点 b 失败: %v", err)
	}

	// a 创建时还不知道 b 的端口，重建指向 b
	listen := a.LocalAddr().String()
	a.Close()
	a2, err := NewUDPEndpoint(listen, b.LocalAddr().String(), nil)
	if err != nil {
		b.Close()
		t.Fatalf("重建端点 a 失败: %v", err)
	}

	t.Cleanup(func() {
		a2.Close()
		b.Close()
	})
	return a2, b
}

func TestUDPEndpointRoundTrip(t *testing.T) {
	a, b := udpPair(t)

	msg := []byte("hello datagram")
	if err := a.Send(msg); err != nil {
		t.Fatalf("发送失败: %v", err)
	}

	data, status, err := b.Poll(time.Second)
	if err != nil || status != PollData {
		t.Fatalf("轮询失败: status=%v err=%v", status, err)
	}
	if !bytes.Equal(data, msg) {
		t.Errorf("数据不一致: got %q, want %q", data, msg)
	}

	// 反向
	if err := b.Send([]byte("pong")); err != nil {
		t.Fatalf("反向发送失败: %v", err)
	}
	data, status, _ = a.Poll(time.Second)
	if status != PollData || string(data) != "pong" {
		t.Errorf("反向轮询失败: status=%v data=%q", status, data)
	}
}

func TestUDPEndpointPollIdle(t *testing.T) {
	a, _ := udpPair(t)

	start := time.Now()
	data, status, err := a.Poll(50 * time.Millisecond)
	if status != PollIdle {
		t.Fatalf("无数据应返回 PollIdle: got %v (data=%v err=%v)", status, data, err)
	}
	if err != nil {
		t.Errorf("空闲不是错误: got %v", err)
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Error("Poll 未等待到超时")
	}
}

func TestUDPEndpointOversizeSend(t *testing.T) {
	a, _ := udpPair(t)

	if err := a.Send(make([]byte, protocol.MaxDatagramSize+1)); err == nil {
		t.Error("超出数据报上限的发送应失败")
	}
}

func TestWSEndpointRoundTrip(t *testing.T) {
	srv, err := NewWSListenEndpoint("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("创建监听端点失败: %v", err)
	}
	defer srv.Close()

	cli, err := NewWSDialEndpoint(srv.LocalAddr().String(), nil)
	if err != nil {
		t.Fatalf("拨号失败: %v", err)
	}
	defer cli.Close()

	msg := []byte("over websocket")
	if err := cli.Send(msg); err != nil {
		t.Fatalf("发送失败: %v", err)
	}

	data, status, err := srv.Poll(2 * time.Second)
	if err != nil || status != PollData {
		t.Fatalf("轮询失败: status=%v err=%v", status, err)
	}
	if !bytes.Equal(data, msg) {
		t.Errorf("数据不一致: got %q, want %q", data, msg)
	}

	// 服务端回发
	if err := srv.Send([]byte("ack")); err != nil {
		t.Fatalf("回发失败: %v", err)
	}
	data, status, _ = cli.Poll(2 * time.Second)
	if status != PollData || string(data) != "ack" {
		t.Errorf("回发轮询失败: status=%v data=%q", status, data)
	}
}

func TestWSEndpointPollIdle(t *testing.T) {
	srv, err := NewWSListenEndpoint("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("创建监听端点失败: %v", err)
	}
	defer srv.Close()

	_, status, err := srv.Poll(50 * time.Millisecond)
	if status != PollIdle || err != nil {
		t.Errorf("无数据应返回 PollIdle: status=%v err=%v", status, err)
	}
}

// 端到端: 发送引擎经 UDP 把多块帧送进接收引擎
func TestEngineOverUDP(t *testing.T) {
	a, b := udpPair(t)

	scfg := DefaultSenderConfig()
	scfg.MaxChunkSize = 1000
	sender := NewSenderEngine(a, scfg, "error")
	receiver := NewReceiverEngine(b, nil, "error")

	payload := make([]byte, 4500)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	if err := sender.TrySend(payload); err != nil {
		t.Fatalf("TrySend 失败: %v", err)
	}

	// 接收侧排空数据报
	var delivered [][]byte
	deadline := time.Now().Add(2 * time.Second)
	for len(delivered) == 0 && time.Now().Before(deadline) {
		data, status, err := b.Poll(100 * time.Millisecond)
		switch status {
		case PollData:
			if protocol.Classify(data) != protocol.KindChunk {
				continue
			}
			chunk, err := protocol.DecodeChunk(data)
			if err != nil {
				t.Fatalf("解码失败: %v", err)
			}
			ds, err := receiver.HandleChunk(chunk)
			if err != nil {
				t.Fatalf("HandleChunk 失败: %v", err)
			}
			delivered = append(delivered, ds...)
		case PollError:
			t.Fatalf("轮询错误: %v", err)
		}
	}

	if len(delivered) != 1 || !bytes.Equal(delivered[0], payload) {
		t.Fatal("载荷未完整交付")
	}

	// 发送侧收确认并滑动窗口
	deadline = time.Now().Add(2 * time.Second)
	for sender.Stats().Base == 0 && time.Now().Before(deadline) {
		data, status, _ := a.Poll(100 * time.Millisecond)
		if status == PollData && protocol.Classify(data) == protocol.KindAck {
			seq, err := protocol.DecodeAck(data)
			if err != nil {
				t.Fatalf("ACK 解码失败: %v", err)
			}
			sender.OnAck(seq)
		}
	}

	if st := sender.Stats(); st.Base != 1 || st.InFlight != 0 {
		t.Errorf("确认后窗口应滑动: base=%d inflight=%d", st.Base, st.InFlight)
	}
}
