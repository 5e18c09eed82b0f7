// =============================================================================
// 文件: internal/transport/reassembler_test.go
// 描述: 帧重组器测试 - 完整性、幂等与过期回收
// =============================================================================
package transport

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/mrcgq/233/internal/protocol"
)

func TestReassemblerRoundTripAnyOrder(t *testing.T) {
	payload := make([]byte, 10240)
	rand.New(rand.NewSource(42)).Read(payload)

	chunks, err := protocol.SplitFrame(1, payload, 1000)
	if err != nil {
		t.Fatalf("SplitFrame 失败: %v", err)
	}

	// 打乱到达顺序
	order := rand.New(rand.NewSource(7)).Perm(len(chunks))

	r := NewReassembler(time.Minute)
	var got []byte
	for i, idx := range order {
		payload, complete, err := r.Accept(chunks[idx])
		if err != nil {
			t.Fatalf("Accept 失败: %v", err)
		}
		if i < len(order)-1 {
			if complete {
				t.Fatalf("缺块时不应完成: 第 %d 块", i)
			}
		} else {
			if !complete {
				t.Fatal("全部块到齐应完成")
			}
			got = payload
		}
	}

	if !bytes.Equal(got, payload) {
		t.Error("重组结果与原载荷不一致")
	}
	if r.Pending() != 0 {
		t.Errorf("完成后状态应回收: got %d", r.Pending())
	}
}

func TestReassemblerProperSubsetNeverCompletes(t *testing.T) {
	chunks, _ := protocol.SplitFrame(1, make([]byte, 500), 100)

	// 任意真子集都不应产出载荷
	r := NewReassembler(time.Minute)
	for i := 0; i < len(chunks)-1; i++ {
		if _, complete, _ := r.Accept(chunks[i]); complete {
			t.Fatalf("只有 %d/%d 块就完成了", i+1, len(chunks))
		}
	}
}

func TestReassemblerDuplicateChunkIdempotent(t *testing.T) {
	chunks, _ := protocol.SplitFrame(1, []byte("abcdefghij"), 5)

	r := NewReassembler(time.Minute)
	r.Accept(chunks[0])
	r.Accept(chunks[0]) // 同一块重复到达直接覆盖

	payload, complete, err := r.Accept(chunks[1])
	if err != nil {
		t.Fatalf("Accept 失败: %v", err)
	}
	if !complete {
		t.Fatal("两块到齐应完成")
	}
	if string(payload) != "abcdefghij" {
		t.Errorf("载荷不正确: got %s", payload)
	}
}

func TestReassemblerCountDrift(t *testing.T) {
	chunks, _ := protocol.SplitFrame(1, make([]byte, 300), 100)

	r := NewReassembler(time.Minute)
	if _, _, err := r.Accept(chunks[0]); err != nil {
		t.Fatalf("Accept 失败: %v", err)
	}

	// 同帧后续分块声明了不同的块总数
	bad := &protocol.Chunk{Seq: 1, Index: 1, Count: 5, Data: []byte("x")}
	if _, _, err := r.Accept(bad); !errors.Is(err, protocol.ErrDecode) {
		t.Errorf("块总数漂移应返回 ErrDecode: got %v", err)
	}

	// 已有状态不受污染，补齐原有分块仍能完成
	r.Accept(chunks[1])
	_, complete, err := r.Accept(chunks[2])
	if err != nil || !complete {
		t.Errorf("原有重组不应被污染: complete=%v err=%v", complete, err)
	}
}

func TestReassemblerExpiry(t *testing.T) {
	chunks, _ := protocol.SplitFrame(9, make([]byte, 300), 100)

	r := NewReassembler(50 * time.Millisecond)
	r.Accept(chunks[0])

	// 未超龄不回收
	if n := r.Expire(time.Now()); n != 0 {
		t.Errorf("未超龄不应回收: got %d", n)
	}

	// 超龄回收
	if n := r.Expire(time.Now().Add(time.Second)); n != 1 {
		t.Fatalf("应回收 1 帧: got %d", n)
	}
	if r.Pending() != 0 {
		t.Errorf("回收后应无重组状态: got %d", r.Pending())
	}
	if r.FramesExpired() != 1 {
		t.Errorf("过期计数应为 1: got %d", r.FramesExpired())
	}

	// 迟到分块不得复活已过期的帧
	if _, complete, err := r.Accept(chunks[1]); complete || err != nil {
		t.Errorf("迟到分块不应有动作: complete=%v err=%v", complete, err)
	}
	if r.Pending() != 0 {
		t.Error("迟到分块重建了已过期帧的状态")
	}
	if r.ChunksRejected() != 1 {
		t.Errorf("拦截计数应为 1: got %d", r.ChunksRejected())
	}
}

func BenchmarkReassemblerAccept(b *testing.B) {
	payload := make([]byte, 60000)
	chunks, _ := protocol.SplitFrame(1, payload, 1000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r := NewReassembler(time.Minute)
		for _, c := range chunks {
			r.Accept(c)
		}
	}
}
