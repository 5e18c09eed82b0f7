// =============================================================================
// 文件: internal/protocol/protocol_test.go
// 描述: 协议编解码与分片测试
// =============================================================================
package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestChunkEncodeDecode(t *testing.T) {
	original := &Chunk{
		Seq:   12345,
		Index: 2,
		Count: 5,
		Data:  []byte("Hello, Cast!"),
	}

	encoded := original.Encode()
	decoded, err := DecodeChunk(encoded)
	if err != nil {
		t.Fatalf("解码失败: %v", err)
	}

	if decoded.Seq != original.Seq {
		t.Errorf("Seq 不匹配: got %d, want %d", decoded.Seq, original.Seq)
	}
	if decoded.Index != original.Index {
		t.Errorf("Index 不匹配: got %d, want %d", decoded.Index, original.Index)
	}
	if decoded.Count != original.Count {
		t.Errorf("Count 不匹配: got %d, want %d", decoded.Count, original.Count)
	}
	if !bytes.Equal(decoded.Data, original.Data) {
		t.Errorf("Data 不匹配: got %v, want %v", decoded.Data, original.Data)
	}
}

func TestDecodeChunkRejectsBadHeader(t *testing.T) {
	t.Run("数据太短", func(t *testing.T) {
		if _, err := DecodeChunk([]byte{1, 2, 3}); !errors.Is(err, ErrDecode) {
			t.Errorf("应返回 ErrDecode: got %v", err)
		}
	})

	t.Run("长度不一致", func(t *testing.T) {
		c := &Chunk{Seq: 1, Index: 0, Count: 1, Data: []byte("abcdef")}
		encoded := c.Encode()
		// 截掉末尾 2 字节，声明长度与实际长度就对不上了
		if _, err := DecodeChunk(encoded[:len(encoded)-2]); !errors.Is(err, ErrDecode) {
			t.Errorf("应返回 ErrDecode: got %v", err)
		}
	})

	t.Run("块总数为零", func(t *testing.T) {
		c := &Chunk{Seq: 1, Index: 0, Count: 1, Data: []byte("x")}
		encoded := c.Encode()
		encoded[9] = 0
		if _, err := DecodeChunk(encoded); !errors.Is(err, ErrDecode) {
			t.Errorf("应返回 ErrDecode: got %v", err)
		}
	})

	t.Run("块索引越界", func(t *testing.T) {
		c := &Chunk{Seq: 1, Index: 0, Count: 2, Data: []byte("x")}
		encoded := c.Encode()
		encoded[8] = 2 // index == count
		if _, err := DecodeChunk(encoded); !errors.Is(err, ErrDecode) {
			t.Errorf("应返回 ErrDecode: got %v", err)
		}
	})
}

func TestAckEncodeDecode(t *testing.T) {
	encoded := EncodeAck(99887766)
	if len(encoded) != AckSize {
		t.Fatalf("ACK 长度不正确: got %d, want %d", len(encoded), AckSize)
	}

	seq, err := DecodeAck(encoded)
	if err != nil {
		t.Fatalf("解码失败: %v", err)
	}
	if seq != 99887766 {
		t.Errorf("Seq 不匹配: got %d, want 99887766", seq)
	}

	if _, err := DecodeAck([]byte{1, 2, 3}); !errors.Is(err, ErrDecode) {
		t.Errorf("非 4 字节应返回 ErrDecode: got %v", err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		size int
		want DatagramKind
	}{
		{"空数据报", 0, KindUnknown},
		{"ACK", 4, KindAck},
		{"介于两者之间", 7, KindUnknown},
		{"最小数据块", 10, KindChunk},
		{"带载荷数据块", 1024, KindChunk},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(make([]byte, tc.size)); got != tc.want {
				t.Errorf("Classify(%d 字节) = %v, want %v", tc.size, got, tc.want)
			}
		})
	}
}

func TestSplitFrameChunkCount(t *testing.T) {
	cases := []struct {
		name         string
		payloadLen   int
		maxChunkSize int
		wantCount    int
	}{
		{"空载荷也有一块", 0, 100, 1},
		{"刚好一块", 100, 100, 1},
		{"超出一字节", 101, 100, 2},
		{"整除", 500, 100, 5},
		{"余数", 501, 100, 6},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := make([]byte, tc.payloadLen)
			chunks, err := SplitFrame(7, payload, tc.maxChunkSize)
			if err != nil {
				t.Fatalf("SplitFrame 失败: %v", err)
			}
			if len(chunks) != tc.wantCount {
				t.Errorf("块数不正确: got %d, want %d", len(chunks), tc.wantCount)
			}
			for i, c := range chunks {
				if c.Seq != 7 {
					t.Errorf("块 %d Seq 不正确: got %d, want 7", i, c.Seq)
				}
				if int(c.Index) != i {
					t.Errorf("块索引不正确: got %d, want %d", c.Index, i)
				}
				if int(c.Count) != tc.wantCount {
					t.Errorf("块总数不正确: got %d, want %d", c.Count, tc.wantCount)
				}
			}
		})
	}
}

func TestSplitFrameRoundTrip(t *testing.T) {
	payload := make([]byte, 25000)
	for i := range payload {
		payload[i] = byte(i * 31)
	}

	chunks, err := SplitFrame(3, payload, 4096)
	if err != nil {
		t.Fatalf("SplitFrame 失败: %v", err)
	}

	// 按索引顺序拼接必须精确还原
	var rebuilt []byte
	for _, c := range chunks {
		rebuilt = append(rebuilt, c.Data...)
	}
	if !bytes.Equal(rebuilt, payload) {
		t.Error("拼接后与原载荷不一致")
	}
}

func TestSplitFrameOversize(t *testing.T) {
	t.Run("块数超过255", func(t *testing.T) {
		payload := make([]byte, 256*100)
		if _, err := SplitFrame(1, payload, 100); !errors.Is(err, ErrOversizeFrame) {
			t.Errorf("应返回 ErrOversizeFrame: got %v", err)
		}
	})

	t.Run("单块超出数据报上限", func(t *testing.T) {
		if _, err := SplitFrame(1, make([]byte, 10), MaxDatagramSize); !errors.Is(err, ErrOversizeFrame) {
			t.Errorf("应返回 ErrOversizeFrame: got %v", err)
		}
	})
}

func BenchmarkChunkEncode(b *testing.B) {
	c := &Chunk{Seq: 12345, Index: 1, Count: 4, Data: make([]byte, 60000)}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.Encode()
	}
}

func BenchmarkSplitFrame(b *testing.B) {
	payload := make([]byte, 200000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = SplitFrame(uint32(i), payload, DefaultMaxChunkSize)
	}
}
