// =============================================================================
// 文件: internal/protocol/protocol.go
// 描述: 屏幕流传输协议 - 数据块编解码与帧分片
// =============================================================================
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// =============================================================================
// 协议常量
// =============================================================================

const (
	// ChunkHeaderSize 数据块头大小
	// DataLen(4) + Seq(4) + ChunkIndex(1) + ChunkCount(1) = 10
	ChunkHeaderSize = 10

	// AckSize ACK 包大小 (只有 4 字节序列号)
	AckSize = 4

	// MaxDatagramSize 单个 UDP 数据报最大安全大小 (IPv4: 65535 - 20 - 8)
	MaxDatagramSize = 65507

	// MaxChunkCount 单帧最大分块数 (ChunkCount 占 1 字节)
	MaxChunkCount = 255

	// DefaultMaxChunkSize 默认单块最大数据量
	DefaultMaxChunkSize = 60000
)

// 协议错误
var (
	// ErrOversizeFrame 帧太大，分片后仍无法通过传输层
	ErrOversizeFrame = errors.New("帧超出可传输大小")

	// ErrDecode 数据报头部损坏或长度不一致
	ErrDecode = errors.New("协议解码失败")
)

// =============================================================================
// 数据报分类
// =============================================================================

// DatagramKind 数据报类型
type DatagramKind uint8

const (
	KindUnknown DatagramKind = iota
	KindAck                  // 4 字节 ⇒ ACK
	KindChunk                // ≥10 字节 ⇒ 数据块
)

// Classify 按总长度区分数据报类型
//
// 协议仅靠长度区分: 4 字节是 ACK，≥10 字节是数据块。
// 一个 4 字节的数据块在线路上与 ACK 无法区分，这是线上格式的已知缺陷，
// 但对端依赖该格式，此处保持兼容。
func Classify(data []byte) DatagramKind {
	switch {
	case len(data) == AckSize:
		return KindAck
	case len(data) >= ChunkHeaderSize:
		return KindChunk
	default:
		return KindUnknown
	}
}

// =============================================================================
// 数据块编解码
// =============================================================================

// Chunk 一个帧的分块
type Chunk struct {
	Seq   uint32 // 帧序列号
	Index uint8  // 块索引 (0-based)
	Count uint8  // 总块数
	Data  []byte // 块数据
}

// Encode 编码数据块
// 格式: DataLen(4) + Seq(4) + ChunkIndex(1) + ChunkCount(1) + Data(N)，网络字节序
func (c *Chunk) Encode() []byte {
	buf := make([]byte, ChunkHeaderSize+len(c.Data))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(c.Data)))
	binary.BigEndian.PutUint32(buf[4:8], c.Seq)
	buf[8] = c.Index
	buf[9] = c.Count
	copy(buf[ChunkHeaderSize:], c.Data)
	return buf
}

// DecodeChunk 解码数据块
func DecodeChunk(data []byte) (*Chunk, error) {
	if len(data) < ChunkHeaderSize {
		return nil, fmt.Errorf("%w: 数据太短 %d < %d", ErrDecode, len(data), ChunkHeaderSize)
	}

	dataLen := binary.BigEndian.Uint32(data[0:4])
	payload := data[ChunkHeaderSize:]

	// 声明长度必须与实际接收长度一致，否则整个数据报丢弃
	if uint32(len(payload)) != dataLen {
		return nil, fmt.Errorf("%w: 长度不一致 声明 %d 实际 %d", ErrDecode, dataLen, len(payload))
	}

	c := &Chunk{
		Seq:   binary.BigEndian.Uint32(data[4:8]),
		Index: data[8],
		Count: data[9],
	}

	if c.Count == 0 {
		return nil, fmt.Errorf("%w: 块总数为 0", ErrDecode)
	}
	if c.Index >= c.Count {
		return nil, fmt.Errorf("%w: 块索引越界 %d >= %d", ErrDecode, c.Index, c.Count)
	}

	c.Data = make([]byte, len(payload))
	copy(c.Data, payload)
	return c, nil
}

// =============================================================================
// ACK 编解码
// =============================================================================

// EncodeAck 编码 ACK 包
func EncodeAck(seq uint32) []byte {
	buf := make([]byte, AckSize)
	binary.BigEndian.PutUint32(buf, seq)
	return buf
}

// DecodeAck 解码 ACK 包
func DecodeAck(data []byte) (uint32, error) {
	if len(data) != AckSize {
		return 0, fmt.Errorf("%w: ACK 长度 %d != %d", ErrDecode, len(data), AckSize)
	}
	return binary.BigEndian.Uint32(data), nil
}

// =============================================================================
// 帧分片
// =============================================================================

// ChunkCountFor 计算载荷需要的分块数
func ChunkCountFor(payloadLen, maxChunkSize int) int {
	if payloadLen <= maxChunkSize {
		return 1
	}
	return (payloadLen + maxChunkSize - 1) / maxChunkSize
}

// SplitFrame 把载荷按 maxChunkSize 切成有序数据块
//
// 约束: 按索引顺序拼接各块数据必须精确还原载荷；空载荷也产生 1 个块。
// 分块数超过 255、或单块加头部超过传输层上限时返回 ErrOversizeFrame，
// 这类帧即使分片也无法投递，调用方应整帧丢弃。
func SplitFrame(seq uint32, payload []byte, maxChunkSize int) ([]*Chunk, error) {
	if maxChunkSize <= 0 {
		return nil, fmt.Errorf("maxChunkSize 非法: %d", maxChunkSize)
	}
	if maxChunkSize+ChunkHeaderSize > MaxDatagramSize {
		return nil, fmt.Errorf("%w: 单块 %d 字节加头部超出数据报上限 %d",
			ErrOversizeFrame, maxChunkSize, MaxDatagramSize)
	}

	count := ChunkCountFor(len(payload), maxChunkSize)
	if count > MaxChunkCount {
		return nil, fmt.Errorf("%w: 需要 %d 块，超过上限 %d",
			ErrOversizeFrame, count, MaxChunkCount)
	}

	chunks := make([]*Chunk, 0, count)
	for i := 0; i < count; i++ {
		start := i * maxChunkSize
		end := start + maxChunkSize
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, &Chunk{
			Seq:   seq,
			Index: uint8(i),
			Count: uint8(count),
			Data:  payload[start:end],
		})
	}

	return chunks, nil
}
