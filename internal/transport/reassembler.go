// =============================================================================
// 文件: internal/transport/reassembler.go
// 描述: 帧重组器 - 分块槽位、过期回收与复活拦截
// =============================================================================
package transport

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/mrcgq/233/internal/protocol"
)

const (
	// 复活拦截布隆过滤器参数
	bloomExpectedItems = 100000
	bloomFalsePositive = 0.0001
)

// incompleteFrame 重组中的帧
//
// 块总数在第一个分块到达时即已知且 ≤255，槽位用定长切片加计数器，
// 不用嵌套 map。
type incompleteFrame struct {
	seq      uint32
	count    int
	slots    [][]byte
	received int
	firstAt  time.Time
}

// Reassembler 帧重组器
type Reassembler struct {
	frames map[uint32]*incompleteFrame
	expiry time.Duration

	// 已过期帧的序列号进布隆过滤器，迟到分块不再重建局部状态。
	// 误报只会让极少数重播帧收不到，由发送端重传兜底。
	expired *bloom.BloomFilter

	framesExpired  uint64
	chunksRejected uint64
}

// NewReassembler 创建重组器
func NewReassembler(expiry time.Duration) *Reassembler {
	if expiry <= 0 {
		expiry = DefaultReassemblyExpiry
	}
	return &Reassembler{
		frames:  make(map[uint32]*incompleteFrame),
		expiry:  expiry,
		expired: bloom.NewWithEstimates(bloomExpectedItems, bloomFalsePositive),
	}
}

// Accept 存入一个分块，帧完整时返回重组好的载荷
//
// 同一索引的重复分块直接覆盖，幂等。与已有局部状态声明的块总数不一致
// 的分块按解码错误丢弃，不污染已有状态。
func (r *Reassembler) Accept(c *protocol.Chunk) ([]byte, bool, error) {
	if r.expired.Test(seqKey(c.Seq)) {
		r.chunksRejected++
		return nil, false, nil
	}

	f, ok := r.frames[c.Seq]
	if !ok {
		f = &incompleteFrame{
			seq:     c.Seq,
			count:   int(c.Count),
			slots:   make([][]byte, c.Count),
			firstAt: time.Now(),
		}
		r.frames[c.Seq] = f
	}

	if int(c.Count) != f.count {
		return nil, false, fmt.Errorf("%w: 帧 %d 块总数漂移 %d != %d",
			protocol.ErrDecode, c.Seq, c.Count, f.count)
	}
	if int(c.Index) >= f.count {
		return nil, false, fmt.Errorf("%w: 帧 %d 块索引越界 %d >= %d",
			protocol.ErrDecode, c.Seq, c.Index, f.count)
	}

	if f.slots[c.Index] == nil {
		f.received++
	}
	f.slots[c.Index] = c.Data

	if f.received < f.count {
		return nil, false, nil
	}

	// 全部槽位就绪，按索引顺序拼接并回收状态
	total := 0
	for _, s := range f.slots {
		total += len(s)
	}
	payload := make([]byte, 0, total)
	for _, s := range f.slots {
		payload = append(payload, s...)
	}
	delete(r.frames, c.Seq)

	return payload, true, nil
}

// Expire 回收超龄的重组状态，返回本轮丢弃的帧数
//
// 原始设计从不回收缺块的帧，丢包环境下状态无限增长；这里按首块时间
// 过期，并记住序列号防止迟到分块复活。
func (r *Reassembler) Expire(now time.Time) int {
	count := 0
	for seq, f := range r.frames {
		if now.Sub(f.firstAt) <= r.expiry {
			continue
		}
		delete(r.frames, seq)
		r.expired.Add(seqKey(seq))
		r.framesExpired++
		count++
	}
	return count
}

// Pending 重组中的帧数
func (r *Reassembler) Pending() int {
	return len(r.frames)
}

// FramesExpired 已过期丢弃的帧数
func (r *Reassembler) FramesExpired() uint64 {
	return r.framesExpired
}

// ChunksRejected 被复活拦截丢弃的分块数
func (r *Reassembler) ChunksRejected() uint64 {
	return r.chunksRejected
}

func seqKey(seq uint32) []byte {
	key := make([]byte, 4)
	binary.BigEndian.PutUint32(key, seq)
	return key
}
