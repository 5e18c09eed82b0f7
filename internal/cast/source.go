// =============================================================================
// 文件: internal/cast/source.go
// 描述: 载荷来源 - 采集是外部协作者，核心只拿到不透明字节
// =============================================================================
package cast

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mrcgq/233/internal/protocol"
)

// ErrNoFrame 本周期没有产出载荷，发送循环跳过这一轮
var ErrNoFrame = errors.New("本周期无载荷")

// PayloadSource 按需产出一帧原始载荷
type PayloadSource interface {
	NextFrame() ([]byte, error)
}

// QualitySource 支持按质量档位产出载荷的来源 (编码端可迭代降质)
type QualitySource interface {
	NextFrameAt(quality int) ([]byte, error)
}

// =============================================================================
// 测试图样来源
// =============================================================================

// PatternSource 确定性测试图样
//
// 真实采集不可用时的替代来源，每帧内容由帧号决定，接收端可校验。
type PatternSource struct {
	frameSize int
	counter   uint64
}

// NewPatternSource 创建测试图样来源
func NewPatternSource(frameSize int) *PatternSource {
	if frameSize <= 0 {
		frameSize = 64 * 1024
	}
	return &PatternSource{frameSize: frameSize}
}

// NextFrame 产出下一帧图样
func (s *PatternSource) NextFrame() ([]byte, error) {
	frame := make([]byte, s.frameSize)
	binary.BigEndian.PutUint64(frame, s.counter)
	for i := 8; i < len(frame); i++ {
		frame[i] = byte((uint64(i) * (s.counter + 1)) % 251)
	}
	s.counter++
	return frame, nil
}

// NextFrameAt 按质量档位产出图样，质量只影响帧大小
func (s *PatternSource) NextFrameAt(quality int) ([]byte, error) {
	if quality <= 0 {
		return nil, fmt.Errorf("质量档位非法: %d", quality)
	}
	size := s.frameSize * quality / 100
	if size < 8 {
		size = 8
	}
	frame := make([]byte, size)
	binary.BigEndian.PutUint64(frame, s.counter)
	for i := 8; i < len(frame); i++ {
		frame[i] = byte((uint64(i) * (s.counter + 1)) % 251)
	}
	s.counter++
	return frame, nil
}

// =============================================================================
// 迭代降质包装
// =============================================================================

// ShrinkingSource 包装 QualitySource，载荷超出可传输上限时降质重试
//
// 原始编码端的做法: 帧太大就降低压缩质量再来一次，降到下限还不行
// 就放弃这一帧上报 ErrOversizeFrame。
type ShrinkingSource struct {
	src        QualitySource
	quality    int
	minQuality int
	step       int
	maxPayload int
}

// NewShrinkingSource 创建降质包装
//
// maxPayload 是一帧在当前分块配置下能承载的上限 (255 × maxChunkSize)。
func NewShrinkingSource(src QualitySource, quality, minQuality, step, maxChunkSize int) *ShrinkingSource {
	if quality <= 0 {
		quality = 50
	}
	if minQuality <= 0 {
		minQuality = 10
	}
	if step <= 0 {
		step = 10
	}
	return &ShrinkingSource{
		src:        src,
		quality:    quality,
		minQuality: minQuality,
		step:       step,
		maxPayload: protocol.MaxChunkCount * maxChunkSize,
	}
}

// NextFrame 产出一帧，必要时逐档降质
func (s *ShrinkingSource) NextFrame() ([]byte, error) {
	for q := s.quality; q >= s.minQuality; q -= s.step {
		frame, err := s.src.NextFrameAt(q)
		if err != nil {
			return nil, err
		}
		if len(frame) <= s.maxPayload {
			return frame, nil
		}
	}
	return nil, fmt.Errorf("降到质量下限 %d 仍超出上限 %d: %w",
		s.minQuality, s.maxPayload, protocol.ErrOversizeFrame)
}
