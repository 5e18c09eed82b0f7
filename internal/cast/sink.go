// =============================================================================
// 文件: internal/cast/sink.go
// 描述: 交付出口 - 显示/落盘是外部协作者，核心只交出有序载荷
// =============================================================================
package cast

import (
	"fmt"
	"os"
	"path/filepath"
)

// DeliverySink 按序消费交付的载荷
type DeliverySink interface {
	// Deliver 每帧一次，按序列号递增调用
	Deliver(seq uint32, payload []byte) error

	Close() error
}

// =============================================================================
// 丢弃出口
// =============================================================================

// NullSink 丢弃所有载荷，只为驱动协议
type NullSink struct{}

func (NullSink) Deliver(seq uint32, payload []byte) error { return nil }
func (NullSink) Close() error                             { return nil }

// =============================================================================
// 落盘出口
// =============================================================================

// DirSink 把每帧写成目录下的独立文件
type DirSink struct {
	dir string
}

// NewDirSink 创建落盘出口，目录不存在则创建
func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建输出目录: %w", err)
	}
	return &DirSink{dir: dir}, nil
}

// Deliver 写出一帧
func (s *DirSink) Deliver(seq uint32, payload []byte) error {
	path := filepath.Join(s.dir, fmt.Sprintf("frame-%06d.bin", seq))
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("写出帧 %d: %w", seq, err)
	}
	return nil
}

func (s *DirSink) Close() error { return nil }
