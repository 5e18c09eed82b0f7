// =============================================================================
// 文件: internal/config/config.go
// 描述: 配置管理 - 默认值、加载校验与示例生成
// =============================================================================
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mrcgq/233/internal/protocol"
)

// Config 主配置
type Config struct {
	Listen   string `yaml:"listen"`
	Peer     string `yaml:"peer"`
	LogLevel string `yaml:"log_level"`

	Transport TransportConfig `yaml:"transport"`
	ARQ       ARQConfig       `yaml:"arq"`
	Sender    SenderConfig    `yaml:"sender"`
	Receiver  ReceiverConfig  `yaml:"receiver"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// TransportConfig 传输层配置
type TransportConfig struct {
	Mode            string `yaml:"mode"` // udp, websocket
	ReadBufferSize  int    `yaml:"read_buffer_size"`
	WriteBufferSize int    `yaml:"write_buffer_size"`
	WSPath          string `yaml:"ws_path"`
	PollTimeoutMs   int    `yaml:"poll_timeout_ms"`
}

// ARQConfig 可靠传输配置
type ARQConfig struct {
	WindowSize         int    `yaml:"window_size"`
	RTOMs              int    `yaml:"rto_ms"`
	MaxRetries         int    `yaml:"max_retries"`
	LossPolicy         string `yaml:"loss_policy"` // stall, drop
	ReassemblyExpiryMs int    `yaml:"reassembly_expiry_ms"`
}

// SenderConfig 发送端配置
type SenderConfig struct {
	SendIntervalMs int `yaml:"send_interval_ms"`
	MaxChunkSize   int `yaml:"max_chunk_size"`
	FrameSize      int `yaml:"frame_size"` // 测试图样帧大小
	Quality        int `yaml:"quality"`
	MinQuality     int `yaml:"min_quality"`
	QualityStep    int `yaml:"quality_step"`
}

// ReceiverConfig 接收端配置
type ReceiverConfig struct {
	IdleTimeoutS int    `yaml:"idle_timeout_s"`
	OutputDir    string `yaml:"output_dir"` // 空字符串丢弃交付
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Listen      string `yaml:"listen"`
	Path        string `yaml:"path"`
	HealthPath  string `yaml:"health_path"`
	EnablePprof bool   `yaml:"enable_pprof"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Listen:   ":10000",
		Peer:     "127.0.0.1:10001",
		LogLevel: "info",
		Transport: TransportConfig{
			Mode:          "udp",
			WSPath:        "/cast",
			PollTimeoutMs: 100,
		},
		ARQ: ARQConfig{
			WindowSize:         5,
			RTOMs:              1000,
			MaxRetries:         3,
			LossPolicy:         "stall",
			ReassemblyExpiryMs: 5000,
		},
		Sender: SenderConfig{
			SendIntervalMs: 100,
			MaxChunkSize:   60000,
			FrameSize:      64 * 1024,
			Quality:        50,
			MinQuality:     10,
			QualityStep:    10,
		},
		Receiver: ReceiverConfig{
			IdleTimeoutS: 10,
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			Listen:     ":9100",
			Path:       "/metrics",
			HealthPath: "/healthz",
		},
	}
}

// Load 从文件加载配置，缺失字段用默认值补齐
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置，错误配置在启动前拦截
func (c *Config) Validate() error {
	if err := validateAddr("listen", c.Listen); err != nil {
		return err
	}
	if err := validateAddr("peer", c.Peer); err != nil {
		return err
	}

	switch c.LogLevel {
	case "error", "info", "debug":
	default:
		return fmt.Errorf("log_level 非法: %s (可选 error/info/debug)", c.LogLevel)
	}

	if err := c.Transport.Validate(); err != nil {
		return err
	}
	if err := c.ARQ.Validate(); err != nil {
		return err
	}
	if err := c.Sender.Validate(); err != nil {
		return err
	}
	if err := c.Receiver.Validate(); err != nil {
		return err
	}
	if c.Metrics.Enabled {
		if err := validateAddr("metrics.listen", c.Metrics.Listen); err != nil {
			return err
		}
	}
	return nil
}

// Validate 校验传输层配置
func (t *TransportConfig) Validate() error {
	switch t.Mode {
	case "udp", "websocket":
	default:
		return fmt.Errorf("transport.mode 非法: %s (可选 udp/websocket)", t.Mode)
	}
	if t.PollTimeoutMs <= 0 {
		return fmt.Errorf("transport.poll_timeout_ms 必须为正: %d", t.PollTimeoutMs)
	}
	if t.Mode == "websocket" && !strings.HasPrefix(t.WSPath, "/") {
		return fmt.Errorf("transport.ws_path 必须以 / 开头: %s", t.WSPath)
	}
	return nil
}

// Validate 校验可靠传输配置
func (a *ARQConfig) Validate() error {
	if a.WindowSize <= 0 {
		return fmt.Errorf("arq.window_size 必须为正: %d", a.WindowSize)
	}
	if a.RTOMs <= 0 {
		return fmt.Errorf("arq.rto_ms 必须为正: %d", a.RTOMs)
	}
	if a.MaxRetries < 0 {
		return fmt.Errorf("arq.max_retries 不能为负: %d", a.MaxRetries)
	}
	switch a.LossPolicy {
	case "stall", "drop":
	default:
		return fmt.Errorf("arq.loss_policy 非法: %s (可选 stall/drop)", a.LossPolicy)
	}
	if a.ReassemblyExpiryMs <= 0 {
		return fmt.Errorf("arq.reassembly_expiry_ms 必须为正: %d", a.ReassemblyExpiryMs)
	}
	return nil
}

// Validate 校验发送端配置
func (s *SenderConfig) Validate() error {
	if s.SendIntervalMs <= 0 {
		return fmt.Errorf("sender.send_interval_ms 必须为正: %d", s.SendIntervalMs)
	}
	if s.MaxChunkSize <= 0 {
		return fmt.Errorf("sender.max_chunk_size 必须为正: %d", s.MaxChunkSize)
	}
	if s.MaxChunkSize+protocol.ChunkHeaderSize > protocol.MaxDatagramSize {
		return fmt.Errorf("sender.max_chunk_size %d 加头部超出数据报上限 %d",
			s.MaxChunkSize, protocol.MaxDatagramSize)
	}
	if s.MinQuality > s.Quality {
		return fmt.Errorf("sender.min_quality %d 不能大于 quality %d", s.MinQuality, s.Quality)
	}
	return nil
}

// Validate 校验接收端配置
func (r *ReceiverConfig) Validate() error {
	if r.IdleTimeoutS < 0 {
		return fmt.Errorf("receiver.idle_timeout_s 不能为负: %d", r.IdleTimeoutS)
	}
	return nil
}

// validateAddr 校验 host:port 格式
func validateAddr(field, addr string) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%s 地址非法 %q: %w", field, addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("%s 端口非法: %s", field, portStr)
	}
	if host != "" && net.ParseIP(host) == nil {
		// 允许域名，只拒绝明显畸形的输入
		if strings.ContainsAny(host, " \t") {
			return fmt.Errorf("%s 主机名非法: %s", field, host)
		}
	}
	return nil
}

// WriteExampleConfig 生成带注释的示例配置文件
func WriteExampleConfig(path string) error {
	example := `# 屏幕流可靠传输配置示例
# 发送端与接收端各一份，listen/peer 互为镜像

listen: ":10000"          # 本地绑定地址
peer: "127.0.0.1:10001"   # 对端地址
log_level: info           # error / info / debug

transport:
  mode: udp               # udp / websocket (UDP 被封锁时的备用链路)
  poll_timeout_ms: 100
  ws_path: /cast

arq:
  window_size: 5          # 滑动窗口大小 (在途未确认帧上限)
  rto_ms: 1000            # 重传超时
  max_retries: 3          # 单帧最大重传次数
  loss_policy: stall      # stall=可靠优先(窗口可能停滞) / drop=活性优先
  reassembly_expiry_ms: 5000

sender:
  send_interval_ms: 100   # 最小发送间隔
  max_chunk_size: 60000   # 单块最大数据量
  frame_size: 65536       # 测试图样帧大小
  quality: 50             # 初始质量档位
  min_quality: 10
  quality_step: 10

receiver:
  idle_timeout_s: 10      # 无新帧这么久后停机，0 不停机
  output_dir: ""          # 帧落盘目录，空则丢弃

metrics:
  enabled: false
  listen: ":9100"
  path: /metrics
  health_path: /healthz
  enable_pprof: false
`
	if err := os.WriteFile(path, []byte(example), 0o644); err != nil {
		return fmt.Errorf("写示例配置: %w", err)
	}
	return nil
}
