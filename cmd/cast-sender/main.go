// =============================================================================
// 文件: cmd/cast-sender/main.go
// 描述: 发送端主程序 - 采集测试图样帧, 经滑动窗口 ARQ 推送给接收端
// =============================================================================
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mrcgq/233/internal/cast"
	"github.com/mrcgq/233/internal/config"
	"github.com/mrcgq/233/internal/metrics"
	"github.com/mrcgq/233/internal/transport"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("c", "config.yaml", "配置文件路径")
	showVersion := flag.Bool("v", false, "显示版本")
	genConfig := flag.Bool("gen-config", false, "生成示例配置文件")

	// 常用覆盖项
	listen := flag.String("listen", "", "本地监听地址 (覆盖配置)")
	peer := flag.String("peer", "", "对端地址 (覆盖配置)")
	mode := flag.String("transport", "", "传输模式: udp/websocket (覆盖配置)")
	window := flag.Int("window", 0, "滑动窗口大小 (覆盖配置)")
	lossPolicy := flag.String("loss-policy", "", "丢帧策略: stall/drop (覆盖配置)")
	logLevel := flag.String("log-level", "", "日志级别: error/info/debug (覆盖配置)")

	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	if *genConfig {
		if err := config.WriteExampleConfig("config.example.yaml"); err != nil {
			fmt.Fprintf(os.Stderr, "生成配置失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("已生成示例配置文件: config.example.yaml")
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		// 没有配置文件时用默认值跑，方便本机验证
		if errors.Is(err, os.ErrNotExist) {
			cfg = config.DefaultConfig()
		} else {
			fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
			os.Exit(1)
		}
	}

	// 命令行覆盖
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *peer != "" {
		cfg.Peer = *peer
	}
	if *mode != "" {
		cfg.Transport.Mode = *mode
	}
	if *window > 0 {
		cfg.ARQ.WindowSize = *window
	}
	if *lossPolicy != "" {
		cfg.ARQ.LossPolicy = *lossPolicy
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
		os.Exit(1)
	}

	// 创建传输端点
	ep, err := buildEndpoint(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "传输层错误: %v\n", err)
		os.Exit(1)
	}
	defer ep.Close()

	// 帧源: 测试图样 + 超限时按质量档位压缩
	pattern := cast.NewPatternSource(cfg.Sender.FrameSize)
	source := cast.NewShrinkingSource(pattern,
		cfg.Sender.Quality, cfg.Sender.MinQuality, cfg.Sender.QualityStep,
		cfg.Sender.MaxChunkSize)

	// ARQ 发送引擎
	engine := transport.NewSenderEngine(ep, &transport.SenderConfig{
		WindowSize:   cfg.ARQ.WindowSize,
		MaxChunkSize: cfg.Sender.MaxChunkSize,
		RTO:          time.Duration(cfg.ARQ.RTOMs) * time.Millisecond,
		MaxRetries:   cfg.ARQ.MaxRetries,
		LossPolicy:   transport.LossPolicy(cfg.ARQ.LossPolicy),
	}, cfg.LogLevel)

	loop := cast.NewSenderLoop(ep, engine, source, &cast.SenderLoopConfig{
		SendInterval: time.Duration(cfg.Sender.SendIntervalMs) * time.Millisecond,
		PollTimeout:  time.Duration(cfg.Transport.PollTimeoutMs) * time.Millisecond,
		StatsPeriod:  3 * time.Second,
	}, cfg.LogLevel)

	// Metrics 服务
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(
			cfg.Metrics.Listen,
			cfg.Metrics.Path,
			cfg.Metrics.HealthPath,
			cfg.Metrics.EnablePprof,
		)

		holder := metrics.NewSenderStatsHolder()
		metricsServer.MustRegister(metrics.NewSenderCollector(holder))
		if es, ok := ep.(metrics.EndpointStats); ok {
			metricsServer.MustRegister(metrics.NewEndpointCollector(es))
		}
		loop.OnStats = holder.Update

		metricsServer.SetHealthCheck(func() metrics.HealthStatus {
			return senderHealth(holder)
		})

		if err := metricsServer.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Metrics 启动失败: %v\n", err)
		}
	}

	printBanner(cfg, ep)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Run(gctx)
	})

	err = g.Wait()

	fmt.Println("\n正在关闭...")
	if metricsServer != nil {
		metricsServer.Stop()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "退出: %v\n", err)
		os.Exit(1)
	}
}

// buildEndpoint 按配置创建传输端点，发送端在 websocket 模式下主动拨号
func buildEndpoint(cfg *config.Config) (transport.Endpoint, error) {
	switch cfg.Transport.Mode {
	case "websocket":
		return transport.NewWSDialEndpoint(cfg.Peer, &transport.WSConfig{
			Path: cfg.Transport.WSPath,
		})
	default:
		udpCfg := transport.DefaultUDPConfig()
		if cfg.Transport.ReadBufferSize > 0 {
			udpCfg.ReadBufferSize = cfg.Transport.ReadBufferSize
		}
		if cfg.Transport.WriteBufferSize > 0 {
			udpCfg.WriteBufferSize = cfg.Transport.WriteBufferSize
		}
		return transport.NewUDPEndpoint(cfg.Listen, cfg.Peer, udpCfg)
	}
}

// senderHealth 把窗口快照折算成健康状态
//
// 窗口被 stall 策略卡死时在途帧会贴满窗口且长期不动，这里只能看到
// 瞬时快照，所以用 "在途 == 窗口" 标记 degraded 提示运维去看日志。
func senderHealth(holder *metrics.SenderStatsHolder) metrics.HealthStatus {
	st := holder.Snapshot()

	status := metrics.HealthStatus{
		Status:     "healthy",
		Timestamp:  time.Now(),
		Components: make(map[string]metrics.ComponentHealth),
	}

	windowStatus := "healthy"
	if st.WindowSize > 0 && st.InFlight >= st.WindowSize {
		windowStatus = "degraded"
		status.Status = "degraded"
	}
	status.Components["window"] = metrics.ComponentHealth{
		Status:  windowStatus,
		Message: fmt.Sprintf("in_flight: %d/%d, base: %d", st.InFlight, st.WindowSize, st.Base),
	}
	status.Components["frames"] = metrics.ComponentHealth{
		Status:  "healthy",
		Message: fmt.Sprintf("sent: %d, retransmits: %d", st.FramesSent, st.Retransmits),
	}

	return status
}

func printVersion() {
	fmt.Printf("Cast Sender v%s\n", Version)
	fmt.Printf("  Build: %s\n", BuildTime)
	fmt.Printf("  Commit: %s\n", GitCommit)
	fmt.Printf("  Go: %s\n", runtime.Version())
	fmt.Printf("  OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Println()
	fmt.Println("传输模式:")
	fmt.Println("  - udp       : 原生 UDP 数据报 (默认)")
	fmt.Println("  - websocket : WebSocket 备用链路 (UDP 被封锁时)")
	fmt.Println()
	fmt.Println("丢帧策略:")
	fmt.Println("  - stall : 可靠优先, 重试耗尽后窗口停滞等待确认")
	fmt.Println("  - drop  : 活性优先, 重试耗尽后放弃该帧继续前进")
	fmt.Println()
	fmt.Println("使用示例:")
	fmt.Println("  cast-sender -c config.yaml -peer 192.168.1.10:10001")
}

func printBanner(cfg *config.Config, ep transport.Endpoint) {
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════════════╗")
	fmt.Printf("║  Cast Sender v%-43s ║\n", Version)
	fmt.Println("╠══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  本地地址: %-45v ║\n", ep.LocalAddr())
	fmt.Printf("║  对端地址: %-45s ║\n", cfg.Peer)
	fmt.Printf("║  传输模式: %-45s ║\n", cfg.Transport.Mode)
	fmt.Printf("║  窗口/RTO: %-45s ║\n",
		fmt.Sprintf("%d / %dms (重试 %d 次, %s)", cfg.ARQ.WindowSize, cfg.ARQ.RTOMs,
			cfg.ARQ.MaxRetries, cfg.ARQ.LossPolicy))
	if cfg.Metrics.Enabled {
		fmt.Printf("║  Prometheus: http://localhost%-27s ║\n",
			cfg.Metrics.Listen+cfg.Metrics.Path)
	}
	fmt.Println("╠══════════════════════════════════════════════════════════╣")
	fmt.Println("║  按 Ctrl+C 停止                                          ║")
	fmt.Println("╚══════════════════════════════════════════════════════════╝")
	fmt.Println()
}
