// =============================================================================
// 文件: cmd/cast-receiver/main.go
// 描述: 接收端主程序 - 重组分块, 按序交付帧, 空闲超时自动停机
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
	outputDir := flag.String("output", "", "帧落盘目录, 空则丢弃 (覆盖配置)")
	idleTimeout := flag.Int("idle", -1, "空闲超时秒数, 0 不停机 (覆盖配置)")
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
	if *outputDir != "" {
		cfg.Receiver.OutputDir = *outputDir
	}
	if *idleTimeout >= 0 {
		cfg.Receiver.IdleTimeoutS = *idleTimeout
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

	// 交付出口: 配置了目录就落盘, 否则统计后丢弃
	var sink cast.DeliverySink
	if cfg.Receiver.OutputDir != "" {
		sink, err = cast.NewDirSink(cfg.Receiver.OutputDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "输出目录错误: %v\n", err)
			os.Exit(1)
		}
	} else {
		sink = cast.NullSink{}
	}
	defer sink.Close()

	// ARQ 接收引擎
	engine := transport.NewReceiverEngine(ep, &transport.ReceiverConfig{
		ReassemblyExpiry: time.Duration(cfg.ARQ.ReassemblyExpiryMs) * time.Millisecond,
	}, cfg.LogLevel)

	loop := cast.NewReceiverLoop(ep, engine, sink, &cast.ReceiverLoopConfig{
		PollTimeout: time.Duration(cfg.Transport.PollTimeoutMs) * time.Millisecond,
		IdleTimeout: time.Duration(cfg.Receiver.IdleTimeoutS) * time.Second,
		StatsPeriod: 3 * time.Second,
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

		holder := metrics.NewReceiverStatsHolder()
		metricsServer.MustRegister(metrics.NewReceiverCollector(holder))
		if es, ok := ep.(metrics.EndpointStats); ok {
			metricsServer.MustRegister(metrics.NewEndpointCollector(es))
		}
		loop.OnStats = holder.Update

		metricsServer.SetHealthCheck(func() metrics.HealthStatus {
			return receiverHealth(holder)
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

	// 空闲停机是预期的正常退出路径
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, cast.ErrIdle) {
		fmt.Fprintf(os.Stderr, "退出: %v\n", err)
		os.Exit(1)
	}
}

// buildEndpoint 按配置创建传输端点，接收端在 websocket 模式下监听
func buildEndpoint(cfg *config.Config) (transport.Endpoint, error) {
	switch cfg.Transport.Mode {
	case "websocket":
		return transport.NewWSListenEndpoint(cfg.Listen, &transport.WSConfig{
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

// receiverHealth 把接收快照折算成健康状态
func receiverHealth(holder *metrics.ReceiverStatsHolder) metrics.HealthStatus {
	st := holder.Snapshot()

	status := metrics.HealthStatus{
		Status:     "healthy",
		Timestamp:  time.Now(),
		Components: make(map[string]metrics.ComponentHealth),
	}

	status.Components["delivery"] = metrics.ComponentHealth{
		Status: "healthy",
		Message: fmt.Sprintf("delivered: %d, expected_seq: %d",
			st.FramesDelivered, st.Expected),
	}

	reassemblyStatus := "healthy"
	if st.Incomplete > 16 {
		reassemblyStatus = "degraded"
		status.Status = "degraded"
	}
	status.Components["reassembly"] = metrics.ComponentHealth{
		Status: reassemblyStatus,
		Message: fmt.Sprintf("incomplete: %d, expired: %d",
			st.Incomplete, st.FramesExpired),
	}

	return status
}

func printVersion() {
	fmt.Printf("Cast Receiver v%s\n", Version)
	fmt.Printf("  Build: %s\n", BuildTime)
	fmt.Printf("  Commit: %s\n", GitCommit)
	fmt.Printf("  Go: %s\n", runtime.Version())
	fmt.Printf("  OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Println()
	fmt.Println("传输模式:")
	fmt.Println("  - udp       : 原生 UDP 数据报 (默认)")
	fmt.Println("  - websocket : WebSocket 备用链路 (接收端作为监听方)")
	fmt.Println()
	fmt.Println("使用示例:")
	fmt.Println("  cast-receiver -c config.yaml -output ./frames")
}

func printBanner(cfg *config.Config, ep transport.Endpoint) {
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════════════╗")
	fmt.Printf("║  Cast Receiver v%-41s ║\n", Version)
	fmt.Println("╠══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  本地地址: %-45v ║\n", ep.LocalAddr())
	fmt.Printf("║  传输模式: %-45s ║\n", cfg.Transport.Mode)
	if cfg.Receiver.OutputDir != "" {
		fmt.Printf("║  落盘目录: %-45s ║\n", cfg.Receiver.OutputDir)
	} else {
		fmt.Printf("║  落盘目录: %-45s ║\n", "(丢弃)")
	}
	if cfg.Receiver.IdleTimeoutS > 0 {
		fmt.Printf("║  空闲停机: %-45s ║\n", fmt.Sprintf("%d 秒", cfg.Receiver.IdleTimeoutS))
	}
	if cfg.Metrics.Enabled {
		fmt.Printf("║  Prometheus: http://localhost%-27s ║\n",
			cfg.Metrics.Listen+cfg.Metrics.Path)
	}
	fmt.Println("╠══════════════════════════════════════════════════════════╣")
	fmt.Println("║  按 Ctrl+C 停止                                          ║")
	fmt.Println("╚══════════════════════════════════════════════════════════╝")
	fmt.Println()
}
