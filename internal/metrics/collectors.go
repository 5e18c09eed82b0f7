// =============================================================================
// 文件: internal/metrics/collectors.go
// 描述: Prometheus 指标收集器 - 从引擎快照导出发送/接收统计
// =============================================================================
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mrcgq/233/internal/transport"
)

// 引擎是单线程的，Prometheus 抓取却发生在 HTTP goroutine 里。
// 引擎循环周期性把快照写进 Holder，抓取方只读快照，互不干扰。

// =============================================================================
// 发送端收集器
// =============================================================================

// SenderStatsHolder 发送端统计快照持有者
type SenderStatsHolder struct {
	mu    sync.RWMutex
	stats transport.SenderStats
}

// NewSenderStatsHolder 创建发送端快照持有者
func NewSenderStatsHolder() *SenderStatsHolder {
	return &SenderStatsHolder{}
}

// Update 更新快照（由发送循环周期性调用）
func (h *SenderStatsHolder) Update(s transport.SenderStats) {
	h.mu.Lock()
	h.stats = s
	h.mu.Unlock()
}

// Snapshot 读取最近一次快照
func (h *SenderStatsHolder) Snapshot() transport.SenderStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stats
}

// SenderCollector 发送端指标收集器
type SenderCollector struct {
	holder *SenderStatsHolder

	framesSentDesc      *prometheus.Desc
	retransmitsDesc     *prometheus.Desc
	acksReceivedDesc    *prometheus.Desc
	framesOversizeDesc  *prometheus.Desc
	framesAbandonedDesc *prometheus.Desc
	windowRejectsDesc   *prometheus.Desc
	windowBaseDesc      *prometheus.Desc
	windowNextDesc      *prometheus.Desc
	windowSizeDesc      *prometheus.Desc
	inFlightDesc        *prometheus.Desc
}

// NewSenderCollector 创建发送端收集器
func NewSenderCollector(holder *SenderStatsHolder) *SenderCollector {
	namespace := "cast"
	subsystem := "sender"

	return &SenderCollector{
		holder: holder,

		framesSentDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "frames_sent_total"),
			"Total frames handed to the transport",
			nil, nil,
		),
		retransmitsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "retransmits_total"),
			"Total frame retransmissions",
			nil, nil,
		),
		acksReceivedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "acks_received_total"),
			"Total acknowledgements accepted",
			nil, nil,
		),
		framesOversizeDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "frames_oversize_total"),
			"Frames rejected for exceeding the fragmentation limit",
			nil, nil,
		),
		framesAbandonedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "frames_abandoned_total"),
			"Frames dropped after exhausting retries (drop policy)",
			nil, nil,
		),
		windowRejectsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "window_rejects_total"),
			"Send attempts rejected by a full window",
			nil, nil,
		),
		windowBaseDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "window_base"),
			"Oldest unacknowledged sequence number",
			nil, nil,
		),
		windowNextDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "window_next_seq"),
			"Next sequence number to assign",
			nil, nil,
		),
		windowSizeDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "window_size"),
			"Configured sliding window size",
			nil, nil,
		),
		inFlightDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "frames_in_flight"),
			"Unacknowledged frames currently in the window",
			nil, nil,
		),
	}
}

// Describe 实现 prometheus.Collector 接口
func (c *SenderCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.framesSentDesc
	ch <- c.retransmitsDesc
	ch <- c.acksReceivedDesc
	ch <- c.framesOversizeDesc
	ch <- c.framesAbandonedDesc
	ch <- c.windowRejectsDesc
	ch <- c.windowBaseDesc
	ch <- c.windowNextDesc
	ch <- c.windowSizeDesc
	ch <- c.inFlightDesc
}

// Collect 实现 prometheus.Collector 接口
func (c *SenderCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.holder.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.framesSentDesc, prometheus.CounterValue,
		float64(s.FramesSent))
	ch <- prometheus.MustNewConstMetric(c.retransmitsDesc, prometheus.CounterValue,
		float64(s.Retransmits))
	ch <- prometheus.MustNewConstMetric(c.acksReceivedDesc, prometheus.CounterValue,
		float64(s.AcksReceived))
	ch <- prometheus.MustNewConstMetric(c.framesOversizeDesc, prometheus.CounterValue,
		float64(s.FramesOversize))
	ch <- prometheus.MustNewConstMetric(c.framesAbandonedDesc, prometheus.CounterValue,
		float64(s.FramesAbandoned))
	ch <- prometheus.MustNewConstMetric(c.windowRejectsDesc, prometheus.CounterValue,
		float64(s.WindowRejects))
	ch <- prometheus.MustNewConstMetric(c.windowBaseDesc, prometheus.GaugeValue,
		float64(s.Base))
	ch <- prometheus.MustNewConstMetric(c.windowNextDesc, prometheus.GaugeValue,
		float64(s.NextSeq))
	ch <- prometheus.MustNewConstMetric(c.windowSizeDesc, prometheus.GaugeValue,
		float64(s.WindowSize))
	ch <- prometheus.MustNewConstMetric(c.inFlightDesc, prometheus.GaugeValue,
		float64(s.InFlight))
}

// =============================================================================
// 接收端收集器
// =============================================================================

// ReceiverStatsHolder 接收端统计快照持有者
type ReceiverStatsHolder struct {
	mu    sync.RWMutex
	stats transport.ReceiverStats
}

// NewReceiverStatsHolder 创建接收端快照持有者
func NewReceiverStatsHolder() *ReceiverStatsHolder {
	return &ReceiverStatsHolder{}
}

// Update 更新快照（由接收循环周期性调用）
func (h *ReceiverStatsHolder) Update(s transport.ReceiverStats) {
	h.mu.Lock()
	h.stats = s
	h.mu.Unlock()
}

// Snapshot 读取最近一次快照
func (h *ReceiverStatsHolder) Snapshot() transport.ReceiverStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stats
}

// ReceiverCollector 接收端指标收集器
type ReceiverCollector struct {
	holder *ReceiverStatsHolder

	framesDeliveredDesc *prometheus.Desc
	duplicatesDesc      *prometheus.Desc
	outOfOrderDesc      *prometheus.Desc
	acksSentDesc        *prometheus.Desc
	decodeErrorsDesc    *prometheus.Desc
	framesExpiredDesc   *prometheus.Desc
	chunksRejectedDesc  *prometheus.Desc
	expectedSeqDesc     *prometheus.Desc
	reorderBufferedDesc *prometheus.Desc
	incompleteDesc      *prometheus.Desc
}

// NewReceiverCollector 创建接收端收集器
func NewReceiverCollector(holder *ReceiverStatsHolder) *ReceiverCollector {
	namespace := "cast"
	subsystem := "receiver"

	return &ReceiverCollector{
		holder: holder,

		framesDeliveredDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "frames_delivered_total"),
			"Frames delivered in order to the sink",
			nil, nil,
		),
		duplicatesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "duplicate_frames_total"),
			"Completed frames below the expected sequence",
			nil, nil,
		),
		outOfOrderDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "out_of_order_frames_total"),
			"Completed frames buffered ahead of the expected sequence",
			nil, nil,
		),
		acksSentDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "acks_sent_total"),
			"Acknowledgements sent back to the sender",
			nil, nil,
		),
		decodeErrorsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "decode_errors_total"),
			"Datagrams that failed to decode",
			nil, nil,
		),
		framesExpiredDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "frames_expired_total"),
			"Partial frames discarded after the reassembly deadline",
			nil, nil,
		),
		chunksRejectedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "chunks_rejected_total"),
			"Chunks rejected for belonging to expired frames",
			nil, nil,
		),
		expectedSeqDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "expected_seq"),
			"Next sequence number expected for in-order delivery",
			nil, nil,
		),
		reorderBufferedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "reorder_buffered_frames"),
			"Completed frames waiting in the reorder buffer",
			nil, nil,
		),
		incompleteDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "incomplete_frames"),
			"Frames with at least one chunk still missing",
			nil, nil,
		),
	}
}

// Describe 实现 prometheus.Collector 接口
func (c *ReceiverCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.framesDeliveredDesc
	ch <- c.duplicatesDesc
	ch <- c.outOfOrderDesc
	ch <- c.acksSentDesc
	ch <- c.decodeErrorsDesc
	ch <- c.framesExpiredDesc
	ch <- c.chunksRejectedDesc
	ch <- c.expectedSeqDesc
	ch <- c.reorderBufferedDesc
	ch <- c.incompleteDesc
}

// Collect 实现 prometheus.Collector 接口
func (c *ReceiverCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.holder.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.framesDeliveredDesc, prometheus.CounterValue,
		float64(s.FramesDelivered))
	ch <- prometheus.MustNewConstMetric(c.duplicatesDesc, prometheus.CounterValue,
		float64(s.Duplicates))
	ch <- prometheus.MustNewConstMetric(c.outOfOrderDesc, prometheus.CounterValue,
		float64(s.OutOfOrder))
	ch <- prometheus.MustNewConstMetric(c.acksSentDesc, prometheus.CounterValue,
		float64(s.AcksSent))
	ch <- prometheus.MustNewConstMetric(c.decodeErrorsDesc, prometheus.CounterValue,
		float64(s.DecodeErrors))
	ch <- prometheus.MustNewConstMetric(c.framesExpiredDesc, prometheus.CounterValue,
		float64(s.FramesExpired))
	ch <- prometheus.MustNewConstMetric(c.chunksRejectedDesc, prometheus.CounterValue,
		float64(s.ChunksRejected))
	ch <- prometheus.MustNewConstMetric(c.expectedSeqDesc, prometheus.GaugeValue,
		float64(s.Expected))
	ch <- prometheus.MustNewConstMetric(c.reorderBufferedDesc, prometheus.GaugeValue,
		float64(s.ReorderBuffered))
	ch <- prometheus.MustNewConstMetric(c.incompleteDesc, prometheus.GaugeValue,
		float64(s.Incomplete))
}

// =============================================================================
// 端点收集器
// =============================================================================

// EndpointStats 端点统计数据接口
type EndpointStats interface {
	DatagramsSent() uint64
	DatagramsRecv() uint64
}

// EndpointCollector 端点指标收集器
type EndpointCollector struct {
	stats EndpointStats

	sentDesc *prometheus.Desc
	recvDesc *prometheus.Desc
}

// NewEndpointCollector 创建端点收集器
func NewEndpointCollector(stats EndpointStats) *EndpointCollector {
	namespace := "cast"
	subsystem := "endpoint"

	return &EndpointCollector{
		stats: stats,

		sentDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "datagrams_sent_total"),
			"Total datagrams written to the network",
			nil, nil,
		),
		recvDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "datagrams_received_total"),
			"Total datagrams read from the network",
			nil, nil,
		),
	}
}

// Describe 实现 prometheus.Collector 接口
func (c *EndpointCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sentDesc
	ch <- c.recvDesc
}

// Collect 实现 prometheus.Collector 接口
func (c *EndpointCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.sentDesc, prometheus.CounterValue,
		float64(c.stats.DatagramsSent()))
	ch <- prometheus.MustNewConstMetric(c.recvDesc, prometheus.CounterValue,
		float64(c.stats.DatagramsRecv()))
}
