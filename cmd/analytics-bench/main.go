// Command analytics-bench measures client throughput against an HTTP batch endpoint.
//
// Without -endpoint it starts a local sink that accepts every batch, which
// isolates the cost of queueing, batching and serialization.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/velmie/analytics"
)

const (
	defaultRecords          = 100000
	defaultPayloadBytes     = 256
	defaultProducers        = 4
	defaultWorkers          = 2
	defaultBatchCount       = 100
	defaultDrainTimeout     = 2 * time.Minute
	defaultProgressInterval = 5 * time.Second
	sinkReadLimit           = 8 << 20
	percentileP50           = 0.50
	percentileP95           = 0.95
	percentileP99           = 0.99
	microsecondsPerSecond   = 1e6
)

var (
	errRecordsInvalid   = errors.New("analytics-bench: records must be positive")
	errProducersInvalid = errors.New("analytics-bench: producers must be positive")
	errDeliveryMismatch = errors.New("analytics-bench: delivered actions mismatch")
)

type benchConfig struct {
	endpoint         string
	records          int
	producers        int
	workers          int
	batchCount       int
	queueSize        int
	payloadBytes     int
	payloadRandom    bool
	payloadSeed      int64
	enqueueTimeout   time.Duration
	drainTimeout     time.Duration
	sinkLatency      time.Duration
	progress         bool
	progressInterval time.Duration
}

type result struct {
	Endpoint       string        `json:"endpoint"`
	Records        int           `json:"records"`
	Producers      int           `json:"producers"`
	Workers        int           `json:"workers"`
	BatchCount     int           `json:"batch_count"`
	PayloadBytes   int           `json:"payload_bytes"`
	Submitted      int64         `json:"submitted"`
	Succeeded      int64         `json:"succeeded"`
	Failed         int64         `json:"failed"`
	Rejected       int64         `json:"rejected"`
	Retries        int64         `json:"retries"`
	SinkBatches    int64         `json:"sink_batches,omitempty"`
	SinkActions    int64         `json:"sink_actions,omitempty"`
	EnqueueTime    time.Duration `json:"enqueue_duration"`
	Duration       time.Duration `json:"duration"`
	Throughput     float64       `json:"throughput_actions_per_sec"`
	BatchP50Ms     float64       `json:"batch_p50_ms"`
	BatchP95Ms     float64       `json:"batch_p95_ms"`
	BatchP99Ms     float64       `json:"batch_p99_ms"`
	BatchMaxMs     float64       `json:"batch_max_ms"`
	BatchMeanMs    float64       `json:"batch_mean_ms"`
	BatchSamples   int           `json:"batch_samples"`
	MeanBatchBytes float64       `json:"mean_batch_bytes"`
	UserCPUSeconds float64       `json:"user_cpu_seconds"`
	SysCPUSeconds  float64       `json:"system_cpu_seconds"`
	GoTotalAlloc   uint64        `json:"go_total_alloc_bytes"`
	GoNumGC        uint32        `json:"go_num_gc"`
}

func main() {
	var (
		cfg     benchConfig
		jsonOut bool
	)

	flag.StringVar(&cfg.endpoint, "endpoint", "", "Batch endpoint base URL (empty starts a local sink)")
	flag.IntVar(&cfg.records, "records", defaultRecords, "Number of actions to enqueue")
	flag.IntVar(&cfg.producers, "producers", defaultProducers, "Concurrent producers")
	flag.IntVar(&cfg.workers, "workers", defaultWorkers, "Client send workers")
	flag.IntVar(&cfg.batchCount, "batch-count", defaultBatchCount, "Max actions per batch")
	flag.IntVar(&cfg.queueSize, "queue-size", 0, "Client queue capacity (0 uses the library default)")
	flag.IntVar(&cfg.payloadBytes, "payload-bytes", defaultPayloadBytes, "Size of the properties payload per action")
	flag.BoolVar(&cfg.payloadRandom, "payload-random", false, "Generate random payload contents")
	flag.Int64Var(&cfg.payloadSeed, "payload-seed", 1, "Random seed for payload generation")
	flag.DurationVar(&cfg.enqueueTimeout, "enqueue-timeout", time.Second, "How long producers wait for queue space")
	flag.DurationVar(&cfg.drainTimeout, "drain-timeout", defaultDrainTimeout, "Time to wait for the final flush")
	flag.DurationVar(&cfg.sinkLatency, "sink-latency", 0, "Artificial latency added by the local sink")
	flag.BoolVar(&cfg.progress, "progress", true, "Emit progress updates to stderr")
	flag.DurationVar(&cfg.progressInterval, "progress-interval", defaultProgressInterval, "Progress update interval")
	flag.BoolVar(&jsonOut, "json", false, "Print JSON result")
	flag.Parse()

	res, err := run(context.Background(), cfg)
	if err != nil {
		exitErr(err)
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			exitErr(err)
		}

		return
	}
	printResult(os.Stdout, res)
}

func run(ctx context.Context, cfg benchConfig) (result, error) {
	if cfg.records <= 0 {
		return result{}, errRecordsInvalid
	}
	if cfg.producers <= 0 {
		return result{}, errProducersInvalid
	}

	var sink *localSink
	if cfg.endpoint == "" {
		var err error
		sink, err = startSink(cfg.sinkLatency)
		if err != nil {
			return result{}, err
		}
		defer sink.Close()
		cfg.endpoint = sink.URL()
	}

	metrics := &benchMetrics{}
	opts := []analytics.Option{
		analytics.WithEndpoint(cfg.endpoint),
		analytics.WithWorkers(cfg.workers),
		analytics.WithMaxBatchCount(cfg.batchCount),
		analytics.WithEnqueueTimeout(cfg.enqueueTimeout),
		analytics.WithMetrics(metrics),
	}
	if cfg.queueSize > 0 {
		opts = append(opts, analytics.WithMaxQueueSize(cfg.queueSize))
	}
	client, err := analytics.NewClient("bench", opts...)
	if err != nil {
		return result{}, err
	}

	// #nosec G404 -- deterministic RNG for benchmark payloads.
	rng := rand.New(rand.NewSource(cfg.payloadSeed))
	properties := buildProperties(cfg.payloadBytes, cfg.payloadRandom, rng)

	var rejected atomic.Int64
	printer := newProgressPrinter(cfg.progress, cfg.progressInterval)
	progressCtx, stopProgress := context.WithCancel(ctx)
	go reportProgress(progressCtx, printer, client, int64(cfg.records))

	usageStart := readResourceUsage()
	start := time.Now()

	group, groupCtx := errgroup.WithContext(ctx)
	per, extra := cfg.records/cfg.producers, cfg.records%cfg.producers
	for p := 0; p < cfg.producers; p++ {
		count := per
		if p < extra {
			count++
		}
		producer := p
		group.Go(func() error {
			userID := fmt.Sprintf("bench-user-%d", producer)
			for i := 0; i < count; i++ {
				action := &analytics.Track{
					BaseAction: analytics.BaseAction{UserID: userID},
					Event:      "bench_event",
					Properties: properties,
				}
				err := client.EnqueueContext(groupCtx, action)
				if errors.Is(err, analytics.ErrQueueFull) {
					rejected.Add(1)
					continue
				}
				if err != nil {
					return err
				}
			}

			return nil
		})
	}
	if err := group.Wait(); err != nil {
		stopProgress()
		_ = client.Close()

		return result{}, err
	}
	enqueueTime := time.Since(start)

	drainCtx, cancel := context.WithTimeout(ctx, cfg.drainTimeout)
	defer cancel()
	shutdownErr := client.Shutdown(drainCtx)
	duration := time.Since(start)
	stopProgress()
	usage := deltaUsage(usageStart, readResourceUsage())

	stats := client.Statistics().Snapshot()
	printer.Done(progressLine(stats, int64(cfg.records)))

	batch := metrics.batch.Snapshot()
	res := result{
		Endpoint:       cfg.endpoint,
		Records:        cfg.records,
		Producers:      cfg.producers,
		Workers:        cfg.workers,
		BatchCount:     cfg.batchCount,
		PayloadBytes:   cfg.payloadBytes,
		Submitted:      stats.Submitted,
		Succeeded:      stats.Succeeded,
		Failed:         stats.Failed,
		Rejected:       rejected.Load(),
		Retries:        metrics.retries.Load(),
		EnqueueTime:    enqueueTime,
		Duration:       duration,
		BatchP50Ms:     msFloat(batch.P50),
		BatchP95Ms:     msFloat(batch.P95),
		BatchP99Ms:     msFloat(batch.P99),
		BatchMaxMs:     msFloat(batch.Max),
		BatchMeanMs:    msFloat(batch.Mean),
		BatchSamples:   batch.Count,
		MeanBatchBytes: metrics.meanBatchBytes(),
		UserCPUSeconds: usage.UserCPUSeconds,
		SysCPUSeconds:  usage.SystemCPUSeconds,
		GoTotalAlloc:   usage.GoTotalAllocBytes,
		GoNumGC:        usage.GoNumGC,
	}
	if duration > 0 {
		res.Throughput = float64(stats.Succeeded) / duration.Seconds()
	}
	if sink != nil {
		res.SinkBatches = sink.batches.Load()
		res.SinkActions = sink.actions.Load()
		if res.SinkActions != stats.Succeeded {
			return res, fmt.Errorf("%w: sink saw %d, client delivered %d", errDeliveryMismatch, res.SinkActions, stats.Succeeded)
		}
	}

	return res, shutdownErr
}

// localSink accepts every batch and counts the actions it carries.
type localSink struct {
	server   *http.Server
	listener net.Listener
	latency  time.Duration
	batches  atomic.Int64
	actions  atomic.Int64
}

func startSink(latency time.Duration) (*localSink, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen sink: %w", err)
	}
	s := &localSink{listener: ln, latency: latency}
	s.server = &http.Server{Handler: s, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = s.server.Serve(ln) }()

	return s, nil
}

func (s *localSink) URL() string {
	return "http://" + s.listener.Addr().String()
}

func (s *localSink) Close() error {
	return s.server.Close()
}

func (s *localSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, sinkReadLimit))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}
	var payload struct {
		Batch []json.RawMessage `json:"batch"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}
	if s.latency > 0 {
		time.Sleep(s.latency)
	}
	s.batches.Add(1)
	s.actions.Add(int64(len(payload.Batch)))
	w.WriteHeader(http.StatusOK)
}

type benchMetrics struct {
	analytics.NopMetrics

	retries    atomic.Int64
	batchBytes atomic.Int64
	batchCount atomic.Int64
	batch      batchStats
}

func (m *benchMetrics) ObserveBatchDuration(d time.Duration) {
	m.batch.Add(d)
}

func (m *benchMetrics) ObserveBatchSize(_ int, bytes int) {
	m.batchBytes.Add(int64(bytes))
	m.batchCount.Add(1)
}

func (m *benchMetrics) AddRetries(n int) {
	m.retries.Add(int64(n))
}

func (m *benchMetrics) meanBatchBytes() float64 {
	count := m.batchCount.Load()
	if count == 0 {
		return 0
	}

	return float64(m.batchBytes.Load()) / float64(count)
}

type batchStats struct {
	mu      sync.Mutex
	samples []time.Duration
}

func (b *batchStats) Add(d time.Duration) {
	if d <= 0 {
		return
	}
	b.mu.Lock()
	b.samples = append(b.samples, d)
	b.mu.Unlock()
}

func (b *batchStats) Snapshot() batchSnapshot {
	b.mu.Lock()
	samples := append([]time.Duration(nil), b.samples...)
	b.mu.Unlock()
	if len(samples) == 0 {
		return batchSnapshot{}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	return batchSnapshot{
		P50:   percentile(samples, percentileP50),
		P95:   percentile(samples, percentileP95),
		P99:   percentile(samples, percentileP99),
		Max:   samples[len(samples)-1],
		Mean:  meanDuration(samples),
		Count: len(samples),
	}
}

type batchSnapshot struct {
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
	Max   time.Duration
	Mean  time.Duration
	Count int
}

func percentile(samples []time.Duration, p float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(samples)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(samples) {
		idx = len(samples) - 1
	}

	return samples[idx]
}

func meanDuration(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range samples {
		sum += d
	}

	return sum / time.Duration(len(samples))
}

type resourceUsage struct {
	UserCPUSeconds    float64
	SystemCPUSeconds  float64
	GoTotalAllocBytes uint64
	GoNumGC           uint32
}

func readResourceUsage() resourceUsage {
	var usage resourceUsage

	var ru syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err == nil {
		usage.UserCPUSeconds = float64(ru.Utime.Sec) + float64(ru.Utime.Usec)/microsecondsPerSecond
		usage.SystemCPUSeconds = float64(ru.Stime.Sec) + float64(ru.Stime.Usec)/microsecondsPerSecond
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	usage.GoTotalAllocBytes = mem.TotalAlloc
	usage.GoNumGC = mem.NumGC

	return usage
}

func deltaUsage(start, end resourceUsage) resourceUsage {
	return resourceUsage{
		UserCPUSeconds:    end.UserCPUSeconds - start.UserCPUSeconds,
		SystemCPUSeconds:  end.SystemCPUSeconds - start.SystemCPUSeconds,
		GoTotalAllocBytes: end.GoTotalAllocBytes - start.GoTotalAllocBytes,
		GoNumGC:           end.GoNumGC - start.GoNumGC,
	}
}

func buildProperties(size int, random bool, rng *rand.Rand) analytics.Properties {
	data := make([]byte, max(0, size))
	if random {
		const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
		for i := range data {
			data[i] = alphabet[rng.Intn(len(alphabet))]
		}
	} else {
		for i := range data {
			data[i] = 'a'
		}
	}

	return analytics.Properties{"data": string(data)}
}

type progressPrinter struct {
	mu       sync.Mutex
	enabled  bool
	interval time.Duration
	isTTY    bool
	lastLen  int
}

func newProgressPrinter(enabled bool, interval time.Duration) *progressPrinter {
	tty := false
	if info, err := os.Stderr.Stat(); err == nil {
		tty = (info.Mode() & os.ModeCharDevice) != 0
	}

	return &progressPrinter{enabled: enabled, interval: interval, isTTY: tty}
}

func (p *progressPrinter) Enabled() bool {
	return p.enabled && p.interval > 0
}

func (p *progressPrinter) Print(line string) {
	if !p.Enabled() || line == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.print(line, false)
}

func (p *progressPrinter) Done(line string) {
	if !p.Enabled() || line == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.print(line, true)
}

func (p *progressPrinter) print(line string, final bool) {
	padding := ""
	if p.lastLen > len(line) {
		padding = strings.Repeat(" ", p.lastLen-len(line))
	}
	switch {
	case p.isTTY && final:
		fmt.Fprintf(os.Stderr, "\r%s%s\n", line, padding)
	case p.isTTY:
		fmt.Fprintf(os.Stderr, "\r%s%s", line, padding)
	default:
		fmt.Fprintf(os.Stderr, "%s\n", line)
	}
	p.lastLen = len(line)
}

func reportProgress(ctx context.Context, printer *progressPrinter, client *analytics.Client, target int64) {
	if !printer.Enabled() {
		return
	}
	ticker := time.NewTicker(printer.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			line := progressLine(client.Statistics().Snapshot(), target) + fmt.Sprintf(" queue=%d", client.QueueLen())
			printer.Print(line)
		}
	}
}

func progressLine(stats analytics.StatsSnapshot, target int64) string {
	return fmt.Sprintf("submitted=%d/%d succeeded=%d failed=%d", stats.Submitted, target, stats.Succeeded, stats.Failed)
}

func printResult(w io.Writer, res result) {
	fmt.Fprintf(w, "endpoint:     %s\n", res.Endpoint)
	fmt.Fprintf(w, "actions:      submitted=%d succeeded=%d failed=%d rejected=%d retries=%d\n",
		res.Submitted, res.Succeeded, res.Failed, res.Rejected, res.Retries)
	fmt.Fprintf(w, "duration:     enqueue=%s total=%s\n", res.EnqueueTime, res.Duration)
	fmt.Fprintf(w, "throughput:   %.0f actions/s\n", res.Throughput)
	fmt.Fprintf(w, "batches:      n=%d p50=%.2fms p95=%.2fms p99=%.2fms max=%.2fms mean_bytes=%.0f\n",
		res.BatchSamples, res.BatchP50Ms, res.BatchP95Ms, res.BatchP99Ms, res.BatchMaxMs, res.MeanBatchBytes)
	fmt.Fprintf(w, "cpu:          user=%.2fs sys=%.2fs alloc=%d gc=%d\n",
		res.UserCPUSeconds, res.SysCPUSeconds, res.GoTotalAlloc, res.GoNumGC)
}

func msFloat(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
