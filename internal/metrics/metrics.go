// Package metrics wires the kernel's runtime counters and gauges
// through go.opentelemetry.io/otel/metric, with a
// github.com/prometheus/client_golang registry exposed over HTTP for
// long-running `kerneld run` scenarios — grounded on the teacher's
// common/otel_metrics.go (an otel.Meter per subsystem, attribute-set
// caching via sync.Map) and its prometheus exporter wiring.
package metrics

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

var (
	blockCacheMeter = otel.Meter("block_cache")
	schedulerMeter  = otel.Meter("scheduler")
	procMeter       = otel.Meter("proc")

	resultAttrSet sync.Map
)

// Registry is the prometheus registry kerneld's /metrics endpoint
// serves, mirroring the teacher's pattern of handing one process-wide
// registry to its HTTP mux.
var Registry = prometheus.NewRegistry()

// Kernel bundles every counter/gauge/histogram the core subsystems
// report into, constructed once at boot and threaded through the
// Kernel struct (internal/kernel) alongside the other C1-C7 singletons.
type Kernel struct {
	CacheHits       metric.Int64Counter
	CacheMisses     metric.Int64Counter
	CacheEvictions  metric.Int64Counter
	OpsCommitted    metric.Int64Counter
	OpsAdmitted     metric.Int64Counter
	VRuntimeSpent   metric.Float64Histogram
	RunQueueLen     metric.Int64Gauge
	ProcsCreated    metric.Int64Counter
	ProcsExited     metric.Int64Counter
	PageFaults      metric.Int64Counter
	SwapIns         metric.Int64Counter
	SwapOuts        metric.Int64Counter
}

// New constructs an otel MeterProvider backed by an
// exporters/prometheus bridge into Registry (grounded on the teacher's
// go.opentelemetry.io/otel/sdk/metric + exporters/prometheus pairing,
// internal/monitor's otelexporters.go), installs it as the process-wide
// provider, then builds every instrument, matching names against the
// teacher's "component_verb" naming convention (fs_op, gcs_method).
func New() (*Kernel, error) {
	exporter, err := otelprometheus.New(otelprometheus.WithRegisterer(Registry))
	if err != nil {
		return nil, fmt.Errorf("metrics: creating prometheus exporter: %w", err)
	}
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)))

	var k Kernel

	if k.CacheHits, err = blockCacheMeter.Int64Counter("block_cache.hits"); err != nil {
		return nil, err
	}
	if k.CacheMisses, err = blockCacheMeter.Int64Counter("block_cache.misses"); err != nil {
		return nil, err
	}
	if k.CacheEvictions, err = blockCacheMeter.Int64Counter("block_cache.evictions"); err != nil {
		return nil, err
	}
	if k.OpsCommitted, err = blockCacheMeter.Int64Counter("block_cache.ops_committed"); err != nil {
		return nil, err
	}
	if k.OpsAdmitted, err = blockCacheMeter.Int64Counter("block_cache.ops_admitted"); err != nil {
		return nil, err
	}
	if k.VRuntimeSpent, err = schedulerMeter.Float64Histogram("scheduler.vruntime_delta_ms"); err != nil {
		return nil, err
	}
	if k.RunQueueLen, err = schedulerMeter.Int64Gauge("scheduler.run_queue_length"); err != nil {
		return nil, err
	}
	if k.ProcsCreated, err = procMeter.Int64Counter("proc.created"); err != nil {
		return nil, err
	}
	if k.ProcsExited, err = procMeter.Int64Counter("proc.exited"); err != nil {
		return nil, err
	}
	if k.PageFaults, err = procMeter.Int64Counter("proc.page_faults"); err != nil {
		return nil, err
	}
	if k.SwapIns, err = procMeter.Int64Counter("proc.swap_ins"); err != nil {
		return nil, err
	}
	if k.SwapOuts, err = procMeter.Int64Counter("proc.swap_outs"); err != nil {
		return nil, err
	}
	return &k, nil
}

func containerAttrSet(containerID string) metric.MeasurementOption {
	v, ok := resultAttrSet.Load(containerID)
	if ok {
		return v.(metric.MeasurementOption)
	}
	opt := metric.WithAttributeSet(attribute.NewSet(attribute.String("container_id", containerID)))
	v, _ = resultAttrSet.LoadOrStore(containerID, opt)
	return v.(metric.MeasurementOption)
}

// ContainerAttr returns a metric.MeasurementOption tagging a
// measurement with containerID, caching attribute sets the same way
// the teacher's getFSOpsAttributeSet avoids re-allocating one per call.
func ContainerAttr(containerID string) metric.MeasurementOption {
	return containerAttrSet(containerID)
}

// The RecordX helpers below give every C1-C7 subsystem a single-call
// way to report into these instruments without importing otel
// themselves, mirroring the teacher's fsOps-recording wrapper methods
// on its own metrics handle. Every caller is expected to hold a *Kernel
// obtained from New and to treat a nil receiver as "metrics disabled"
// (e.g. in unit tests that construct subsystems without a kernel), so
// every method below is nil-receiver safe.

func (k *Kernel) RecordCacheHit()      { if k != nil { k.add1(k.CacheHits) } }
func (k *Kernel) RecordCacheMiss()     { if k != nil { k.add1(k.CacheMisses) } }
func (k *Kernel) RecordCacheEviction() { if k != nil { k.add1(k.CacheEvictions) } }
func (k *Kernel) RecordOpCommitted()   { if k != nil { k.add1(k.OpsCommitted) } }
func (k *Kernel) RecordOpAdmitted()    { if k != nil { k.add1(k.OpsAdmitted) } }
func (k *Kernel) RecordProcCreated()   { if k != nil { k.add1(k.ProcsCreated) } }
func (k *Kernel) RecordProcExited()    { if k != nil { k.add1(k.ProcsExited) } }
func (k *Kernel) RecordPageFault()     { if k != nil { k.add1(k.PageFaults) } }
func (k *Kernel) RecordSwapIn()        { if k != nil { k.add1(k.SwapIns) } }
func (k *Kernel) RecordSwapOut()       { if k != nil { k.add1(k.SwapOuts) } }

// RecordRunQueueLen reports the scheduler's current root run-queue
// depth, sampled by the idle loop.
func (k *Kernel) RecordRunQueueLen(n int64) {
	if k == nil {
		return
	}
	k.RunQueueLen.Record(context.Background(), n)
}

// RecordVRuntimeDelta reports one context-switch's elapsed vruntime, in
// milliseconds, into the scheduler's fairness histogram.
func (k *Kernel) RecordVRuntimeDelta(ms float64) {
	if k == nil {
		return
	}
	k.VRuntimeSpent.Record(context.Background(), ms)
}

func (k *Kernel) add1(c metric.Int64Counter) {
	if k == nil {
		return
	}
	c.Add(context.Background(), 1)
}
