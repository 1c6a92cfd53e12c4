package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net" //cloudwatch

	"github.com/aws/aws-sdk-go-v2/aws"                              //cloudwatch
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types" //cloudwatch
)

type datasetStat struct {
	rows  int64
	bytes int64
}

var (
	errorsIngest      int64
	errorsConsolidate int64
	warnsIngest       int64
	warnsConsolidate  int64
	fetches           int64
	rawWrites         int64
	sentinels         int64
	skips             int64
	s3Mirrors         int64
	finalRows         int64
	datasets          sync.Map // map[string]*datasetStat
)

func recordWarn(component string) {
	if strings.Contains(component, "ingest") {
		atomic.AddInt64(&warnsIngest, 1)
	} else if strings.Contains(component, "consolidate") {
		atomic.AddInt64(&warnsConsolidate, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "ingest") {
		atomic.AddInt64(&errorsIngest, 1)
	} else if strings.Contains(component, "consolidate") {
		atomic.AddInt64(&errorsConsolidate, 1)
	}
}

func IncrementFetch() {
	atomic.AddInt64(&fetches, 1)
}

func IncrementRawWrite(dataset string, size int64) {
	atomic.AddInt64(&rawWrites, 1)
	recordDataset(dataset, 0, size)
}

func IncrementSentinel() {
	atomic.AddInt64(&sentinels, 1)
}

func IncrementSkip() {
	atomic.AddInt64(&skips, 1)
}

func IncrementS3Mirror(size int64) {
	atomic.AddInt64(&s3Mirrors, 1)
	recordDataset("s3_mirror", 0, size)
}

func AddFinalRows(dataset string, rows int, size int64) {
	atomic.AddInt64(&finalRows, int64(rows))
	recordDataset(dataset, int64(rows), size)
}

func recordDataset(name string, rows, size int64) {
	v, _ := datasets.LoadOrStore(name, &datasetStat{})
	ds := v.(*datasetStat)
	atomic.AddInt64(&ds.rows, rows)
	atomic.AddInt64(&ds.bytes, size)
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and pipeline statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)
	datasetData := map[string]map[string]int64{}
	datasets.Range(func(k, v any) bool {
		name := k.(string)
		ds := v.(*datasetStat)
		datasetData[name] = map[string]int64{
			"rows":  atomic.LoadInt64(&ds.rows),
			"bytes": atomic.LoadInt64(&ds.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_ingest":      atomic.LoadInt64(&errorsIngest),
		"errors_consolidate": atomic.LoadInt64(&errorsConsolidate),
		"warns_ingest":       atomic.LoadInt64(&warnsIngest),
		"warns_consolidate":  atomic.LoadInt64(&warnsConsolidate),
		"fetches":            atomic.LoadInt64(&fetches),
		"raw_writes":         atomic.LoadInt64(&rawWrites),
		"sentinels":          atomic.LoadInt64(&sentinels),
		"skips":              atomic.LoadInt64(&skips),
		"s3_mirrors":         atomic.LoadInt64(&s3Mirrors),
		"final_rows":         atomic.LoadInt64(&finalRows),
		"goroutines":         runtime.NumGoroutine(),
		"cpu_percent":        cpuPct,
		"memory_mb":          int64(memStats.Used) / 1024 / 1024,
		"disk_mb":            int64(diskStats.Used) / 1024 / 1024,
		"datasets":           datasetData,
		"net_bytes_sent":     int64(bytesSent),
		"net_bytes_recv":     int64(bytesRecv),
	}

	log.WithComponent("report").WithEnv("APP_ENV").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("QF-CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("QF-MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("QF-DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("QF-ErrorsIngest"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_ingest"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("QF-ErrorsConsolidate"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_consolidate"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("QF-WarnsIngest"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_ingest"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("QF-WarnsConsolidate"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_consolidate"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("QF-Fetches"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["fetches"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("QF-RawWrites"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["raw_writes"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("QF-Sentinels"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["sentinels"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("QF-Skips"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["skips"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("QF-S3Mirrors"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["s3_mirrors"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("QF-FinalRows"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["final_rows"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("QF-NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("QF-NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range datasetData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("QF-DatasetRows"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Dataset"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["rows"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("QF-DatasetBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Dataset"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
