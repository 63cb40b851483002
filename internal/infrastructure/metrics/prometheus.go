// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mediapool"

var (
	// CacheOperationsTotal tracks cache operations (get, set, delete).
	// Labels:
	//   - operation: get, set, delete
	//   - status: hit, miss, success, error
	//   - cache_type: redis, disk
	CacheOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_operations_total",
			Help:      "Total number of cache operations",
		},
		[]string{"operation", "status", "cache_type"},
	)

	// DBQueriesTotal tracks database queries.
	// Labels:
	//   - query_type: select, insert, update, delete
	//   - table: assets, segments, conversion_jobs, storage_accounts
	DBQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_queries_total",
			Help:      "Total number of database queries",
		},
		[]string{"query_type", "table"},
	)

	// SingleflightRequestsTotal tracks singleflight behavior.
	// Labels:
	//   - result: initiated (new execution), shared (reused result)
	SingleflightRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "singleflight_requests_total",
			Help:      "Total number of singleflight requests",
		},
		[]string{"result"},
	)

	// PoolOperationsTotal tracks provider calls issued by the storage pool.
	// Labels:
	//   - operation: put, get, delete, stat, usage
	//   - account: storage account id
	//   - status: success, error, rate_limited
	PoolOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_operations_total",
			Help:      "Total number of storage pool provider calls",
		},
		[]string{"operation", "account", "status"},
	)

	// PoolBytesTotal counts bytes moved through the pool.
	// Labels:
	//   - direction: upload, download
	PoolBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_bytes_total",
			Help:      "Total bytes transferred through the storage pool",
		},
		[]string{"direction"},
	)

	// PoolExhaustedTotal counts writes rejected because no account cleared the reserve margin.
	PoolExhaustedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_exhausted_total",
			Help:      "Total number of writes rejected with pool exhausted",
		},
	)

	// AccountFreeRatio exposes the last known free fraction per account.
	AccountFreeRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "account_free_ratio",
			Help:      "Free capacity fraction per storage account",
		},
		[]string{"account"},
	)

	// JobsTotal tracks conversion and thumbnail task outcomes.
	// Labels:
	//   - kind: convert, thumbnail
	//   - status: ready, failed, skipped
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Total number of processed worker tasks",
		},
		[]string{"kind", "status"},
	)

	// JobDurationSeconds observes wall-clock conversion time per resolution.
	JobDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Conversion job duration in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200, 2400},
		},
		[]string{"resolution"},
	)

	// UploadsTotal tracks completed upload flows.
	// Labels:
	//   - path: chunked, file, import
	//   - status: success, error, deduplicated
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Total number of upload flows",
		},
		[]string{"path", "status"},
	)

	// MaintenanceRunsTotal tracks scheduled maintenance runs.
	// Labels:
	//   - task: reconcile, sweep, purge
	//   - status: success, error
	MaintenanceRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "maintenance_runs_total",
			Help:      "Total number of scheduled maintenance runs",
		},
		[]string{"task", "status"},
	)
)

// Cache operation status constants.
const (
	CacheStatusHit     = "hit"
	CacheStatusMiss    = "miss"
	CacheStatusSuccess = "success"
	CacheStatusError   = "error"
)

// Cache operation type constants.
const (
	CacheOpGet    = "get"
	CacheOpSet    = "set"
	CacheOpDelete = "delete"
)

// Cache type constants.
const (
	CacheTypeRedis = "redis"
	CacheTypeDisk  = "disk"
)

// DB query type constants.
const (
	DBQuerySelect = "select"
	DBQueryInsert = "insert"
	DBQueryUpdate = "update"
	DBQueryDelete = "delete"
)

// Table name constants.
const (
	TableAssets   = "assets"
	TableSegments = "segments"
	TableJobs     = "conversion_jobs"
	TableAccounts = "storage_accounts"
)

// Singleflight result constants.
const (
	SingleflightInitiated = "initiated"
	SingleflightShared    = "shared"
)

// Pool operation constants.
const (
	PoolOpPut    = "put"
	PoolOpGet    = "get"
	PoolOpDelete = "delete"
	PoolOpStat   = "stat"
	PoolOpUsage  = "usage"

	PoolStatusSuccess     = "success"
	PoolStatusError       = "error"
	PoolStatusRateLimited = "rate_limited"

	DirectionUpload   = "upload"
	DirectionDownload = "download"
)

// Job status labels.
const (
	JobStatusReady   = "ready"
	JobStatusFailed  = "failed"
	JobStatusSkipped = "skipped"
)

// Upload path labels.
const (
	UploadPathChunked = "chunked"
	UploadPathFile    = "file"
	UploadPathImport  = "import"

	UploadStatusSuccess      = "success"
	UploadStatusError        = "error"
	UploadStatusDeduplicated = "deduplicated"
)
