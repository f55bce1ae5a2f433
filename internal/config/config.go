// Package config is nidx's typed parameter table, modeled on the teacher's
// paramtable.BaseTable: built-in defaults, overlaid by a YAML file via
// viper, overlaid by NIDX_-prefixed environment variables, exposed through
// typed accessors per parameter group.
package config

import (
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/nuclia/nidx/internal/log"
)

const envPrefix = "NIDX"

// VectorIndexParams groups §4.2/§4.3's HNSW and search-path tuning knobs.
type VectorIndexParams struct {
	M                int
	Mmax0            int
	EfConstruction   int
	LevelFactor      float64
	RerankingFactor  int
	RerankingLimit   int
	HNSWCostFactor   int
	PreloadBudget    int
}

// MergeSettings groups §4.6's scheduler policy knobs.
type MergeSettings struct {
	MinSegmentsToMerge      int
	MaxDeletions            int
	DeletionWindowSegments  int
	MergeCheckInterval      time.Duration
	MergeJobLeaseDuration   time.Duration
	MaxParallelMergeTaskNum int
}

// CacheSettings groups §4.7's index-cache knobs.
type CacheSettings struct {
	Capacity              int
	EvictionCheckInterval time.Duration
}

// StoreSettings groups §4.1's on-disk layout knobs.
type StoreSettings struct {
	DataDir string
}

// Table is the loaded, typed configuration, analogous to BaseTable.
type Table struct {
	v *viper.Viper

	Vector StoreVectorBundle
	Merge  MergeSettings
	Cache  CacheSettings
	Store  StoreSettings
	Log    log.Config
}

// StoreVectorBundle is split out only so VectorIndexParams can be embedded
// without name collision against the Table itself.
type StoreVectorBundle struct {
	VectorIndexParams
}

func defaults(v *viper.Viper) {
	v.SetDefault("vector.m", 16)
	v.SetDefault("vector.mmax0", 32)
	v.SetDefault("vector.ef_construction", 100)
	v.SetDefault("vector.level_factor", 1.0/0.693147180559945) // 1/ln(2)
	v.SetDefault("vector.reranking_factor", 10)
	v.SetDefault("vector.reranking_limit", 200)
	v.SetDefault("vector.hnsw_cost_factor", 200)
	v.SetDefault("vector.preload_budget", 20000)

	v.SetDefault("merge.min_segments_to_merge", 4)
	v.SetDefault("merge.max_deletions", 1000)
	v.SetDefault("merge.deletion_window_segments", 3)
	v.SetDefault("merge.check_interval", "30s")
	v.SetDefault("merge.job_lease_duration", "5m")
	v.SetDefault("merge.max_parallel_merge_task_num", 8)

	v.SetDefault("cache.capacity", 256)
	v.SetDefault("cache.eviction_check_interval", "1m")

	v.SetDefault("store.data_dir", "./data")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.grpc_level", "warn")
}

// Load builds a Table, reading yamlPath if non-empty, then overlaying
// environment variables prefixed NIDX_ (e.g. NIDX_MERGE_MIN_SEGMENTS_TO_MERGE).
func Load(yamlPath string) (*Table, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if yamlPath != "" {
		v.SetConfigFile(yamlPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	t := &Table{v: v}
	t.Vector.VectorIndexParams = VectorIndexParams{
		M:               v.GetInt("vector.m"),
		Mmax0:           v.GetInt("vector.mmax0"),
		EfConstruction:  v.GetInt("vector.ef_construction"),
		LevelFactor:     v.GetFloat64("vector.level_factor"),
		RerankingFactor: v.GetInt("vector.reranking_factor"),
		RerankingLimit:  v.GetInt("vector.reranking_limit"),
		HNSWCostFactor:  v.GetInt("vector.hnsw_cost_factor"),
		PreloadBudget:   v.GetInt("vector.preload_budget"),
	}
	t.Merge = MergeSettings{
		MinSegmentsToMerge:      v.GetInt("merge.min_segments_to_merge"),
		MaxDeletions:            v.GetInt("merge.max_deletions"),
		DeletionWindowSegments:  v.GetInt("merge.deletion_window_segments"),
		MergeCheckInterval:      cast.ToDuration(v.Get("merge.check_interval")),
		MergeJobLeaseDuration:   cast.ToDuration(v.Get("merge.job_lease_duration")),
		MaxParallelMergeTaskNum: v.GetInt("merge.max_parallel_merge_task_num"),
	}
	t.Cache = CacheSettings{
		Capacity:              v.GetInt("cache.capacity"),
		EvictionCheckInterval: cast.ToDuration(v.Get("cache.eviction_check_interval")),
	}
	t.Store = StoreSettings{
		DataDir: v.GetString("store.data_dir"),
	}
	t.Log = log.Config{
		Level:     v.GetString("log.level"),
		Format:    v.GetString("log.format"),
		GrpcLevel: v.GetString("log.grpc_level"),
	}

	return t, nil
}
