package guardfile

import (
	"github.com/gobeaver/beaver-kit/config"
)

type Config struct {
	// Digest algorithm for content hashing (sha256, sha512, blake2b, xxh64)
	DigestAlgorithm string `env:"GUARDFILE_DIGEST_ALGORITHM,default:sha256"`

	// Maximum bytes retained in memory per file for validator inspection.
	// The digest always covers the whole input regardless.
	SampleCapBytes int64 `env:"GUARDFILE_SAMPLE_CAP_BYTES,default:33554432"` // 32MB default

	// Worker pool size; 0 means one worker per CPU
	Workers int `env:"GUARDFILE_WORKERS,default:0"`

	// Per-file validation deadline
	TimeoutMS int `env:"GUARDFILE_TIMEOUT_MS,default:2000"`

	// Per-file processing budget, counting decompressed output
	MaxProcessingBytes int64 `env:"GUARDFILE_MAX_PROCESSING_BYTES,default:268435456"` // 256MB default

	// Size ceiling applied by the default policy
	MaxFileSize int64 `env:"GUARDFILE_MAX_FILE_SIZE,default:10485760"` // 10MB default

	// Policy document path; empty means the built-in default policy
	PolicyPath string `env:"GUARDFILE_POLICY_PATH"`

	// Fail-on threshold override (none, warn, deny); empty defers to policy
	FailOn string `env:"GUARDFILE_FAIL_ON"`

	// Decision cache settings
	CacheEnabled    bool `env:"GUARDFILE_CACHE_ENABLED,default:true"`
	CacheTTLSeconds int  `env:"GUARDFILE_CACHE_TTL_SECONDS,default:300"`
	CacheMaxEntries int  `env:"GUARDFILE_CACHE_MAX_ENTRIES,default:4096"`

	// SQLite audit store path; empty disables the decision log
	AuditDBPath string `env:"GUARDFILE_AUDIT_DB"`
}

// GetConfig returns config loaded from environment
func GetConfig() (*Config, error) {
	cfg := &Config{}
	if err := config.Load(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
