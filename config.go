package udfwasm

import (
	"time"

	"gopkg.in/yaml.v3"
)

// HTTPValidator is the capability object consulted synchronously, before any
// request bytes leave the host, for every outgoing HTTP request a guest
// attempts (spec.md §4.4, §9 Open Questions). The default validator denies
// everything.
type HTTPValidator interface {
	// Allow is called with the request's method and destination URL. A
	// false return denies the request; no bytes are sent.
	Allow(method, url string) bool
}

// denyAllValidator is the zero-value HTTPValidator: raw sockets and HTTP are
// denied unless a Permissions caller installs a permissive one.
type denyAllValidator struct{}

func (denyAllValidator) Allow(string, string) bool { return false }

// VFSLimits bounds the in-memory virtual filesystem exposed to the guest
// (spec.md §3, §4.2).
type VFSLimits struct {
	Inodes              int           `yaml:"inodes"`
	MaxStorageBytes      int64         `yaml:"max_storage_bytes"`
	MaxFileSize          int64         `yaml:"max_file_size"`
	MaxPathLength        int           `yaml:"max_path_length"`
	MaxPathSegmentSize   int           `yaml:"max_path_segment_size"`
	MaxWriteOpsPerSec    float64       `yaml:"max_write_ops_per_sec"`
}

// DefaultVFSLimits mirrors host/src/permissions.rs in original_source/.
func DefaultVFSLimits() VFSLimits {
	return VFSLimits{
		Inodes:             4096,
		MaxStorageBytes:    64 << 20, // 64 MiB
		MaxFileSize:        16 << 20, // 16 MiB
		MaxPathLength:      1024,
		MaxPathSegmentSize: 255,
		MaxWriteOpsPerSec:  1000,
	}
}

// ResourceLimits are the static engine caps returned verbatim to wazero's
// resource limiter (spec.md §3, §4.1).
type ResourceLimits struct {
	NInstances        int `yaml:"n_instances"`
	NTables           int `yaml:"n_tables"`
	NElementsPerTable int `yaml:"n_elements_per_table"`
	NMemories         int `yaml:"n_memories"`
}

// DefaultResourceLimits mirrors wazero's own defaults in
// _examples/tetratelabs-wazero/internal/wasm's static module limits, scaled
// down for a per-UDF sandbox.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		NInstances:        1,
		NTables:           4,
		NElementsPerTable: 10_000,
		NMemories:         1,
	}
}

// TrustedDataLimits bound the decoder in internal/trustdata (spec.md §4.3).
type TrustedDataLimits struct {
	MaxDepth             int `yaml:"max_depth"`
	MaxIdentifierLength  int `yaml:"max_identifier_length"`
	MaxAuxStringLength   int `yaml:"max_aux_string_length"`
	MaxComplexity        int `yaml:"max_complexity"`
}

// DefaultTrustedDataLimits mirrors the defaults enumerated in spec.md §4.3.
func DefaultTrustedDataLimits() TrustedDataLimits {
	return TrustedDataLimits{
		MaxDepth:            10,
		MaxIdentifierLength: 50,
		MaxAuxStringLength:  10_000,
		MaxComplexity:       1000,
	}
}

// Permissions configures a WasmScalarUdf facade at construction (spec.md §3).
//
// Permissions follows wazero's RuntimeConfig pattern
// (_examples/tetratelabs-wazero/config.go): every With* method clones
// before mutating, so a base Permissions value can be shared as a template
// across many facade loads without aliasing surprises.
type Permissions struct {
	epochTickTime            time.Duration
	inplaceBlockingMaxTicks  int
	httpValidator            HTTPValidator
	vfsLimits                VFSLimits
	stderrBytes              int
	resourceLimits           ResourceLimits
	trustedDataLimits        TrustedDataLimits
	maxUDFs                  int
	maxCachedFields          int
	maxCachedConfigOptions   int
	envs                     []envVar
}

type envVar struct {
	Key   string
	Value string
}

// NewPermissions returns the documented defaults (spec.md §3 table).
func NewPermissions() *Permissions {
	return &Permissions{
		epochTickTime:           10 * time.Millisecond,
		inplaceBlockingMaxTicks: 100,
		httpValidator:           denyAllValidator{},
		vfsLimits:               DefaultVFSLimits(),
		stderrBytes:             1024,
		resourceLimits:          DefaultResourceLimits(),
		trustedDataLimits:       DefaultTrustedDataLimits(),
		maxUDFs:                 20,
		maxCachedFields:         256,
		maxCachedConfigOptions:  64,
	}
}

func (p *Permissions) clone() *Permissions {
	cp := *p
	cp.envs = append([]envVar(nil), p.envs...)
	return &cp
}

// WithEpochTickTime sets the wall-clock duration of one engine tick.
func (p *Permissions) WithEpochTickTime(d time.Duration) *Permissions {
	cp := p.clone()
	cp.epochTickTime = d
	return cp
}

// WithInplaceBlockingMaxTicks sets the per-call deadline, in ticks.
func (p *Permissions) WithInplaceBlockingMaxTicks(ticks int) *Permissions {
	cp := p.clone()
	cp.inplaceBlockingMaxTicks = ticks
	return cp
}

// WithHTTPValidator installs the capability object gating outbound requests.
func (p *Permissions) WithHTTPValidator(v HTTPValidator) *Permissions {
	cp := p.clone()
	if v == nil {
		v = denyAllValidator{}
	}
	cp.httpValidator = v
	return cp
}

// WithVFSLimits replaces the VFS quotas.
func (p *Permissions) WithVFSLimits(l VFSLimits) *Permissions {
	cp := p.clone()
	cp.vfsLimits = l
	return cp
}

// WithStderrBytes sets the ring-buffer size for captured guest stderr.
func (p *Permissions) WithStderrBytes(n int) *Permissions {
	cp := p.clone()
	cp.stderrBytes = n
	return cp
}

// WithResourceLimits replaces the static engine caps.
func (p *Permissions) WithResourceLimits(l ResourceLimits) *Permissions {
	cp := p.clone()
	cp.resourceLimits = l
	return cp
}

// WithTrustedDataLimits replaces the decoder's bounds.
func (p *Permissions) WithTrustedDataLimits(l TrustedDataLimits) *Permissions {
	cp := p.clone()
	cp.trustedDataLimits = l
	return cp
}

// WithMaxUDFs bounds how many UDFs one guest may publish.
func (p *Permissions) WithMaxUDFs(n int) *Permissions {
	cp := p.clone()
	cp.maxUDFs = n
	return cp
}

// WithCacheSizes bounds the field/config-option LRU caches; both must be
// non-zero per spec.md §3.
func (p *Permissions) WithCacheSizes(maxFields, maxConfigOptions int) *Permissions {
	cp := p.clone()
	if maxFields > 0 {
		cp.maxCachedFields = maxFields
	}
	if maxConfigOptions > 0 {
		cp.maxCachedConfigOptions = maxConfigOptions
	}
	return cp
}

// WithEnv appends one environment variable injected verbatim into the guest.
// Order is preserved; later calls with the same key shadow earlier ones at
// apply time rather than removing the earlier entry, matching an "ordered
// mapping" (spec.md §3).
func (p *Permissions) WithEnv(key, value string) *Permissions {
	cp := p.clone()
	cp.envs = append(cp.envs, envVar{Key: key, Value: value})
	return cp
}

// Envs returns the effective ordered environment, last-write-wins per key.
func (p *Permissions) Envs() []string {
	seen := make(map[string]int, len(p.envs))
	out := make([]string, 0, len(p.envs))
	for _, e := range p.envs {
		if i, ok := seen[e.Key]; ok {
			out[i] = e.Key + "=" + e.Value
			continue
		}
		seen[e.Key] = len(out)
		out = append(out, e.Key+"="+e.Value)
	}
	return out
}

// permissionsFile is the YAML-serializable projection of Permissions, the
// way _examples/vjache-cie loads .cie/project.yaml into a typed config
// struct before building runtime objects from it.
type permissionsFile struct {
	EpochTickTimeMS         int64             `yaml:"epoch_tick_time_ms"`
	InplaceBlockingMaxTicks int               `yaml:"inplace_blocking_max_ticks"`
	VFSLimits               VFSLimits         `yaml:"vfs_limits"`
	StderrBytes             int               `yaml:"stderr_bytes"`
	ResourceLimits          ResourceLimits    `yaml:"resource_limits"`
	TrustedDataLimits       TrustedDataLimits `yaml:"trusted_data_limits"`
	MaxUDFs                 int               `yaml:"max_udfs"`
	MaxCachedFields         int               `yaml:"max_cached_fields"`
	MaxCachedConfigOptions  int               `yaml:"max_cached_config_options"`
	Envs                    map[string]string `yaml:"envs"`
}

// LoadPermissions reads a YAML permissions file into a Permissions value.
// The http_validator capability is never serializable; callers must attach
// one with WithHTTPValidator after loading.
func LoadPermissions(data []byte) (*Permissions, error) {
	var f permissionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, AsInvalidArgument(err)
	}
	p := NewPermissions()
	if f.EpochTickTimeMS > 0 {
		p = p.WithEpochTickTime(time.Duration(f.EpochTickTimeMS) * time.Millisecond)
	}
	if f.InplaceBlockingMaxTicks > 0 {
		p = p.WithInplaceBlockingMaxTicks(f.InplaceBlockingMaxTicks)
	}
	if (f.VFSLimits != VFSLimits{}) {
		p = p.WithVFSLimits(f.VFSLimits)
	}
	if f.StderrBytes > 0 {
		p = p.WithStderrBytes(f.StderrBytes)
	}
	if (f.ResourceLimits != ResourceLimits{}) {
		p = p.WithResourceLimits(f.ResourceLimits)
	}
	if (f.TrustedDataLimits != TrustedDataLimits{}) {
		p = p.WithTrustedDataLimits(f.TrustedDataLimits)
	}
	if f.MaxUDFs > 0 {
		p = p.WithMaxUDFs(f.MaxUDFs)
	}
	if f.MaxCachedFields > 0 || f.MaxCachedConfigOptions > 0 {
		p = p.WithCacheSizes(f.MaxCachedFields, f.MaxCachedConfigOptions)
	}
	for k, v := range f.Envs {
		p = p.WithEnv(k, v)
	}
	return p, nil
}
