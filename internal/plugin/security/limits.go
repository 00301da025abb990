package security

import (
	"sync"
	"sync/atomic"
	"time"
)

// ResourceLimits defines resource ceilings for a plugin. Memory is advisory
// (gopher-lua cannot enforce a hard limit); the monitor's job is bookkeeping,
// enforcement of the hard ceilings belongs to the host process.
type ResourceLimits struct {
	// Memory limit in bytes (advisory).
	MemoryLimit int64

	// Maximum execution time per sandboxed call.
	ExecutionTimeout time.Duration

	// Maximum Lua VM instructions per execution.
	InstructionLimit int64

	// Maximum file operations per second.
	FileOpsPerSecond int

	// Maximum outbound HTTP requests per second.
	HTTPReqPerSecond int

	// Maximum plugin-local disk usage in bytes (advisory).
	DiskLimit int64
}

// DefaultResourceLimits returns sensible default limits.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		MemoryLimit:      10 * 1024 * 1024, // 10 MB
		ExecutionTimeout: 5 * time.Second,
		InstructionLimit: 10_000_000,
		FileOpsPerSecond: 100,
		HTTPReqPerSecond: 10,
		DiskLimit:        50 * 1024 * 1024, // 50 MB
	}
}

// StrictResourceLimits returns stricter limits for untrusted plugins.
func StrictResourceLimits() ResourceLimits {
	return ResourceLimits{
		MemoryLimit:      5 * 1024 * 1024,
		ExecutionTimeout: 2 * time.Second,
		InstructionLimit: 1_000_000,
		FileOpsPerSecond: 10,
		HTTPReqPerSecond: 1,
		DiskLimit:        10 * 1024 * 1024,
	}
}

// RelaxedResourceLimits returns relaxed limits for trusted plugins.
func RelaxedResourceLimits() ResourceLimits {
	return ResourceLimits{
		MemoryLimit:      50 * 1024 * 1024,
		ExecutionTimeout: 30 * time.Second,
		InstructionLimit: 100_000_000,
		FileOpsPerSecond: 1000,
		HTTPReqPerSecond: 100,
		DiskLimit:        500 * 1024 * 1024,
	}
}

// Monitor tracks resource usage against limits.
type Monitor struct {
	mu sync.RWMutex

	limits ResourceLimits

	instructionCount int64
	memoryUsage      int64
	diskUsage        int64

	fileOpsLimiter *RateLimiter
	httpLimiter    *RateLimiter

	exceeded bool
	reason   string
}

// NewMonitor creates a monitor with the given limits.
func NewMonitor(limits ResourceLimits) *Monitor {
	return &Monitor{
		limits:         limits,
		fileOpsLimiter: NewRateLimiter(limits.FileOpsPerSecond),
		httpLimiter:    NewRateLimiter(limits.HTTPReqPerSecond),
	}
}

// IncrementInstructions adds to the instruction counter.
// Returns true if the limit is exceeded.
func (m *Monitor) IncrementInstructions(count int64) bool {
	newCount := atomic.AddInt64(&m.instructionCount, count)
	if m.limits.InstructionLimit > 0 && newCount > m.limits.InstructionLimit {
		m.setExceeded("instruction limit exceeded")
		return true
	}
	return false
}

// ResetInstructionCount resets the instruction counter.
func (m *Monitor) ResetInstructionCount() {
	atomic.StoreInt64(&m.instructionCount, 0)
}

// InstructionCount returns the current instruction count.
func (m *Monitor) InstructionCount() int64 {
	return atomic.LoadInt64(&m.instructionCount)
}

// UpdateMemoryUsage records current memory usage.
// Returns true if the limit is exceeded.
func (m *Monitor) UpdateMemoryUsage(bytes int64) bool {
	atomic.StoreInt64(&m.memoryUsage, bytes)
	if m.limits.MemoryLimit > 0 && bytes > m.limits.MemoryLimit {
		m.setExceeded("memory limit exceeded")
		return true
	}
	return false
}

// UpdateDiskUsage records current plugin-local disk usage.
// Returns true if the limit is exceeded.
func (m *Monitor) UpdateDiskUsage(bytes int64) bool {
	atomic.StoreInt64(&m.diskUsage, bytes)
	if m.limits.DiskLimit > 0 && bytes > m.limits.DiskLimit {
		m.setExceeded("disk limit exceeded")
		return true
	}
	return false
}

// TryFileOp attempts a file operation. Returns false if rate limited.
func (m *Monitor) TryFileOp() bool {
	if !m.fileOpsLimiter.Allow() {
		m.setExceeded("file operation rate limit exceeded")
		return false
	}
	return true
}

// TryHTTPRequest attempts an outbound HTTP request. Returns false if rate
// limited.
func (m *Monitor) TryHTTPRequest() bool {
	if !m.httpLimiter.Allow() {
		m.setExceeded("http request rate limit exceeded")
		return false
	}
	return true
}

// ExecutionTimeout returns the configured execution timeout.
func (m *Monitor) ExecutionTimeout() time.Duration {
	return m.limits.ExecutionTimeout
}

// Limits returns the configured limits.
func (m *Monitor) Limits() ResourceLimits {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.limits
}

// IsExceeded returns true if any limit was exceeded.
func (m *Monitor) IsExceeded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.exceeded
}

// ExceededReason returns the reason a limit was exceeded, if any.
func (m *Monitor) ExceededReason() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reason
}

func (m *Monitor) setExceeded(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exceeded = true
	m.reason = reason
}

// Reset clears all counters and the exceeded state.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	atomic.StoreInt64(&m.instructionCount, 0)
	atomic.StoreInt64(&m.memoryUsage, 0)
	atomic.StoreInt64(&m.diskUsage, 0)
	m.fileOpsLimiter.Reset()
	m.httpLimiter.Reset()
	m.exceeded = false
	m.reason = ""
}

// Usage returns a snapshot of resource usage.
func (m *Monitor) Usage() Usage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Usage{
		InstructionCount: atomic.LoadInt64(&m.instructionCount),
		MemoryUsage:      atomic.LoadInt64(&m.memoryUsage),
		DiskUsage:        atomic.LoadInt64(&m.diskUsage),
		Exceeded:         m.exceeded,
		ExceededReason:   m.reason,
	}
}

// Usage is a snapshot of a plugin's resource usage.
type Usage struct {
	InstructionCount int64
	MemoryUsage      int64
	DiskUsage        int64
	Exceeded         bool
	ExceededReason   string
}

// RateLimiter implements a simple token bucket rate limiter.
type RateLimiter struct {
	mu sync.Mutex

	rate       int
	tokens     int
	maxTokens  int
	lastRefill time.Time
}

// NewRateLimiter creates a limiter allowing ratePerSecond operations.
// A rate of zero or less means no limit.
func NewRateLimiter(ratePerSecond int) *RateLimiter {
	if ratePerSecond <= 0 {
		return &RateLimiter{rate: 0, tokens: 1, maxTokens: 1}
	}
	return &RateLimiter{
		rate:       ratePerSecond,
		tokens:     ratePerSecond,
		maxTokens:  ratePerSecond,
		lastRefill: time.Now(),
	}
}

// Allow returns true if an operation is allowed.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.rate == 0 {
		return true
	}

	now := time.Now()
	elapsed := now.Sub(rl.lastRefill)
	tokensToAdd := int(elapsed.Seconds() * float64(rl.rate))
	if tokensToAdd > 0 {
		rl.tokens += tokensToAdd
		if rl.tokens > rl.maxTokens {
			rl.tokens = rl.maxTokens
		}
		rl.lastRefill = now
	}

	if rl.tokens <= 0 {
		return false
	}

	rl.tokens--
	return true
}

// Reset restores the limiter to full capacity.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.tokens = rl.maxTokens
	rl.lastRefill = time.Now()
}
