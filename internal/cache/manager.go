package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"deltayield/internal/logger"
)

// HealthChecker is implemented by remote stores that can be probed
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Manager layers a remote store over the in-memory cache. Reads prefer the remote
// store and writes go to both. After FailureThreshold consecutive remote failures
// the manager switches to memory only until a health check succeeds. Remotes
// without a health loop get a trial request once HealthCheckInterval has passed.
type Manager struct {
	remote Store
	memory *MemoryCache
	config Config
	log    logger.Logger

	fallback            atomic.Bool
	fallbackSince       atomic.Int64 // unix nanos
	consecutiveFailures int64
	probing             bool
	retryAfter          time.Duration
	now                 func() time.Time

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Stats represents cache manager statistics
type Stats struct {
	InFallback   bool             `json:"in_fallback"`
	RemoteActive bool             `json:"remote_active"`
	Memory       MemoryCacheStats `json:"memory"`
}

// NewManager creates a cache manager. remote may be nil for memory only operation.
func NewManager(cfg Config, remote Store, log logger.Logger) *Manager {
	if log == nil {
		log = logger.Named("cache")
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	retryAfter := cfg.HealthCheckInterval
	if retryAfter <= 0 {
		retryAfter = DefaultConfig().HealthCheckInterval
	}

	m := &Manager{
		remote:     remote,
		memory:     NewMemoryCache(cfg.MemoryMaxSize, cfg.CleanupInterval),
		config:     cfg,
		log:        log,
		retryAfter: retryAfter,
		now:        time.Now,
		stopChan:   make(chan struct{}),
	}

	if hc, ok := remote.(HealthChecker); ok && cfg.HealthCheckInterval > 0 {
		m.probing = true
		m.wg.Add(1)
		go m.healthLoop(hc)
	}

	return m
}

// NewFromConfig builds a manager, connecting to Redis when enabled. A Redis
// connection failure is logged and the manager runs memory only.
func NewFromConfig(cfg Config, redisCfg RedisConfig, log logger.Logger) *Manager {
	if log == nil {
		log = logger.Named("cache")
	}
	var remote Store
	if redisCfg.Enabled {
		rc, err := NewRedisCache(redisCfg)
		if err != nil {
			log.Warn("Redis unavailable, using memory cache only", "addr", redisCfg.Addr, "error", err)
		} else {
			log.Info("Redis connection established", "addr", redisCfg.Addr)
			remote = rc
		}
	}
	return NewManager(cfg, remote, log)
}

// Get retrieves a value, trying the remote store first
func (m *Manager) Get(ctx context.Context, key string) ([]byte, error) {
	if m.remoteActive() {
		data, err := m.remote.Get(ctx, key)
		switch {
		case err == nil:
			m.recordSuccess()
			return data, nil
		case errors.Is(err, ErrCacheMiss):
			m.recordSuccess()
		default:
			m.recordFailure("get", err)
		}
	}

	return m.memory.Get(ctx, key)
}

// Set writes to the remote store (when active) and to memory
func (m *Manager) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	if m.remoteActive() {
		if err := m.remote.Set(ctx, key, value, expiration); err != nil {
			m.recordFailure("set", err)
		} else {
			m.recordSuccess()
		}
	}

	return m.memory.Set(ctx, key, value, expiration)
}

// Delete removes the key from every layer
func (m *Manager) Delete(ctx context.Context, key string) error {
	if m.remoteActive() {
		if err := m.remote.Delete(ctx, key); err != nil {
			m.recordFailure("delete", err)
		}
	}
	return m.memory.Delete(ctx, key)
}

// InFallback reports whether the remote store is bypassed
func (m *Manager) InFallback() bool {
	return m.fallback.Load()
}

// GetStats returns cache statistics
func (m *Manager) GetStats() Stats {
	return Stats{
		InFallback:   m.InFallback(),
		RemoteActive: m.remote != nil && !m.InFallback(),
		Memory:       m.memory.GetStats(),
	}
}

// Close stops background work and closes every layer
func (m *Manager) Close() error {
	m.stopOnce.Do(func() { close(m.stopChan) })
	m.wg.Wait()

	var err error
	if m.remote != nil {
		err = m.remote.Close()
	}
	m.memory.Close()
	return err
}

func (m *Manager) remoteActive() bool {
	if m.remote == nil {
		return false
	}
	if !m.fallback.Load() {
		return true
	}
	if m.probing {
		return false
	}

	// 没有健康检查循环时, 降级满 retryAfter 后放行一次试探请求, 再失败一次即重新降级
	since := time.Unix(0, m.fallbackSince.Load())
	if m.now().Sub(since) < m.retryAfter {
		return false
	}
	if m.fallback.CompareAndSwap(true, false) {
		atomic.StoreInt64(&m.consecutiveFailures, int64(m.config.FailureThreshold-1))
		m.log.Info("Cache fallback disabled", "reason", "retry_interval_elapsed")
	}
	return true
}

func (m *Manager) recordSuccess() {
	atomic.StoreInt64(&m.consecutiveFailures, 0)
}

func (m *Manager) recordFailure(op string, err error) {
	failures := atomic.AddInt64(&m.consecutiveFailures, 1)
	m.log.Warn("Remote cache operation failed", "operation", op, "error", err, "consecutive_failures", failures)
	if failures < int64(m.config.FailureThreshold) {
		return
	}
	m.fallbackSince.Store(m.now().UnixNano())
	if m.fallback.CompareAndSwap(false, true) {
		m.log.Warn("Cache fallback enabled", "reason", op+"_failure")
	}
}

// healthLoop 周期性探测远端缓存, 恢复后退出降级模式
func (m *Manager) healthLoop(hc HealthChecker) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.performHealthCheck(hc)
		case <-m.stopChan:
			return
		}
	}
}

func (m *Manager) performHealthCheck(hc HealthChecker) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := hc.HealthCheck(ctx); err != nil {
		m.recordFailure("health_check", err)
		return
	}

	m.recordSuccess()
	if m.fallback.CompareAndSwap(true, false) {
		m.log.Info("Cache fallback disabled", "reason", "health_check_recovery")
	}
}
