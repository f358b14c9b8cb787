package testutils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"deltayield/internal/cache"
	"deltayield/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConfig 测试配置
type TestConfig struct {
	LogLevel logger.LogLevel
	TempDir  string
}

// DefaultTestConfig 默认测试配置
func DefaultTestConfig() *TestConfig {
	return &TestConfig{
		LogLevel: logger.LevelError, // 测试时减少日志输出
	}
}

// TestSuite 测试套件
type TestSuite struct {
	T       *testing.T
	Config  *TestConfig
	Cache   *cache.MemoryCache
	Logger  logger.Logger
	LogBuf  *bytes.Buffer
	TempDir string
	Cleanup []func()
}

// NewTestSuite 创建测试套件
func NewTestSuite(t *testing.T, config *TestConfig) *TestSuite {
	if config == nil {
		config = DefaultTestConfig()
	}

	tempDir := config.TempDir
	if tempDir == "" {
		dir, err := os.MkdirTemp("", "dnyield_test_*")
		require.NoError(t, err)
		tempDir = dir
	}

	// 日志写入缓冲区，便于断言
	buf := &bytes.Buffer{}
	testLogger := logger.NewLoggerWithWriter(logger.Config{
		Level:  config.LogLevel,
		Format: logger.FormatJSON,
		Output: "stdout",
	}, buf)

	suite := &TestSuite{
		T:       t,
		Config:  config,
		Cache:   cache.NewMemoryCache(1000, time.Minute),
		Logger:  testLogger,
		LogBuf:  buf,
		TempDir: tempDir,
	}

	suite.AddCleanup(func() {
		os.RemoveAll(tempDir)
	})
	suite.AddCleanup(func() {
		suite.Cache.Close()
	})

	return suite
}

// AddCleanup 添加清理函数
func (s *TestSuite) AddCleanup(cleanup func()) {
	s.Cleanup = append(s.Cleanup, cleanup)
}

// TearDown 清理测试环境
func (s *TestSuite) TearDown() {
	for i := len(s.Cleanup) - 1; i >= 0; i-- {
		s.Cleanup[i]()
	}
	s.Cleanup = nil
}

// CreateTempFile 创建临时文件
func (s *TestSuite) CreateTempFile(name, content string) string {
	filePath := filepath.Join(s.TempDir, name)
	require.NoError(s.T, os.MkdirAll(filepath.Dir(filePath), 0755))
	require.NoError(s.T, os.WriteFile(filePath, []byte(content), 0644))
	return filePath
}

// CreateStrategyFile writes a minimal valid strategy definition
func (s *TestSuite) CreateStrategyFile(id, kind string) string {
	content := fmt.Sprintf(`id: %s
name: %s strategy
kind: %s
usdc_allocated: "100000"
risk_score: 30
target_apy: 0.12
hedge_ratio: 1
max_leverage: 2
rebalance_threshold: 0.05
rebalance_frequency: 28800
`, id, id, kind)
	return s.CreateTempFile(id+".yaml", content)
}

// HTTPTestHelper HTTP测试助手
type HTTPTestHelper struct {
	Router *gin.Engine
	Suite  *TestSuite
}

// NewHTTPTestHelper 创建HTTP测试助手. router may be nil for a bare engine.
func NewHTTPTestHelper(suite *TestSuite, router *gin.Engine) *HTTPTestHelper {
	gin.SetMode(gin.TestMode)
	if router == nil {
		router = gin.New()
	}
	return &HTTPTestHelper{
		Router: router,
		Suite:  suite,
	}
}

// GET 发送GET请求
func (h *HTTPTestHelper) GET(path string, headers map[string]string) *HTTPResponse {
	return h.Request(http.MethodGet, path, nil, headers)
}

// POST 发送POST请求
func (h *HTTPTestHelper) POST(path string, body interface{}, headers map[string]string) *HTTPResponse {
	return h.Request(http.MethodPost, path, body, headers)
}

// Request 发送HTTP请求. A string or []byte body is sent verbatim.
func (h *HTTPTestHelper) Request(method, path string, body interface{}, headers map[string]string) *HTTPResponse {
	var bodyReader io.Reader

	switch b := body.(type) {
	case nil:
	case string:
		bodyReader = bytes.NewBufferString(b)
	case []byte:
		bodyReader = bytes.NewReader(b)
	default:
		bodyBytes, err := json.Marshal(body)
		require.NoError(h.Suite.T, err)
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req := httptest.NewRequest(method, path, bodyReader)
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	w := httptest.NewRecorder()
	h.Router.ServeHTTP(w, req)

	return &HTTPResponse{
		StatusCode: w.Code,
		Body:       w.Body.Bytes(),
		Headers:    w.Header(),
		suite:      h.Suite,
	}
}

// HTTPResponse HTTP响应
type HTTPResponse struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
	suite      *TestSuite
}

// AssertStatus 断言状态码
func (r *HTTPResponse) AssertStatus(expectedStatus int) *HTTPResponse {
	assert.Equal(r.suite.T, expectedStatus, r.StatusCode, string(r.Body))
	return r
}

// AssertContains 断言响应包含指定内容
func (r *HTTPResponse) AssertContains(substring string) *HTTPResponse {
	assert.Contains(r.suite.T, string(r.Body), substring)
	return r
}

// GetJSON 获取JSON响应
func (r *HTTPResponse) GetJSON(target interface{}) error {
	return json.Unmarshal(r.Body, target)
}

// GetString 获取字符串响应
func (r *HTTPResponse) GetString() string {
	return string(r.Body)
}

// WaitForCondition 等待条件满足
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.Fatalf("Timeout waiting for condition: %s", message)
		case <-ticker.C:
			if condition() {
				return
			}
		}
	}
}

// SetEnv 设置环境变量（测试结束后自动恢复）
func SetEnv(t *testing.T, key, value string) {
	oldValue, existed := os.LookupEnv(key)
	os.Setenv(key, value)

	t.Cleanup(func() {
		if !existed {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, oldValue)
		}
	})
}
