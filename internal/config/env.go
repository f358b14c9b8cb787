package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"deltayield/internal/logger"
	"deltayield/internal/market"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/scrypt"
)

const (
	// EnvPrefix prefixes every recognised environment variable
	EnvPrefix = "DNY_"
	// EncryptedPrefix marks values encrypted with EnvManager.Encrypt
	EncryptedPrefix = "ENC:"

	encryptionKeyEnv = "DNY_ENCRYPTION_KEY"
	encryptionSalt   = "dnyield-salt"
)

// EnvManager manages environment variable configuration
type EnvManager struct {
	encryptionKey []byte
	prefix        string
}

// NewEnvManager creates a new environment variable manager
func NewEnvManager(encryptionKey string, prefix string) *EnvManager {
	if encryptionKey == "" {
		encryptionKey = os.Getenv(encryptionKeyEnv)
	}
	if prefix == "" {
		prefix = EnvPrefix
	}

	// Derive encryption key from password
	key, _ := scrypt.Key([]byte(encryptionKey), []byte(encryptionSalt), 32768, 8, 1, 32)

	return &EnvManager{
		encryptionKey: key,
		prefix:        prefix,
	}
}

// LoadEnvFiles loads .env files without overriding variables already set
func LoadEnvFiles(filenames ...string) error {
	if len(filenames) == 0 {
		return nil
	}
	if err := godotenv.Load(filenames...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// GetString gets a string environment variable
func (em *EnvManager) GetString(key string, defaultValue string) string {
	value, ok := em.lookup(key)
	if !ok {
		return defaultValue
	}
	return value
}

// GetInt gets an integer environment variable
func (em *EnvManager) GetInt(key string, defaultValue int) int {
	value, ok := em.lookup(key)
	if !ok {
		return defaultValue
	}
	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}
	return defaultValue
}

// GetInt64 gets a 64-bit integer environment variable
func (em *EnvManager) GetInt64(key string, defaultValue int64) int64 {
	value, ok := em.lookup(key)
	if !ok {
		return defaultValue
	}
	if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
		return intValue
	}
	return defaultValue
}

// GetBool gets a boolean environment variable
func (em *EnvManager) GetBool(key string, defaultValue bool) bool {
	value, ok := em.lookup(key)
	if !ok {
		return defaultValue
	}
	if boolValue, err := strconv.ParseBool(value); err == nil {
		return boolValue
	}
	return defaultValue
}

// GetDuration gets a duration environment variable
func (em *EnvManager) GetDuration(key string, defaultValue time.Duration) time.Duration {
	value, ok := em.lookup(key)
	if !ok {
		return defaultValue
	}
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}
	return defaultValue
}

// GetEncryptedString gets a string that may carry the ENC: prefix
func (em *EnvManager) GetEncryptedString(key string, defaultValue string) (string, error) {
	value, ok := em.lookup(key)
	if !ok {
		return defaultValue, nil
	}
	if !strings.HasPrefix(value, EncryptedPrefix) {
		return value, nil
	}

	decrypted, err := em.decrypt(strings.TrimPrefix(value, EncryptedPrefix))
	if err != nil {
		return defaultValue, fmt.Errorf("failed to decrypt %s%s: %w", em.prefix, strings.ToUpper(key), err)
	}
	return decrypted, nil
}

// SetEncryptedString sets an encrypted string environment variable
func (em *EnvManager) SetEncryptedString(key string, value string) error {
	if value == "" {
		return em.SetString(key, "")
	}

	encryptedValue, err := em.Encrypt(value)
	if err != nil {
		return err
	}
	return em.SetString(key, encryptedValue)
}

// SetString sets a string environment variable
func (em *EnvManager) SetString(key string, value string) error {
	return os.Setenv(em.prefix+strings.ToUpper(key), value)
}

// Encrypt returns value encrypted and tagged with the ENC: prefix
func (em *EnvManager) Encrypt(value string) (string, error) {
	encrypted, err := em.encrypt(value)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt value: %w", err)
	}
	return EncryptedPrefix + encrypted, nil
}

func (em *EnvManager) lookup(key string) (string, bool) {
	value := os.Getenv(em.prefix + strings.ToUpper(key))
	if value == "" {
		return "", false
	}
	return value, true
}

// encrypt encrypts a string value
func (em *EnvManager) encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(em.encryptionKey)
	if err != nil {
		return "", err
	}

	ciphertext := make([]byte, aes.BlockSize+len(plaintext))
	iv := ciphertext[:aes.BlockSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	stream := cipher.NewCFBEncrypter(block, iv)
	stream.XORKeyStream(ciphertext[aes.BlockSize:], []byte(plaintext))

	return base64.URLEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts an encrypted string value
func (em *EnvManager) decrypt(encryptedText string) (string, error) {
	ciphertext, err := base64.URLEncoding.DecodeString(encryptedText)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(em.encryptionKey)
	if err != nil {
		return "", err
	}

	if len(ciphertext) < aes.BlockSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	iv := ciphertext[:aes.BlockSize]
	ciphertext = ciphertext[aes.BlockSize:]

	stream := cipher.NewCFBDecrypter(block, iv)
	stream.XORKeyStream(ciphertext, ciphertext)

	return string(ciphertext), nil
}

// ApplyEnv overlays DNY_* variables onto cfg
func ApplyEnv(cfg *Config, em *EnvManager) error {
	cfg.App.Env = em.GetString("APP_ENV", cfg.App.Env)

	cfg.Server.Host = em.GetString("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = em.GetInt("SERVER_PORT", cfg.Server.Port)
	cfg.Server.Mode = em.GetString("SERVER_MODE", cfg.Server.Mode)

	cfg.Logging.Level = logger.LogLevel(em.GetString("LOG_LEVEL", string(cfg.Logging.Level)))
	cfg.Logging.Format = logger.LogFormat(em.GetString("LOG_FORMAT", string(cfg.Logging.Format)))
	cfg.Logging.Output = em.GetString("LOG_OUTPUT", cfg.Logging.Output)
	cfg.Logging.Filename = em.GetString("LOG_FILENAME", cfg.Logging.Filename)

	cfg.Redis.Enabled = em.GetBool("REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Redis.Addr = em.GetString("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.DB = em.GetInt("REDIS_DB", cfg.Redis.DB)
	cfg.Cache.Enabled = em.GetBool("CACHE_ENABLED", cfg.Cache.Enabled)

	cfg.Data.Mode = market.Mode(em.GetString("DATA_MODE", string(cfg.Data.Mode)))
	cfg.Data.Binance.BaseURL = em.GetString("BINANCE_BASE_URL", cfg.Data.Binance.BaseURL)

	cfg.Predictor.External.Enabled = em.GetBool("PREDICTOR_EXTERNAL_ENABLED", cfg.Predictor.External.Enabled)
	cfg.Predictor.External.URL = em.GetString("PREDICTOR_URL", cfg.Predictor.External.URL)
	cfg.Predictor.External.Timeout = em.GetDuration("PREDICTOR_TIMEOUT", cfg.Predictor.External.Timeout)

	cfg.Backtest.Seed = em.GetInt64("BACKTEST_SEED", cfg.Backtest.Seed)
	cfg.Monitoring.PrometheusEnabled = em.GetBool("METRICS_ENABLED", cfg.Monitoring.PrometheusEnabled)

	var err error
	if cfg.Redis.Password, err = em.GetEncryptedString("REDIS_PASSWORD", cfg.Redis.Password); err != nil {
		return err
	}
	if cfg.Predictor.External.APIKey, err = em.GetEncryptedString("PREDICTOR_API_KEY", cfg.Predictor.External.APIKey); err != nil {
		return err
	}
	return nil
}
