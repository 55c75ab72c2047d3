package engine

import (
	"math/rand"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Pre-compiled patterns for the supported template variables
var (
	uuidPattern         = regexp.MustCompile(`\{\{uuid\}\}`)
	timestampPattern    = regexp.MustCompile(`\{\{timestamp\}\}`)
	randomPattern       = regexp.MustCompile(`\{\{random:(\d+)\}\}`)
	randomStringPattern = regexp.MustCompile(`\{\{random_string:(\d+)\}\}`)
	envPattern          = regexp.MustCompile(`\{\{env:(\w+)\}\}`)
)

const alphanumerics = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// TemplateEngine substitutes variables into workload request fields so
// every submission can carry unique ids and payloads.
type TemplateEngine struct {
	random *rand.Rand
	mu     sync.Mutex // protects random
}

// NewTemplateEngine creates a new template engine
func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{
		random: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Process substitutes variables in the input string.
// Supported patterns:
// - {{uuid}} - random UUID
// - {{timestamp}} - current Unix timestamp
// - {{random:N}} - random N-digit number
// - {{random_string:N}} - random N-character alphanumeric string
// - {{env:NAME}} - environment variable value
func (t *TemplateEngine) Process(input string) string {
	if input == "" || !strings.Contains(input, "{{") {
		return input
	}

	result := uuidPattern.ReplaceAllStringFunc(input, func(string) string {
		return uuid.NewString()
	})

	result = timestampPattern.ReplaceAllStringFunc(result, func(string) string {
		return strconv.FormatInt(time.Now().Unix(), 10)
	})

	result = randomPattern.ReplaceAllStringFunc(result, func(match string) string {
		digits, _ := strconv.Atoi(randomPattern.FindStringSubmatch(match)[1])
		return t.randomDigits(digits)
	})

	result = randomStringPattern.ReplaceAllStringFunc(result, func(match string) string {
		length, _ := strconv.Atoi(randomStringPattern.FindStringSubmatch(match)[1])
		return t.randomString(length)
	})

	result = envPattern.ReplaceAllStringFunc(result, func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})

	return result
}

// ProcessMap substitutes variables in every value of the map
func (t *TemplateEngine) ProcessMap(input map[string]string) map[string]string {
	if len(input) == 0 {
		return input
	}
	result := make(map[string]string, len(input))
	for key, value := range input {
		result[key] = t.Process(value)
	}
	return result
}

func (t *TemplateEngine) randomDigits(n int) string {
	if n <= 0 {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(byte('0' + t.random.Intn(10)))
	}
	return b.String()
}

func (t *TemplateEngine) randomString(n int) string {
	if n <= 0 {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(alphanumerics[t.random.Intn(len(alphanumerics))])
	}
	return b.String()
}
