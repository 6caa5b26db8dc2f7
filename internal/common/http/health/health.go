// Package health serves the liveness endpoint of the pipeline services.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"judgeflow/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultTimeout = 2 * time.Second

// CheckFunc probes one dependency.
type CheckFunc func(ctx context.Context) error

// Handler runs every check concurrently and answers 200 only when all pass.
func Handler(checks map[string]CheckFunc) gin.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), defaultTimeout)
		defer cancel()

		results := make(map[string]string, len(names))
		var mu sync.Mutex
		var wg sync.WaitGroup
		for _, name := range names {
			wg.Add(1)
			go func(name string, check CheckFunc) {
				defer wg.Done()
				status := "ok"
				if err := check(ctx); err != nil {
					status = err.Error()
					logger.Warn(ctx, "health check failed", zap.String("dependency", name), zap.Error(err))
				}
				mu.Lock()
				results[name] = status
				mu.Unlock()
			}(name, checks[name])
		}
		wg.Wait()

		code := http.StatusOK
		for _, status := range results {
			if status != "ok" {
				code = http.StatusServiceUnavailable
				break
			}
		}
		c.JSON(code, gin.H{"status": http.StatusText(code), "checks": results})
	}
}
