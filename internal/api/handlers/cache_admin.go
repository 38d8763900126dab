package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/onnwee/imgclassify/internal/cache"
	"github.com/onnwee/imgclassify/internal/logger"
	"github.com/onnwee/imgclassify/internal/secrets"
	"github.com/onnwee/imgclassify/internal/utils"
)

// CacheAdmin is the subset of the result cache exposed to operators.
type CacheAdmin interface {
	Stats() cache.Stats
	Peek(key string) (cache.Entry, bool)
	Delete(key string)
	Purge()
}

// CacheAdminHandler handles cache administration endpoints.
type CacheAdminHandler struct {
	cache   CacheAdmin
	backend string
}

// NewCacheAdminHandler creates a new cache admin handler.
func NewCacheAdminHandler(c CacheAdmin, backend string) *CacheAdminHandler {
	return &CacheAdminHandler{cache: c, backend: backend}
}

// InvalidateCache clears the result cache, or a single entry when ?key= is set.
// POST /admin/cache/invalidate
func (h *CacheAdminHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "ok"}

	if raw := strings.TrimSpace(r.URL.Query().Get("key")); raw != "" {
		key := utils.CanonicalURL(raw)
		_, existed := h.cache.Peek(key)
		h.cache.Delete(key)
		resp["message"] = "Cache entry invalidated"
		resp["key"] = secrets.MaskImageURL(key)
		resp["existed"] = existed
		logger.InfoContext(r.Context(), "Result cache entry invalidated", "key", secrets.MaskImageURL(key), "existed", existed)
	} else {
		before := h.cache.Stats().Items
		h.cache.Purge()
		resp["message"] = "Cache invalidated successfully"
		resp["removed"] = before
		logger.InfoContext(r.Context(), "Result cache purged", "removed", before)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// GetCacheStats returns current cache statistics.
// GET /admin/cache/stats
func (h *CacheAdminHandler) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	stats := h.cache.Stats()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"backend":   h.backend,
		"hits":      stats.Hits,
		"misses":    stats.Misses,
		"expired":   stats.Expired,
		"computes":  stats.Computes,
		"shared":    stats.Shared,
		"evictions": stats.Evictions,
		"items":     stats.Items,
	})
}
