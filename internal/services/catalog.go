package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"edulearn_app_echo/internal/models"
)

const addonCacheTTL = 10 * time.Minute

// Catalog reads courses and their add-ons. Add-on lookups go through Redis
// when a cache is configured.
type Catalog struct {
	db    *gorm.DB
	cache *RedisCache
	log   *zap.Logger
}

func NewCatalog(db *gorm.DB, cache *RedisCache, log *zap.Logger) *Catalog {
	return &Catalog{db: db, cache: cache, log: log.Named("catalog")}
}

func (c *Catalog) GetCourse(ctx context.Context, courseID string) (*models.Course, error) {
	if !IsUUID(courseID) {
		return nil, ErrCourseNotFound
	}
	var course models.Course
	if err := c.db.WithContext(ctx).First(&course, "id = ?", courseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCourseNotFound
		}
		return nil, fmt.Errorf("load course: %w", err)
	}
	return &course, nil
}

func (c *Catalog) ListAddons(ctx context.Context, courseID string) ([]models.CourseAddon, error) {
	return GetOrSet(c.cache, ctx, "course_addons:"+courseID, addonCacheTTL, func() ([]models.CourseAddon, error) {
		var addons []models.CourseAddon
		err := c.db.WithContext(ctx).
			Where("parent_course_id = ?", courseID).
			Order("subject_name asc").
			Find(&addons).Error
		if err != nil {
			return nil, fmt.Errorf("list addons: %w", err)
		}
		return addons, nil
	})
}

// ResolveAddonNames maps add-on ids (lower-cased) to subject names. Unknown
// ids are absent from the result.
func (c *Catalog) ResolveAddonNames(ctx context.Context, ids []string) (map[string]string, error) {
	names := make(map[string]string, len(ids))
	var misses []string
	for _, id := range ids {
		id = strings.ToLower(id)
		if _, done := names[id]; done {
			continue
		}
		if c.cache != nil {
			var name string
			if err := c.cache.Get(ctx, "addon_name:"+id, &name); err == nil && name != "" {
				names[id] = name
				continue
			}
		}
		misses = append(misses, id)
	}
	if len(misses) == 0 {
		return names, nil
	}

	var addons []models.CourseAddon
	if err := c.db.WithContext(ctx).Where("id IN ?", misses).Find(&addons).Error; err != nil {
		return names, fmt.Errorf("resolve addon names: %w", err)
	}
	for _, a := range addons {
		id := strings.ToLower(a.ID)
		names[id] = a.SubjectName
		if c.cache != nil {
			if err := c.cache.Set(ctx, "addon_name:"+id, a.SubjectName, addonCacheTTL); err != nil {
				c.log.Debug("cache addon name", zap.String("addon_id", id), zap.Error(err))
			}
		}
	}
	return names, nil
}

// MatchAddon finds the add-on a client referred to, by id or by subject name.
func MatchAddon(addons []models.CourseAddon, ref string) (models.CourseAddon, bool) {
	ref = strings.TrimSpace(ref)
	for _, a := range addons {
		if strings.EqualFold(a.ID, ref) || strings.EqualFold(strings.TrimSpace(a.SubjectName), ref) {
			return a, true
		}
	}
	return models.CourseAddon{}, false
}

// Quote is the amount owed for the main course (unless already owned) plus
// the selected add-ons.
func Quote(course models.Course, selected []models.CourseAddon, ownsMain bool) decimal.Decimal {
	total := decimal.Zero
	if !ownsMain {
		total = total.Add(course.EffectivePrice())
	}
	for _, a := range selected {
		total = total.Add(a.Price)
	}
	return total
}

// StartingPrice is the "starts at" price shown on a course card: the
// effective course price, or the cheapest priced add-on for free courses.
func StartingPrice(course models.Course, addons []models.CourseAddon) decimal.Decimal {
	if price := course.EffectivePrice(); price.IsPositive() {
		return price
	}
	var cheapest decimal.Decimal
	found := false
	for _, a := range addons {
		if !a.Price.IsPositive() {
			continue
		}
		if !found || a.Price.LessThan(cheapest) {
			cheapest = a.Price
			found = true
		}
	}
	if !found {
		return decimal.Zero
	}
	return cheapest
}
