package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/schoolx/internal/cache"
	"github.com/charlesng35/schoolx/internal/models"
	apperrors "github.com/charlesng35/schoolx/pkg/errors"
	"github.com/charlesng35/schoolx/pkg/logger"
)

// NPS buckets.
const (
	npsPromoterMin = 9
	npsPassiveMin  = 7
)

// FeedbackAnalyticsDTO is the monthly rollup returned to administrators.
type FeedbackAnalyticsDTO struct {
	SchoolID              string         `json:"school_id"`
	PeriodStart           time.Time      `json:"period_start"`
	PeriodEnd             time.Time      `json:"period_end"`
	TotalSubmissions      int            `json:"total_submissions"`
	AvgRating             *float64       `json:"avg_rating"`
	AvgNPSScore           *float64       `json:"avg_nps_score"`
	NPSPromoters          int            `json:"nps_promoters"`
	NPSPassives           int            `json:"nps_passives"`
	NPSDetractors         int            `json:"nps_detractors"`
	NPSPercentage         *float64       `json:"nps_percentage"`
	SatisfactionBreakdown map[string]int `json:"satisfaction_breakdown"`
	CategoryBreakdown     map[string]int `json:"category_breakdown"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

// FeedbackAnalyticsService computes and serves monthly per-school feedback rollups.
type FeedbackAnalyticsService struct {
	db       *gorm.DB
	cache    cache.Store
	cacheTTL time.Duration
	log      *zap.Logger
}

// NewFeedbackAnalyticsService constructs the service. store may be nil to disable caching.
func NewFeedbackAnalyticsService(db *gorm.DB, store cache.Store, cacheTTL time.Duration) (*FeedbackAnalyticsService, error) {
	if db == nil {
		return nil, errors.New("feedback analytics service: db is required")
	}
	return &FeedbackAnalyticsService{
		db:       db,
		cache:    store,
		cacheTTL: cacheTTL,
		log:      logger.WithModule("feedback_analytics"),
	}, nil
}

// MonthBounds returns the UTC calendar month containing t as [start, next).
func MonthBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// Rollup recomputes and stores the analytics row for the school and month containing at.
func (s *FeedbackAnalyticsService) Rollup(ctx context.Context, schoolID string, at time.Time) (*FeedbackAnalyticsDTO, error) {
	ctx = ensureContext(ctx)
	schoolID = strings.TrimSpace(schoolID)
	if schoolID == "" {
		return nil, apperrors.NewBadRequest("school id is required")
	}
	start, next := MonthBounds(at)

	var rows []models.FeedbackSubmission
	if err := s.db.WithContext(ctx).
		Select("category", "rating", "nps_score", "satisfaction").
		Where("school_id = ? AND created_at >= ? AND created_at < ?", schoolID, start, next).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("feedback analytics service: load submissions: %w", err)
	}

	row := ComputeFeedbackAnalytics(rows)
	row.SchoolID = schoolID
	row.PeriodStart = start
	row.PeriodEnd = next.Add(-time.Second)

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "school_id"}, {Name: "period_start"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"period_end", "total_submissions", "avg_rating", "avg_nps_score",
			"nps_promoters", "nps_passives", "nps_detractors", "nps_percentage",
			"satisfaction_breakdown", "category_breakdown", "updated_at",
		}),
	}).Create(&row).Error
	if err != nil {
		return nil, fmt.Errorf("feedback analytics service: upsert analytics: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, analyticsCacheKey(schoolID, start)); err != nil {
			s.log.Warn("analytics cache invalidation failed", zap.String("school_id", schoolID), zap.Error(err))
		}
	}

	dto := mapFeedbackAnalytics(row)
	return &dto, nil
}

// RollupAll recomputes the month containing at for every school with submissions in it.
func (s *FeedbackAnalyticsService) RollupAll(ctx context.Context, at time.Time) (int, error) {
	ctx = ensureContext(ctx)
	start, next := MonthBounds(at)

	var schoolIDs []string
	if err := s.db.WithContext(ctx).
		Model(&models.FeedbackSubmission{}).
		Where("created_at >= ? AND created_at < ?", start, next).
		Distinct().
		Pluck("school_id", &schoolIDs).Error; err != nil {
		return 0, fmt.Errorf("feedback analytics service: list schools: %w", err)
	}

	var errs error
	done := 0
	for _, schoolID := range schoolIDs {
		if _, err := s.Rollup(ctx, schoolID, at); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("school %s: %w", schoolID, err))
			continue
		}
		done++
	}
	return done, errs
}

// Current returns the stored row for the month containing now.
func (s *FeedbackAnalyticsService) Current(ctx context.Context, schoolID string, now time.Time) (*FeedbackAnalyticsDTO, error) {
	ctx = ensureContext(ctx)
	schoolID = strings.TrimSpace(schoolID)
	if schoolID == "" {
		return nil, apperrors.NewBadRequest("school id is required")
	}
	start, _ := MonthBounds(now)

	dto, err := cache.Fetch(ctx, s.cache, analyticsCacheKey(schoolID, start), s.cacheTTL, func(ctx context.Context) (FeedbackAnalyticsDTO, error) {
		var row models.FeedbackAnalytics
		if err := s.db.WithContext(ctx).
			Where("school_id = ? AND period_start = ?", schoolID, start).
			First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return FeedbackAnalyticsDTO{}, apperrors.ErrNotFound
			}
			return FeedbackAnalyticsDTO{}, fmt.Errorf("feedback analytics service: load analytics: %w", err)
		}
		return mapFeedbackAnalytics(row), nil
	})
	if err != nil {
		return nil, err
	}
	return &dto, nil
}

// ComputeFeedbackAnalytics aggregates submissions. Scores of 9-10 are promoters,
// 7-8 passives and anything lower detractors.
func ComputeFeedbackAnalytics(rows []models.FeedbackSubmission) models.FeedbackAnalytics {
	out := models.FeedbackAnalytics{
		TotalSubmissions:      len(rows),
		SatisfactionBreakdown: datatypes.JSONMap{},
		CategoryBreakdown:     datatypes.JSONMap{},
	}

	var ratingSum, ratingCount, npsSum, npsCount int
	satisfaction := map[string]int{}
	categories := map[string]int{}

	for _, row := range rows {
		categories[row.Category]++
		if row.Satisfaction != nil && *row.Satisfaction != "" {
			satisfaction[*row.Satisfaction]++
		}
		if row.Rating != nil {
			ratingSum += *row.Rating
			ratingCount++
		}
		if row.NPSScore != nil {
			score := *row.NPSScore
			npsSum += score
			npsCount++
			switch {
			case score >= npsPromoterMin:
				out.NPSPromoters++
			case score >= npsPassiveMin:
				out.NPSPassives++
			default:
				out.NPSDetractors++
			}
		}
	}

	if ratingCount > 0 {
		avg := round2(float64(ratingSum) / float64(ratingCount))
		out.AvgRating = &avg
	}
	if npsCount > 0 {
		avg := round2(float64(npsSum) / float64(npsCount))
		out.AvgNPSScore = &avg
		pct := round2(float64(out.NPSPromoters-out.NPSDetractors) / float64(npsCount) * 100)
		out.NPSPercentage = &pct
	}
	for key, count := range satisfaction {
		out.SatisfactionBreakdown[key] = count
	}
	for key, count := range categories {
		out.CategoryBreakdown[key] = count
	}
	return out
}

func analyticsCacheKey(schoolID string, periodStart time.Time) string {
	return fmt.Sprintf("feedback:analytics:%s:%s", schoolID, periodStart.Format("2006-01"))
}

func mapFeedbackAnalytics(row models.FeedbackAnalytics) FeedbackAnalyticsDTO {
	return FeedbackAnalyticsDTO{
		SchoolID:              row.SchoolID,
		PeriodStart:           row.PeriodStart.UTC(),
		PeriodEnd:             row.PeriodEnd.UTC(),
		TotalSubmissions:      row.TotalSubmissions,
		AvgRating:             row.AvgRating,
		AvgNPSScore:           row.AvgNPSScore,
		NPSPromoters:          row.NPSPromoters,
		NPSPassives:           row.NPSPassives,
		NPSDetractors:         row.NPSDetractors,
		NPSPercentage:         row.NPSPercentage,
		SatisfactionBreakdown: countsFromJSON(row.SatisfactionBreakdown),
		CategoryBreakdown:     countsFromJSON(row.CategoryBreakdown),
		UpdatedAt:             row.UpdatedAt,
	}
}

func countsFromJSON(raw datatypes.JSONMap) map[string]int {
	out := make(map[string]int, len(raw))
	for key, value := range raw {
		if count, ok := asInt(value); ok {
			out[key] = count
		}
	}
	return out
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
