package app

import (
	"context"
	"sort"
	"strings"
	"time"

	"moodlog/api/internal/apierr"
	"moodlog/api/internal/store"
)

// NewsroomCategories is the display order of newsroom sections.
var NewsroomCategories = []string{
	"changelog",
	"news",
	"incident",
	"publication_medium",
	"publication_substack",
	"publication_other",
	"reference",
}

type NewsroomItem struct {
	ID            string     `json:"id"`
	Category      string     `json:"category"`
	CreatedAt     *time.Time `json:"created_at"`
	Published     bool       `json:"published"`
	Name          *string    `json:"name"`
	NameEN        *string    `json:"name_en"`
	Description   *string    `json:"description"`
	DescriptionEN *string    `json:"description_en"`
	Content       *string    `json:"content"`
	ContentEN     *string    `json:"content_en"`
	Resource      *string    `json:"resource"`
	Type          *string    `json:"type"`
}

type NewsroomPage struct {
	Items               []NewsroomItem `json:"items"`
	AvailableCategories []string       `json:"availableCategories"`
}

// Newsroom lists published entries, newest first, with the categories that
// have at least one entry.
func (s *Service) Newsroom(ctx context.Context) (*NewsroomPage, error) {
	records, err := s.store.ListPublishedNewsroom(ctx)
	if err != nil {
		return nil, s.upstreamError(ctx, "load newsroom", "Unable to load newsroom", err)
	}
	items := make([]NewsroomItem, 0, len(records))
	for i := range records {
		if item, ok := newsroomItem(&records[i]); ok {
			items = append(items, item)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return createdUnix(items[i]) > createdUnix(items[j])
	})

	present := make(map[string]bool, len(items))
	for _, item := range items {
		present[item.Category] = true
	}
	categories := make([]string, 0, len(NewsroomCategories))
	for _, category := range NewsroomCategories {
		if present[category] {
			categories = append(categories, category)
		}
	}
	return &NewsroomPage{Items: items, AvailableCategories: categories}, nil
}

func (s *Service) NewsroomEntry(ctx context.Context, id string) (*NewsroomItem, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apierr.NotFound("Newsroom entry not found")
	}
	record, err := s.store.GetNewsroom(ctx, id)
	if err != nil {
		return nil, s.upstreamError(ctx, "load newsroom entry", "Unable to load newsroom entry", err)
	}
	item, ok := newsroomItem(record)
	if !ok {
		return nil, apierr.NotFound("Newsroom entry not found")
	}
	return &item, nil
}

// newsroomItem keeps published records that have an id and a category.
func newsroomItem(record *store.NewsroomRecord) (NewsroomItem, bool) {
	if record == nil || record.Published == nil || !*record.Published {
		return NewsroomItem{}, false
	}
	if record.ID == "" || record.Category == nil || strings.TrimSpace(*record.Category) == "" {
		return NewsroomItem{}, false
	}
	return NewsroomItem{
		ID:            record.ID,
		Category:      *record.Category,
		CreatedAt:     record.CreatedAt,
		Published:     true,
		Name:          record.Name,
		NameEN:        record.NameEN,
		Description:   record.Description,
		DescriptionEN: record.DescriptionEN,
		Content:       record.Content,
		ContentEN:     record.ContentEN,
		Resource:      record.Resource,
		Type:          record.Type,
	}, true
}

func createdUnix(item NewsroomItem) int64 {
	if item.CreatedAt == nil {
		return 0
	}
	return item.CreatedAt.UnixNano()
}
