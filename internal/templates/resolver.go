package templates

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"moodlog/api/internal/apierr"
	"moodlog/api/internal/logger"
	"moodlog/api/internal/normalize"
)

// LookupStore returns raw rows from the emotions, associations and questions
// tables. Rows are loosely shaped; the resolver picks the fields it needs.
type LookupStore interface {
	ListEmotions(ctx context.Context) ([]map[string]any, error)
	ListAssociations(ctx context.Context) ([]map[string]any, error)
	ListQuestions(ctx context.Context, ids []string) ([]map[string]any, error)
}

type Lookup struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Valence *int   `json:"valence,omitempty"`
}

type Question struct {
	ID          string  `json:"id"`
	FieldName   string  `json:"fieldName"`
	Label       string  `json:"label"`
	Description *string `json:"description"`
	Placeholder *string `json:"placeholder"`
}

// Context is everything a wizard page needs to render a template.
type Context struct {
	Template      *Template           `json:"config"`
	Steps         []Step              `json:"steps"`
	Emotions      []Lookup            `json:"emotions"`
	Associations  []Lookup            `json:"associations"`
	QuestionsByID map[string]Question `json:"questions"`
}

type Resolver struct {
	catalog *Catalog
	lookups LookupStore
	log     *logger.Logger
}

func NewResolver(catalog *Catalog, lookups LookupStore, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.NewNop()
	}
	return &Resolver{catalog: catalog, lookups: lookups, log: log}
}

// Template returns the static configuration for name.
func (r *Resolver) Template(name string) (*Template, error) {
	tpl, ok := r.catalog.Get(strings.TrimSpace(name))
	if !ok {
		return nil, apierr.NotFound("Template not found")
	}
	return tpl, nil
}

// Resolve loads the lookups a template needs. Only the lookups its steps
// reference are fetched, concurrently; the first failure aborts the whole
// resolution.
func (r *Resolver) Resolve(ctx context.Context, name string) (*Context, error) {
	tpl, err := r.Template(name)
	if err != nil {
		return nil, err
	}

	questionIDs := tpl.QuestionIDs()
	var emotionRows, associationRows, questionRows []map[string]any

	g, gctx := errgroup.WithContext(ctx)
	if tpl.NeedsModel(ModelEmotionMapping) {
		g.Go(func() error {
			rows, err := r.lookups.ListEmotions(gctx)
			if err != nil {
				r.log.Error("load emotions failed", "template", tpl.Name, "error", err)
				return apierr.Lookup("Unable to load emotions", err)
			}
			emotionRows = rows
			return nil
		})
	}
	if tpl.NeedsModel(ModelAssociationMapping) {
		g.Go(func() error {
			rows, err := r.lookups.ListAssociations(gctx)
			if err != nil {
				r.log.Error("load associations failed", "template", tpl.Name, "error", err)
				return apierr.Lookup("Unable to load associations", err)
			}
			associationRows = rows
			return nil
		})
	}
	if len(questionIDs) > 0 {
		g.Go(func() error {
			rows, err := r.lookups.ListQuestions(gctx, questionIDs)
			if err != nil {
				r.log.Error("load questions failed", "template", tpl.Name, "error", err)
				return apierr.Lookup("Unable to load questions", err)
			}
			questionRows = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	resolved := make(map[string]Question, len(questionRows))
	for _, q := range NormalizeQuestions(questionRows) {
		resolved[q.ID] = q
	}
	byID := make(map[string]Question, len(questionIDs))
	for i, id := range questionIDs {
		if q, ok := resolved[id]; ok {
			byID[id] = q
			continue
		}
		byID[id] = Question{
			ID:        id,
			FieldName: fallbackFieldName(i),
			Label:     "Question " + id,
		}
	}

	return &Context{
		Template:      tpl,
		Steps:         tpl.Steps,
		Emotions:      NormalizeEmotions(emotionRows),
		Associations:  NormalizeAssociations(associationRows),
		QuestionsByID: byID,
	}, nil
}

var (
	labelKeys               = []string{"name", "label", "title"}
	questionIDKeys          = []string{"entity_id", "id", "uuid", "slug"}
	questionNameKeys        = []string{"name", "slug", "code"}
	questionTitleKeys       = []string{"title", "question", "label", "prompt"}
	questionDescriptionKeys = []string{"description", "help_text", "details", "body", "text"}
	questionPlaceholderKeys = []string{"placeholder", "hint", "example"}
)

// NormalizeEmotions maps emotion rows to lookups with a tri-state valence,
// sorted by label.
func NormalizeEmotions(rows []map[string]any) []Lookup {
	out := make([]Lookup, 0, len(rows))
	for i, row := range rows {
		if row == nil {
			out = append(out, Lookup{ID: fmt.Sprintf("emotion-%d", i), Label: fmt.Sprintf("emotion %d", i+1)})
			continue
		}
		out = append(out, Lookup{
			ID:      lookupID(row, i),
			Label:   lookupLabel(row, "emotion", i),
			Valence: valenceSign(row["valence"]),
		})
	}
	sortByLabel(out)
	return out
}

func NormalizeAssociations(rows []map[string]any) []Lookup {
	out := make([]Lookup, 0, len(rows))
	for i, row := range rows {
		if row == nil {
			out = append(out, Lookup{ID: fmt.Sprintf("association-%d", i), Label: fmt.Sprintf("association %d", i+1)})
			continue
		}
		out = append(out, Lookup{ID: lookupID(row, i), Label: lookupLabel(row, "association", i)})
	}
	sortByLabel(out)
	return out
}

func NormalizeQuestions(rows []map[string]any) []Question {
	out := make([]Question, 0, len(rows))
	for i, row := range rows {
		if row == nil {
			out = append(out, Question{
				ID:        fmt.Sprintf("question-%d", i),
				FieldName: fallbackFieldName(i),
				Label:     fmt.Sprintf("Question %d", i+1),
			})
			continue
		}
		id := pickString(row, questionIDKeys)
		if id == nil {
			generated := fmt.Sprintf("question-%d", i)
			id = &generated
		}
		fieldName := fallbackFieldName(i)
		if name := pickString(row, questionNameKeys); name != nil {
			if slug := FieldSlug(*name); slug != "" {
				fieldName = slug
			}
		}
		label := fmt.Sprintf("Question %d", i+1)
		if picked := pickString(row, questionTitleKeys); picked != nil {
			label = *picked
		} else if picked := pickString(row, labelKeys); picked != nil {
			label = *picked
		}
		out = append(out, Question{
			ID:          *id,
			FieldName:   fieldName,
			Label:       label,
			Description: pickString(row, questionDescriptionKeys),
			Placeholder: pickString(row, questionPlaceholderKeys),
		})
	}
	return out
}

// FieldSlug lowercases value and collapses every run of characters outside
// [a-z0-9] into a single underscore, trimming underscores at both ends.
func FieldSlug(value string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(strings.TrimSpace(value)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}

func fallbackFieldName(index int) string {
	return "question_" + strconv.Itoa(index+1)
}

func lookupID(row map[string]any, index int) string {
	for _, key := range []string{"id", "uuid", "slug"} {
		if raw, ok := row[key]; ok && raw != nil {
			return scalarString(raw)
		}
	}
	return strconv.Itoa(index)
}

func lookupLabel(row map[string]any, prefix string, index int) string {
	if label := pickString(row, labelKeys); label != nil {
		return *label
	}
	return fmt.Sprintf("%s %d", prefix, index+1)
}

func pickString(row map[string]any, keys []string) *string {
	for _, key := range keys {
		if s, ok := row[key].(string); ok {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				return &trimmed
			}
		}
	}
	return nil
}

// valenceSign collapses a stored valence to -1, 0 or 1.
func valenceSign(raw any) *int {
	var n float64
	switch v := raw.(type) {
	case float64:
		n = v
	case int:
		n = float64(v)
	case int64:
		n = float64(v)
	case string:
		parsed, ok := normalize.ParseLeadingInt(v)
		if !ok {
			return nil
		}
		n = float64(parsed)
	default:
		return nil
	}
	sign := 0
	switch {
	case n < 0:
		sign = -1
	case n > 0:
		sign = 1
	}
	return &sign
}

func scalarString(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return fmt.Sprint(raw)
}

// sortByLabel orders lookups ignoring case and accents.
func sortByLabel(items []Lookup) {
	col := collate.New(language.Und, collate.IgnoreCase, collate.IgnoreDiacritics, collate.IgnoreWidth)
	sort.SliceStable(items, func(i, j int) bool {
		return col.CompareString(items[i].Label, items[j].Label) < 0
	})
}
