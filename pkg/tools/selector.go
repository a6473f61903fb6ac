package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"
)

// Selector narrows the registry to the tools offered to the model for one
// request.
type Selector interface {
	Select(ctx context.Context, query string) ([]ToolInfo, error)
}

// AllSelector offers every registered tool.
type AllSelector struct {
	registry *Registry
}

func NewAllSelector(registry *Registry) *AllSelector {
	return &AllSelector{registry: registry}
}

func (s *AllSelector) Select(ctx context.Context, query string) ([]ToolInfo, error) {
	return s.registry.List(), nil
}

// KeywordSelector keeps tools whose category is mapped from a query keyword,
// or whose name or category shares a token with the query. An empty match set
// falls back to the full list.
type KeywordSelector struct {
	registry *Registry
	keywords map[string]string // lowercase keyword -> category
}

// NewKeywordSelector creates a selector. keywords maps prompt keywords to tool
// categories; nil keeps only the name/category token heuristic.
func NewKeywordSelector(registry *Registry, keywords map[string]string) *KeywordSelector {
	lowered := make(map[string]string, len(keywords))
	for k, v := range keywords {
		lowered[strings.ToLower(k)] = strings.ToLower(v)
	}
	return &KeywordSelector{registry: registry, keywords: lowered}
}

func (s *KeywordSelector) Select(ctx context.Context, query string) ([]ToolInfo, error) {
	all := s.registry.List()
	tokens := strings.Fields(strings.ToLower(query))
	if len(tokens) == 0 {
		return all, nil
	}

	categories := make(map[string]bool)
	for _, token := range tokens {
		if category, ok := s.keywords[token]; ok {
			categories[category] = true
		}
	}

	var matched []ToolInfo
	for _, info := range all {
		if categories[strings.ToLower(info.Category)] || matchesKeywords(info, tokens) {
			matched = append(matched, info)
		}
	}
	if len(matched) == 0 {
		return all, nil
	}
	return matched, nil
}

func matchesKeywords(info ToolInfo, tokens []string) bool {
	name := strings.ToLower(info.Name)
	category := strings.ToLower(info.Category)
	for _, token := range tokens {
		if len(token) < 3 {
			continue
		}
		if strings.HasPrefix(name, token) || strings.Contains(name, token) {
			return true
		}
		if category != "" && strings.HasPrefix(category, token) {
			return true
		}
	}
	return false
}

// Embedder produces a vector for a text. Providers supply implementations.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SemanticSelector ranks tools by cosine similarity between the query and
// tool descriptions, keeping matches above a similarity threshold. The
// embedding index rebuilds whenever the registry version changes. Any failure
// degrades to the full tool list.
type SemanticSelector struct {
	registry   *Registry
	embedder   Embedder
	threshold  float32
	maxResults int

	mu             sync.Mutex
	collection     *chromem.Collection
	indexedVersion uint64
	indexedCount   int
}

// NewSemanticSelector creates a selector with the given similarity threshold
// and result cap.
func NewSemanticSelector(registry *Registry, embedder Embedder, threshold float32, maxResults int) *SemanticSelector {
	if maxResults <= 0 {
		maxResults = 8
	}
	return &SemanticSelector{
		registry:   registry,
		embedder:   embedder,
		threshold:  threshold,
		maxResults: maxResults,
	}
}

func (s *SemanticSelector) Select(ctx context.Context, query string) ([]ToolInfo, error) {
	all := s.registry.List()
	if len(all) == 0 || strings.TrimSpace(query) == "" {
		return all, nil
	}

	results, err := s.query(ctx, query, len(all))
	if err != nil {
		slog.Warn("Semantic tool selection failed, using full tool list", "error", err)
		return all, nil
	}

	byName := make(map[string]ToolInfo, len(all))
	for _, info := range all {
		byName[info.Name] = info
	}

	var selected []ToolInfo
	for _, res := range results {
		if res.Similarity < s.threshold {
			continue
		}
		if info, ok := byName[res.ID]; ok {
			selected = append(selected, info)
		}
		if len(selected) >= s.maxResults {
			break
		}
	}
	if len(selected) == 0 {
		return all, nil
	}
	return selected, nil
}

func (s *SemanticSelector) query(ctx context.Context, query string, total int) ([]chromem.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureIndexLocked(ctx); err != nil {
		return nil, err
	}
	if s.indexedCount == 0 {
		return nil, nil
	}

	n := s.maxResults
	if n > s.indexedCount {
		n = s.indexedCount
	}
	return s.collection.Query(ctx, query, n, nil, nil)
}

// ensureIndexLocked rebuilds the embedding index when the registry changed
// since the last build.
func (s *SemanticSelector) ensureIndexLocked(ctx context.Context) error {
	version := s.registry.Version()
	if s.collection != nil && s.indexedVersion == version {
		return nil
	}

	embeddingFunc := func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.Embed(ctx, text)
	}

	db := chromem.NewDB()
	collection, err := db.CreateCollection("tools", nil, embeddingFunc)
	if err != nil {
		return fmt.Errorf("failed to create tool index: %w", err)
	}

	infos := s.registry.List()
	for _, info := range infos {
		content := info.Name + ": " + info.Description
		doc := chromem.Document{
			ID:      info.Name,
			Content: content,
		}
		if err := collection.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("failed to index tool %q: %w", info.Name, err)
		}
	}

	s.collection = collection
	s.indexedVersion = version
	s.indexedCount = len(infos)
	return nil
}
