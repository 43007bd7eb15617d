package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Cover is the image-url triple a lookup yields.
type Cover struct {
	Thumbnail      string `json:"thumbnail"`
	SmallThumbnail string `json:"small_thumbnail"`
	Large          string `json:"large"`
}

// CoverProvider finds cover art for a book.
type CoverProvider interface {
	Fetch(ctx context.Context, book Book) (*Cover, error)
	FetchByISBN(ctx context.Context, isbn string) (*Cover, error)
	FetchByTitleAuthor(ctx context.Context, title, author string) (*Cover, error)
}

var _ CoverProvider = (*CoverService)(nil) // ensure CoverService implements CoverProvider.

// CoverService queries the Google Books volumes API for cover art.
// Lookups are rate limited and results are cached in redis so repeated
// page renders do not hammer the public API. A nil cache client simply
// disables caching.
type CoverService struct {
	logger   *zap.Logger
	client   *http.Client
	base     string
	apiKey   string
	limiter  *rate.Limiter
	cache    *redis.Client
	cacheTTL time.Duration
}

// NewCoverService provides a ready to use cover lookup service.
func NewCoverService(logger *zap.Logger, config *CoversConfig, cache *redis.Client) *CoverService {
	rps := config.RequestsPerSecond
	if rps < 1 {
		rps = 1
	}
	ttl := config.CacheTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CoverService{
		logger:   logger,
		client:   &http.Client{Timeout: config.RequestTimeout},
		base:     strings.TrimRight(config.BaseURL, "/"),
		apiKey:   config.APIKey,
		limiter:  rate.NewLimiter(rate.Limit(rps), rps),
		cache:    cache,
		cacheTTL: ttl,
	}
}

// volumesResponse mirrors the slice of the Google Books payload we need.
type volumesResponse struct {
	TotalItems int `json:"totalItems"`
	Items      []struct {
		VolumeInfo struct {
			Title      string `json:"title"`
			ImageLinks struct {
				Thumbnail      string `json:"thumbnail"`
				SmallThumbnail string `json:"smallThumbnail"`
			} `json:"imageLinks"`
		} `json:"volumeInfo"`
	} `json:"items"`
}

// Fetch tries the book's own cover url first, then ISBN-13, then ISBN-10,
// then a title/author query. First hit wins; a miss everywhere returns
// nil, nil.
func (cs *CoverService) Fetch(ctx context.Context, book Book) (*Cover, error) {
	if book.CoverURL != "" {
		return &Cover{Thumbnail: book.CoverURL, SmallThumbnail: book.CoverURL, Large: book.CoverURL}, nil
	}

	if book.ISBN13 != "" {
		cover, err := cs.FetchByISBN(ctx, book.ISBN13)
		if err != nil || cover != nil {
			return cover, err
		}
	}
	if book.ISBN != "" {
		cover, err := cs.FetchByISBN(ctx, book.ISBN)
		if err != nil || cover != nil {
			return cover, err
		}
	}
	return cs.FetchByTitleAuthor(ctx, book.Title, book.Author)
}

// FetchByISBN looks a cover up by a single ISBN, hyphens and spaces
// tolerated.
func (cs *CoverService) FetchByISBN(ctx context.Context, isbn string) (*Cover, error) {
	isbn = normalizeISBN(isbn)
	if isbn == "" {
		return nil, nil
	}
	return cs.lookup(ctx, "isbn:"+isbn)
}

// FetchByTitleAuthor looks a cover up by title, narrowed by author when
// one is given.
func (cs *CoverService) FetchByTitleAuthor(ctx context.Context, title, author string) (*Cover, error) {
	if title == "" {
		return nil, nil
	}
	query := title
	if author != "" {
		query += " inauthor:" + author
	}
	return cs.lookup(ctx, query)
}

func (cs *CoverService) lookup(ctx context.Context, query string) (*Cover, error) {
	if cover, ok := cs.cached(ctx, query); ok {
		return cover, nil
	}

	if err := cs.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/volumes?q=%s", cs.base, url.QueryEscape(query))
	if cs.apiKey != "" {
		endpoint += "&key=" + url.QueryEscape(cs.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := cs.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cover lookup request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cover lookup returned status %d", resp.StatusCode)
	}

	var result volumesResponse
	if err = json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode cover lookup response: %w", err)
	}
	if result.TotalItems == 0 || len(result.Items) == 0 {
		return nil, nil
	}

	links := result.Items[0].VolumeInfo.ImageLinks
	if links.Thumbnail == "" && links.SmallThumbnail == "" {
		return nil, nil
	}
	cover := &Cover{
		Thumbnail:      links.Thumbnail,
		SmallThumbnail: links.SmallThumbnail,
		// the zoom=0 variant serves the high resolution image.
		Large: strings.Replace(links.Thumbnail, "zoom=1", "zoom=0", 1),
	}

	cs.store(ctx, query, cover)
	return cover, nil
}

func (cs *CoverService) cached(ctx context.Context, query string) (*Cover, bool) {
	if cs.cache == nil {
		return nil, false
	}
	raw, err := cs.cache.Get(ctx, coverCacheKey(query)).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		cs.logger.Warn("covers: cache read failed", zap.Error(err))
		return nil, false
	}
	var cover Cover
	if err = json.Unmarshal([]byte(raw), &cover); err != nil {
		cs.logger.Warn("covers: corrupt cache entry", zap.Error(err))
		return nil, false
	}
	return &cover, true
}

func (cs *CoverService) store(ctx context.Context, query string, cover *Cover) {
	if cs.cache == nil {
		return
	}
	raw, err := json.Marshal(cover)
	if err != nil {
		return
	}
	if err = cs.cache.Set(ctx, coverCacheKey(query), raw, cs.cacheTTL).Err(); err != nil {
		cs.logger.Warn("covers: cache write failed", zap.Error(err))
	}
}

func coverCacheKey(query string) string {
	return "covers:" + query
}
