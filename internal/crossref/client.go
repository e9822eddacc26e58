package crossref

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/acadtrust/internal/model"
)

const (
	// defaultEndpoint はCrossRef REST APIのベースURL。
	defaultEndpoint = "https://api.crossref.org"
	// maxResponseBytes はWorksレスポンスの読み取り上限。
	maxResponseBytes = 2 << 20

	serviceName = "crossref"
)

// Author は論文の著者1名分のメタデータ。
type Author struct {
	Given  string `json:"given"`
	Family string `json:"family"`
	ORCID  string `json:"ORCID"`
}

// Work はDOIに対応する論文のメタデータ。
type Work struct {
	DOI     string   `json:"DOI"`
	Title   []string `json:"title"`
	Authors []Author `json:"author"`
}

type worksResponse struct {
	Status  string `json:"status"`
	Message Work   `json:"message"`
}

// Client はCrossRef Works APIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string // テスト用にエンドポイントを差し替え可能
	mailto     string
}

// NewClient はClientの新しいインスタンスを生成する。
// endpointが空の場合は公開APIを使う。mailtoはCrossRefのpolite pool向けの連絡先。
func NewClient(httpClient *http.Client, logger *slog.Logger, endpoint, mailto string) *Client {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   strings.TrimRight(endpoint, "/"),
		mailto:     mailto,
	}
}

// GetWork はDOIの著者メタデータを取得する。
// 通信失敗・404を含む2xx以外の応答は*model.ExternalServiceErrorを返す。
func (c *Client) GetWork(ctx context.Context, doi string) (*Work, error) {
	reqURL := c.endpoint + "/works/" + (&url.URL{Path: doi}).EscapedPath()
	if c.mailto != "" {
		reqURL += "?" + url.Values{"mailto": {c.mailto}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, model.NewExternalServiceError(serviceName, "get work", 0, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("CrossRef APIの呼び出しに失敗しました",
			slog.String("service", serviceName),
			slog.String("doi", doi),
			slog.String("error", err.Error()),
		)
		return nil, model.NewExternalServiceError(serviceName, "get work", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("CrossRef APIがエラーステータスを返しました",
			slog.String("service", serviceName),
			slog.String("doi", doi),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, model.NewExternalServiceError(serviceName, "get work", resp.StatusCode, nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, model.NewExternalServiceError(serviceName, "read work", 0, err)
	}

	var result worksResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, model.NewExternalServiceError(serviceName, "decode work", 0,
			fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err))
	}
	if result.Message.DOI == "" {
		result.Message.DOI = doi
	}
	return &result.Message, nil
}

func (c *Client) userAgent() string {
	if c.mailto != "" {
		return "acadtrust/1.0 (mailto:" + c.mailto + ")"
	}
	return "acadtrust/1.0"
}

// Timed は呼び出し時間を記録するfetcherを返す。
func Timed(f WorkFetcher, observe func(service string, d time.Duration)) WorkFetcher {
	return fetcherFunc(func(ctx context.Context, doi string) (*Work, error) {
		start := time.Now()
		defer func() { observe(serviceName, time.Since(start)) }()
		return f.GetWork(ctx, doi)
	})
}

type fetcherFunc func(ctx context.Context, doi string) (*Work, error)

func (f fetcherFunc) GetWork(ctx context.Context, doi string) (*Work, error) {
	return f(ctx, doi)
}
