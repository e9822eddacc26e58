package crossref

import (
	"context"
	"fmt"
	"log/slog"
)

// WorkFetcher はDOIから論文メタデータを取得する。
type WorkFetcher interface {
	GetWork(ctx context.Context, doi string) (*Work, error)
}

// WorkCache は取得済みの論文メタデータのキャッシュ。
// Getはキャッシュに無い場合(nil, nil)を返す。
type WorkCache interface {
	Get(ctx context.Context, doi string) (*Work, error)
	Set(ctx context.Context, doi string, work *Work) error
}

// Verifier はDOIの著者照合を行う。
type Verifier struct {
	fetcher WorkFetcher
	cache   WorkCache
	logger  *slog.Logger
}

// NewVerifier はVerifierを生成する。cacheはnilでもよい。
func NewVerifier(fetcher WorkFetcher, cache WorkCache, logger *slog.Logger) *Verifier {
	return &Verifier{fetcher: fetcher, cache: cache, logger: logger}
}

// VerifyAuthor はDOIの著者にprofileが含まれるかを返す。
// 取得失敗やデコード中のpanicを含む内部エラーはすべてログに残してfalseを返す。
// doiは正規化・検証済みであること。
func (v *Verifier) VerifyAuthor(ctx context.Context, doi string, profile AuthorProfile) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("DOI著者照合中にpanicが発生しました",
				slog.String("doi", doi),
				slog.String("panic", fmt.Sprint(r)),
			)
			ok = false
		}
	}()

	work, err := v.work(ctx, doi)
	if err != nil {
		v.logger.Warn("DOIメタデータを取得できませんでした",
			slog.String("service", serviceName),
			slog.String("doi", doi),
			slog.String("error", err.Error()),
		)
		return false
	}
	return MatchAuthor(work, profile)
}

func (v *Verifier) work(ctx context.Context, doi string) (*Work, error) {
	if v.cache != nil {
		cached, err := v.cache.Get(ctx, doi)
		if err != nil {
			v.logger.Warn("DOIキャッシュの読み取りに失敗しました",
				slog.String("doi", doi),
				slog.String("error", err.Error()),
			)
		} else if cached != nil {
			return cached, nil
		}
	}

	work, err := v.fetcher.GetWork(ctx, doi)
	if err != nil {
		return nil, err
	}

	if v.cache != nil {
		if err := v.cache.Set(ctx, doi, work); err != nil {
			v.logger.Warn("DOIキャッシュの書き込みに失敗しました",
				slog.String("doi", doi),
				slog.String("error", err.Error()),
			)
		}
	}
	return work, nil
}
