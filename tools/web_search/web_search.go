package web_search

import (
	"context"

	"github.com/mohammad-safakhou/reporter/tools/web_search/brave"
	"github.com/mohammad-safakhou/reporter/tools/web_search/models"
	"github.com/mohammad-safakhou/reporter/tools/web_search/serper"
)

type WebSearcher interface {
	Discover(ctx context.Context, q string, k int) ([]models.Result, error)
}

type Provider string

const (
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
	NoneProvider   Provider = "none"
)

type Error struct{ Msg string }

func (e *Error) Error() string { return e.Msg }

var ErrUnsupportedProvider = &Error{"unsupported provider"}

// Noop satisfies WebSearcher for setups without a search backend: every
// query returns zero results and no error.
type Noop struct{}

func (Noop) Discover(context.Context, string, int) ([]models.Result, error) { return nil, nil }

func NewWebSearcher(provider Provider, apiKey string) (WebSearcher, error) {
	switch provider {
	case SerperProvider:
		return serper.Search{ApiKey: apiKey}, nil
	case BraveProvider:
		return brave.Search{ApiKey: apiKey}, nil
	case NoneProvider, "":
		return Noop{}, nil
	default:
		return nil, ErrUnsupportedProvider
	}
}
