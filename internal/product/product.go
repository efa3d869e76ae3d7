package product

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	errors "github.com/credmart/credmart/internal"
	productDatamodel "github.com/credmart/credmart/internal/core/datamodel/product"
)

type RepositoryAPI interface {
	GetAll() ([]*productDatamodel.VirtualProduct, error)
	GetByRef(ref string) (*productDatamodel.VirtualProduct, error)
}

type ProductResponse struct {
	Ref         string          `json:"ref"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
	Duration    string          `json:"duration,omitempty"`
}

func toResponse(p *productDatamodel.VirtualProduct) ProductResponse {
	return ProductResponse{
		Ref:         p.Ref,
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		Price:       p.Price,
		Currency:    p.Currency,
		Duration:    p.Duration,
	}
}

type Service struct {
	repo   RepositoryAPI
	logger *slog.Logger
}

func NewService(repo RepositoryAPI, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

func (s *Service) GetCatalog() ([]ProductResponse, error) {
	products, err := s.repo.GetAll()
	if err != nil {
		s.logger.Error("failed to load product catalog", "error", err)
		return nil, errors.NewInternalError("failed to load catalog", err)
	}

	var responses []ProductResponse
	for _, p := range products {
		if p.IsActive {
			responses = append(responses, toResponse(p))
		}
	}
	return responses, nil
}

// GetByRef resolves an active product; the catalog price is authoritative
// for order creation.
func (s *Service) GetByRef(ref string) (*productDatamodel.VirtualProduct, error) {
	p, err := s.repo.GetByRef(ref)
	if err != nil {
		s.logger.Error("failed to load product", "ref", ref, "error", err)
		return nil, errors.NewInternalError("failed to load product", err)
	}
	if p == nil || !p.IsActive {
		return nil, errors.ErrProductNotFound
	}
	return p, nil
}

// SeedProducts is the default catalog for fresh installs.
func SeedProducts() []*productDatamodel.VirtualProduct {
	now := time.Now()
	price := func(v string) decimal.Decimal { return decimal.RequireFromString(v) }
	return []*productDatamodel.VirtualProduct{
		{Ref: "netflix-1m", Name: "Netflix Premium 1 Month", Category: "video", Price: price("25.00"), Currency: "CNY", Duration: "1 month", IsActive: true, CreatedAt: now, UpdatedAt: now},
		{Ref: "netflix-12m", Name: "Netflix Premium 12 Months", Category: "video", Price: price("240.00"), Currency: "CNY", Duration: "12 months", IsActive: true, CreatedAt: now, UpdatedAt: now},
		{Ref: "spotify-1m", Name: "Spotify Premium 1 Month", Category: "music", Price: price("15.00"), Currency: "CNY", Duration: "1 month", IsActive: true, CreatedAt: now, UpdatedAt: now},
		{Ref: "disney-1m", Name: "Disney+ 1 Month", Category: "video", Price: price("18.00"), Currency: "CNY", Duration: "1 month", IsActive: true, CreatedAt: now, UpdatedAt: now},
		{Ref: "youtube-1m", Name: "YouTube Premium 1 Month", Category: "video", Price: price("12.00"), Currency: "CNY", Duration: "1 month", IsActive: true, CreatedAt: now, UpdatedAt: now},
	}
}
