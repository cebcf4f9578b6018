package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"shop-integrations-layer/internal/domain"
	"shop-integrations-layer/internal/ports"
)

// LookupPath records which lookup found a shop.
type LookupPath string

const (
	FoundViaPrimary  LookupPath = "primary"
	FoundViaFallback LookupPath = "fallback"
)

// Resolution is the tagged result of resolving a shop parameter.
type Resolution struct {
	FoundVia LookupPath
	Shop     *domain.Shop
}

// ShopResolver resolves a shop domain: exact domain first, then the linked domain of
// standalone accounts. The fallback only runs when the primary lookup finds nothing.
type ShopResolver struct {
	shops ports.ShopRepository
}

func NewShopResolver(shops ports.ShopRepository) *ShopResolver {
	return &ShopResolver{shops: shops}
}

// NormalizeShopDomain lowercases and strips scheme, path and surrounding space.
func NormalizeShopDomain(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	return s
}

func (r *ShopResolver) Resolve(ctx context.Context, rawDomain string) (*Resolution, error) {
	shopDomain := NormalizeShopDomain(rawDomain)
	if shopDomain == "" {
		return nil, domain.E(domain.KindValidation, "resolve_shop", errors.New("shop parameter is required"))
	}

	shop, err := r.shops.GetShopByDomain(ctx, shopDomain)
	if err != nil {
		return nil, domain.E(domain.KindPersistence, "resolve_shop", fmt.Errorf("failed to get shop by domain: %w", err))
	}
	if shop != nil {
		return &Resolution{FoundVia: FoundViaPrimary, Shop: shop}, nil
	}

	shop, err = r.shops.GetShopByLinkedDomain(ctx, shopDomain, domain.AccountTypeStandalone)
	if err != nil {
		return nil, domain.E(domain.KindPersistence, "resolve_shop", fmt.Errorf("failed to get shop by linked domain: %w", err))
	}
	if shop != nil {
		return &Resolution{FoundVia: FoundViaFallback, Shop: shop}, nil
	}

	return nil, domain.E(domain.KindNotFound, "resolve_shop", domain.ErrShopNotFound)
}
