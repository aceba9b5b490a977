// Package geo resolves ticket addresses to coordinates through a cascading
// provider ladder with a persistent query cache, and provides the distance
// primitives the router needs.
package geo

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/freedomfin/fireroute/pkg/models"
)

// Capital coordinates for countries whose tickets arrive with no city.
var capitalCoords = map[string]Point{
	"казахстан":    {Lat: 51.1694, Lon: 71.4491},
	"kazakhstan":   {Lat: 51.1694, Lon: 71.4491},
	"россия":       {Lat: 55.7558, Lon: 37.6173},
	"russia":       {Lat: 55.7558, Lon: 37.6173},
	"узбекистан":   {Lat: 41.2995, Lon: 69.2401},
	"uzbekistan":   {Lat: 41.2995, Lon: 69.2401},
	"украина":      {Lat: 50.4501, Lon: 30.5234},
	"ukraine":      {Lat: 50.4501, Lon: 30.5234},
	"азербайджан":  {Lat: 40.4093, Lon: 49.8671},
	"azerbaijan":   {Lat: 40.4093, Lon: 49.8671},
	"кыргызстан":   {Lat: 42.8746, Lon: 74.5698},
	"kyrgyzstan":   {Lat: 42.8746, Lon: 74.5698},
	"таджикистан":  {Lat: 38.5598, Lon: 68.7738},
	"tajikistan":   {Lat: 38.5598, Lon: 68.7738},
	"туркменистан": {Lat: 37.9601, Lon: 58.3261},
	"turkmenistan": {Lat: 37.9601, Lon: 58.3261},
	"беларусь":     {Lat: 53.9006, Lon: 27.5590},
	"belarus":      {Lat: 53.9006, Lon: 27.5590},
	"молдова":      {Lat: 47.0105, Lon: 28.8638},
	"moldova":      {Lat: 47.0105, Lon: 28.8638},
	"грузия":       {Lat: 41.7151, Lon: 44.8271},
	"georgia":      {Lat: 41.7151, Lon: 44.8271},
	"армения":      {Lat: 40.1872, Lon: 44.5152},
	"armenia":      {Lat: 40.1872, Lon: 44.5152},
}

// Regional neighbors searched when a ticket names a city but no country.
var cisCountries = []string{
	"Казахстан", "Россия", "Узбекистан", "Украина",
	"Кыргызстан", "Таджикистан", "Беларусь", "Молдова",
	"Грузия", "Армения", "Азербайджан", "Туркменистан",
}

var kzNames = map[string]struct{}{
	"казахстан": {}, "kazakhstan": {}, "кз": {}, "kz": {},
}

// Cache is the persistent query cache consumed by the geocoder. Put must
// tolerate duplicate inserts.
type Cache interface {
	Get(ctx context.Context, query string) (*Point, bool)
	Put(ctx context.Context, query string, p Point, provider string)
}

// Address is the component form of a ticket's location fields.
type Address struct {
	Country string
	Region  string
	City    string
	Street  string
	House   string
}

// Resolution is the geocoder output for one ticket.
type Resolution struct {
	Point       *Point
	Provider    string
	Status      models.AddressStatus
	Explanation string
	Elapsed     time.Duration
}

// Geocoder walks the resolution ladder over two providers and a cache.
type Geocoder struct {
	primary  Provider
	fallback Provider
	cache    Cache
	logger   *slog.Logger

	// shuffle controls CIS search order; replaced in tests for determinism.
	shuffle func([]string)
}

// NewGeocoder creates a geocoder. cache may be nil.
func NewGeocoder(primary, fallback Provider, cache Cache, logger *slog.Logger) *Geocoder {
	return &Geocoder{
		primary:  primary,
		fallback: fallback,
		cache:    cache,
		logger:   logger,
		shuffle: func(s []string) {
			rand.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
		},
	}
}

// Resolve runs the ladder for one address. alt is the per-batch office
// alternator. Never returns an error: every failure mode maps to a status.
func (g *Geocoder) Resolve(ctx context.Context, addr Address, alt *Alternator) *Resolution {
	start := time.Now()
	res := g.resolve(ctx, addr, alt)
	res.Elapsed = time.Since(start)
	return res
}

// Lookup geocodes a free-form query without the ladder. Used for office
// addresses at ingest, which arrive as a single string.
func (g *Geocoder) Lookup(ctx context.Context, query string) (*Point, string) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ""
	}
	return g.geocode(ctx, query)
}

func (g *Geocoder) resolve(ctx context.Context, addr Address, alt *Alternator) *Resolution {
	country := strings.TrimSpace(addr.Country)
	region := strings.TrimSpace(addr.Region)
	city := strings.TrimSpace(addr.City)
	street := strings.TrimSpace(addr.Street)
	house := strings.TrimSpace(addr.House)

	switch {
	case country == "" && city == "":
		return &Resolution{
			Status:      models.AddressUnknown,
			Provider:    "none",
			Explanation: "Координаты не определены: страна и город не указаны",
		}

	case country == "":
		return g.searchCityInCIS(ctx, city)

	case !isKazakhstan(country):
		p, office := alt.Next()
		return &Resolution{
			Point:       &p,
			Provider:    "international_5050",
			Status:      models.AddressForeign,
			Explanation: fmt.Sprintf("Иностранный адрес (%s) — маршрутизация в офис %s", country, office),
		}

	case city == "":
		p, ok := capitalCoords[strings.ToLower(country)]
		if !ok {
			p = AstanaPoint
		}
		return &Resolution{
			Point:       &p,
			Provider:    "capital_fallback",
			Status:      models.AddressPartial,
			Explanation: "Город не указан — координаты столицы (Астана)",
		}

	case street == "":
		return g.cityCenter(ctx, country, region, city, alt, "")

	case house == "":
		res := g.cityCenter(ctx, country, region, city, alt, "")
		res.Explanation = "Дом не указан — " + lowerFirst(res.Explanation)
		return res

	default:
		query := buildQuery(country, region, cleanCity(city), street, house)
		if p, provider := g.geocode(ctx, query); p != nil {
			return &Resolution{
				Point:       p,
				Provider:    provider,
				Status:      models.AddressResolved,
				Explanation: fmt.Sprintf("Точный адрес геокодирован через %s", provider),
			}
		}
		return g.cityCenter(ctx, country, region, city, alt, "Точный адрес не найден — ")
	}
}

// cityCenter resolves "country, region, city", retrying without the region,
// then falls back to the office alternator.
func (g *Geocoder) cityCenter(ctx context.Context, country, region, city string, alt *Alternator, prefix string) *Resolution {
	clean := cleanCity(city)

	if p, provider := g.geocode(ctx, buildQuery(country, region, clean)); p != nil {
		return &Resolution{
			Point:       p,
			Provider:    provider + "_city",
			Status:      models.AddressPartial,
			Explanation: prefix + decorate(prefix, fmt.Sprintf("Использован центр города %s", clean)),
		}
	}
	if p, provider := g.geocode(ctx, buildQuery(country, clean)); p != nil {
		return &Resolution{
			Point:       p,
			Provider:    provider + "_city",
			Status:      models.AddressPartial,
			Explanation: prefix + decorate(prefix, fmt.Sprintf("Использован центр города %s (без области)", clean)),
		}
	}

	p, office := alt.Next()
	return &Resolution{
		Point:       &p,
		Provider:    "city_fallback",
		Status:      models.AddressUnknown,
		Explanation: prefix + decorate(prefix, fmt.Sprintf("Город %s не найден — назначен офис %s", clean, office)),
	}
}

// searchCityInCIS probes the fallback provider across shuffled neighbor
// countries until one yields a hit.
func (g *Geocoder) searchCityInCIS(ctx context.Context, city string) *Resolution {
	clean := cleanCity(city)
	shuffled := make([]string, len(cisCountries))
	copy(shuffled, cisCountries)
	g.shuffle(shuffled)

	for _, country := range shuffled {
		query := fmt.Sprintf("%s, %s", clean, country)
		if p, ok := g.cacheGet(ctx, query); ok {
			return &Resolution{
				Point:       p,
				Provider:    "cache_cis",
				Status:      models.AddressPartial,
				Explanation: fmt.Sprintf("Страна не указана — город %s найден в %s", clean, country),
			}
		}
		p, err := g.fallback.Geocode(ctx, query)
		if err != nil {
			g.logger.Warn("CIS geocode probe failed", "query", query, "error", err)
			continue
		}
		if p != nil {
			g.cachePut(ctx, query, *p, g.fallback.Name())
			return &Resolution{
				Point:       p,
				Provider:    g.fallback.Name() + "_cis",
				Status:      models.AddressPartial,
				Explanation: fmt.Sprintf("Страна не указана — город %s найден в %s", clean, country),
			}
		}
	}
	return &Resolution{
		Status:      models.AddressUnknown,
		Provider:    "cis_failed",
		Explanation: fmt.Sprintf("Город %s не найден в странах СНГ", clean),
	}
}

// geocode runs cache → primary → fallback for one query.
func (g *Geocoder) geocode(ctx context.Context, query string) (*Point, string) {
	if p, ok := g.cacheGet(ctx, query); ok {
		return p, "cache"
	}
	if p := g.tryProvider(ctx, g.primary, query); p != nil {
		g.cachePut(ctx, query, *p, g.primary.Name())
		return p, g.primary.Name()
	}
	if p := g.tryProvider(ctx, g.fallback, query); p != nil {
		g.cachePut(ctx, query, *p, g.fallback.Name())
		return p, g.fallback.Name()
	}
	return nil, "failed"
}

func (g *Geocoder) tryProvider(ctx context.Context, p Provider, query string) *Point {
	if p == nil {
		return nil
	}
	point, err := p.Geocode(ctx, query)
	if err != nil {
		g.logger.Warn("Geocode call failed", "provider", p.Name(), "query", query, "error", err)
		return nil
	}
	return point
}

func (g *Geocoder) cacheGet(ctx context.Context, query string) (*Point, bool) {
	if g.cache == nil {
		return nil, false
	}
	return g.cache.Get(ctx, query)
}

func (g *Geocoder) cachePut(ctx context.Context, query string, p Point, provider string) {
	if g.cache != nil {
		g.cache.Put(ctx, query, p, provider)
	}
}

func isKazakhstan(country string) bool {
	_, ok := kzNames[strings.ToLower(strings.TrimSpace(country))]
	return ok
}

// cleanCity cuts bilingual and parenthesized suffixes: "Алматы / Almaty (юг)"
// becomes "Алматы".
func cleanCity(city string) string {
	c := strings.TrimSpace(city)
	if i := strings.Index(c, "/"); i >= 0 {
		c = strings.TrimSpace(c[:i])
	}
	if i := strings.Index(c, "("); i >= 0 {
		c = strings.TrimSpace(c[:i])
	}
	return c
}

func buildQuery(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ", ")
}

// decorate lowercases the first rune when the text continues a sentence.
func decorate(prefix, s string) string {
	if prefix == "" {
		return s
	}
	return lowerFirst(s)
}

func lowerFirst(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return s
	}
	r[0] = []rune(strings.ToLower(string(r[0])))[0]
	return string(r)
}
