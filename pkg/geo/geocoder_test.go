package geo

import (
	"context"
	"log/slog"
	"testing"

	"github.com/freedomfin/fireroute/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, nil))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// fakeProvider answers from a fixed query table and counts calls.
type fakeProvider struct {
	name    string
	answers map[string]Point
	calls   int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Geocode(_ context.Context, query string) (*Point, error) {
	f.calls++
	if p, ok := f.answers[query]; ok {
		return &p, nil
	}
	return nil, nil
}

// memCache is an in-memory Cache for tests.
type memCache struct {
	entries map[string]Point
	puts    int
}

func newMemCache() *memCache { return &memCache{entries: map[string]Point{}} }

func (c *memCache) Get(_ context.Context, query string) (*Point, bool) {
	if p, ok := c.entries[query]; ok {
		return &p, true
	}
	return nil, false
}

func (c *memCache) Put(_ context.Context, query string, p Point, _ string) {
	c.puts++
	if _, exists := c.entries[query]; !exists {
		c.entries[query] = p
	}
}

func newTestGeocoder(primary, fallback *fakeProvider, cache Cache) *Geocoder {
	g := NewGeocoder(primary, fallback, cache, testLogger())
	g.shuffle = func([]string) {} // keep CIS order deterministic in tests
	return g
}

func TestResolve_NoCountryNoCity(t *testing.T) {
	g := newTestGeocoder(&fakeProvider{name: "2gis"}, &fakeProvider{name: "nominatim"}, nil)

	res := g.Resolve(context.Background(), Address{}, NewAlternator())
	assert.Nil(t, res.Point)
	assert.Equal(t, models.AddressUnknown, res.Status)
}

func TestResolve_CISSearch(t *testing.T) {
	fallback := &fakeProvider{name: "nominatim", answers: map[string]Point{
		"Ташкент, Узбекистан": {Lat: 41.2995, Lon: 69.2401},
	}}
	g := newTestGeocoder(&fakeProvider{name: "2gis"}, fallback, nil)

	res := g.Resolve(context.Background(), Address{City: "Ташкент"}, NewAlternator())
	require.NotNil(t, res.Point)
	assert.Equal(t, models.AddressPartial, res.Status)
	assert.Contains(t, res.Explanation, "Узбекистан")
}

func TestResolve_CISSearchExhausted(t *testing.T) {
	g := newTestGeocoder(&fakeProvider{name: "2gis"}, &fakeProvider{name: "nominatim"}, nil)

	res := g.Resolve(context.Background(), Address{City: "Атлантида"}, NewAlternator())
	assert.Nil(t, res.Point)
	assert.Equal(t, models.AddressUnknown, res.Status)
}

func TestResolve_ForeignCountryAlternates(t *testing.T) {
	g := newTestGeocoder(&fakeProvider{name: "2gis"}, &fakeProvider{name: "nominatim"}, nil)
	alt := NewAlternator()

	first := g.Resolve(context.Background(), Address{Country: "Германия", City: "Берлин"}, alt)
	second := g.Resolve(context.Background(), Address{Country: "Германия", City: "Берлин"}, alt)

	require.NotNil(t, first.Point)
	require.NotNil(t, second.Point)
	assert.Equal(t, models.AddressForeign, first.Status)
	assert.Equal(t, AlmatyPoint, *first.Point)
	assert.Equal(t, AstanaPoint, *second.Point)
}

func TestResolve_KazakhstanNoCity(t *testing.T) {
	g := newTestGeocoder(&fakeProvider{name: "2gis"}, &fakeProvider{name: "nominatim"}, nil)

	res := g.Resolve(context.Background(), Address{Country: "Казахстан"}, NewAlternator())
	require.NotNil(t, res.Point)
	assert.Equal(t, models.AddressPartial, res.Status)
	assert.Equal(t, AstanaPoint, *res.Point)
}

func TestResolve_CityCenterWithRegionRetry(t *testing.T) {
	primary := &fakeProvider{name: "2gis", answers: map[string]Point{
		"Казахстан, Павлодар": {Lat: 52.2873, Lon: 76.9674},
	}}
	g := newTestGeocoder(primary, &fakeProvider{name: "nominatim"}, nil)

	res := g.Resolve(context.Background(),
		Address{Country: "Казахстан", Region: "Павлодарская область", City: "Павлодар"},
		NewAlternator())
	require.NotNil(t, res.Point)
	assert.Equal(t, models.AddressPartial, res.Status)
	assert.Equal(t, "2gis_city", res.Provider)
	assert.Contains(t, res.Explanation, "без области")
}

func TestResolve_FullAddressResolved(t *testing.T) {
	primary := &fakeProvider{name: "2gis", answers: map[string]Point{
		"Казахстан, Астана, Кабанбай батыра, 53": {Lat: 51.09, Lon: 71.41},
	}}
	g := newTestGeocoder(primary, &fakeProvider{name: "nominatim"}, nil)

	res := g.Resolve(context.Background(), Address{
		Country: "Казахстан", City: "Астана", Street: "Кабанбай батыра", House: "53",
	}, NewAlternator())
	require.NotNil(t, res.Point)
	assert.Equal(t, models.AddressResolved, res.Status)
	assert.Equal(t, "2gis", res.Provider)
}

func TestResolve_FullAddressDegradesToCityCenter(t *testing.T) {
	primary := &fakeProvider{name: "2gis", answers: map[string]Point{
		"Казахстан, Алматы": {Lat: 43.2220, Lon: 76.8512},
	}}
	g := newTestGeocoder(primary, &fakeProvider{name: "nominatim"}, nil)

	res := g.Resolve(context.Background(), Address{
		Country: "Казахстан", City: "Алматы", Street: "Несуществующая", House: "999",
	}, NewAlternator())
	require.NotNil(t, res.Point)
	assert.Equal(t, models.AddressPartial, res.Status)
	assert.Contains(t, res.Explanation, "Точный адрес не найден")
}

func TestResolve_CityFallbackAlternates(t *testing.T) {
	g := newTestGeocoder(&fakeProvider{name: "2gis"}, &fakeProvider{name: "nominatim"}, nil)
	alt := NewAlternator()

	res := g.Resolve(context.Background(),
		Address{Country: "Казахстан", City: "Неизвестный"}, alt)
	require.NotNil(t, res.Point)
	assert.Equal(t, models.AddressUnknown, res.Status)
	assert.Equal(t, AlmatyPoint, *res.Point)
}

func TestResolve_MissingHouseNote(t *testing.T) {
	primary := &fakeProvider{name: "2gis", answers: map[string]Point{
		"Казахстан, Алматы": {Lat: 43.2220, Lon: 76.8512},
	}}
	g := newTestGeocoder(primary, &fakeProvider{name: "nominatim"}, nil)

	res := g.Resolve(context.Background(), Address{
		Country: "Казахстан", City: "Алматы", Street: "Абая",
	}, NewAlternator())
	require.NotNil(t, res.Point)
	assert.Contains(t, res.Explanation, "Дом не указан")
}

func TestGeocode_CacheShortCircuitsProviders(t *testing.T) {
	primary := &fakeProvider{name: "2gis", answers: map[string]Point{
		"Казахстан, Астана": {Lat: 51.1694, Lon: 71.4491},
	}}
	cache := newMemCache()
	g := newTestGeocoder(primary, &fakeProvider{name: "nominatim"}, cache)
	addr := Address{Country: "Казахстан", City: "Астана"}

	first := g.Resolve(context.Background(), addr, NewAlternator())
	require.NotNil(t, first.Point)
	assert.Equal(t, 1, primary.calls)

	second := g.Resolve(context.Background(), addr, NewAlternator())
	require.NotNil(t, second.Point)
	assert.Equal(t, 1, primary.calls, "cache hit must not reach the provider")
	assert.Equal(t, *first.Point, *second.Point)
	assert.Equal(t, "cache_city", second.Provider)
}

func TestCacheDuplicatePutsAreHarmless(t *testing.T) {
	cache := newMemCache()
	p := Point{Lat: 1, Lon: 2}
	cache.Put(context.Background(), "q", p, "2gis")
	cache.Put(context.Background(), "q", Point{Lat: 9, Lon: 9}, "nominatim")

	got, ok := cache.Get(context.Background(), "q")
	require.True(t, ok)
	assert.Equal(t, p, *got, "first writer wins")
}

func TestCleanCity(t *testing.T) {
	assert.Equal(t, "Алматы", cleanCity("Алматы / Almaty"))
	assert.Equal(t, "Астана", cleanCity("Астана (Нур-Султан)"))
	assert.Equal(t, "Павлодар", cleanCity("  Павлодар  "))
}

func TestHaversineKm(t *testing.T) {
	// Astana to Almaty is roughly 970 km.
	d := HaversineKm(AstanaPoint, AlmatyPoint)
	assert.InDelta(t, 970, d, 30)
	assert.Zero(t, HaversineKm(AstanaPoint, AstanaPoint))
}
