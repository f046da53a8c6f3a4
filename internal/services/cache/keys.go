package cache

// DiscoveryKey is the cache key for the country/university discovery index.
// There is exactly one index per portal, so the fingerprint has no params.
func DiscoveryKey() string {
	return Fingerprint("discovery", nil)
}

// MappingsKey is the cache key for one university's scraped module mappings.
func MappingsKey(university, country string) string {
	return Fingerprint("mappings", map[string]string{
		"university": university,
		"country":    country,
	})
}
