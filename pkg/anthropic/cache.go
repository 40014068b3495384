package anthropic

// BuildCachedSystemBlocks places text in a single system block with a cache
// breakpoint. Base instructions for a document type are identical across
// every iteration of a refinement loop, so later calls read them from cache.
func BuildCachedSystemBlocks(text, ttl string) []SystemBlock {
	if ttl == "" {
		ttl = "5m"
	}
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: ttl},
		},
	}
}
