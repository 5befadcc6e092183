package sync

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/ety001/op-history-bridge/internal/protocol"
)

const (
	defaultAssetCacheSize = 4096
	defaultBlockCacheSize = 64
)

// AssetCache keeps the symbol and precision of recently used assets. Assets
// never change precision, so entries are not invalidated.
type AssetCache struct {
	node  Node
	cache *lru.Cache
}

// NewAssetCache creates a cache in front of the node's asset objects
func NewAssetCache(node Node, size int) (*AssetCache, error) {
	if size <= 0 {
		size = defaultAssetCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create asset cache: %w", err)
	}
	return &AssetCache{node: node, cache: cache}, nil
}

// Resolve makes sure every asset in ids is cached, fetching the missing
// ones in one request
func (a *AssetCache) Resolve(ctx context.Context, ids []protocol.ObjectID) error {
	var missing []protocol.ObjectID
	for _, id := range ids {
		if !a.cache.Contains(id) {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	assets, err := a.node.GetAssets(ctx, missing)
	if err != nil {
		return fmt.Errorf("failed to fetch assets: %w", err)
	}
	for _, asset := range assets {
		a.cache.Add(asset.ID, asset)
	}
	return nil
}

// Asset implements sidedata.AssetBook
func (a *AssetCache) Asset(id protocol.ObjectID) (protocol.AssetInfo, bool) {
	value, ok := a.cache.Get(id)
	if !ok {
		return protocol.AssetInfo{}, false
	}
	return value.(protocol.AssetInfo), true
}

// Len returns the number of cached assets
func (a *AssetCache) Len() int {
	return a.cache.Len()
}
