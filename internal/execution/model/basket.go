package model

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Asset is one constituent of a basket. Value is always derived from the live
// price; reference price records the cost basis set at the last rebalance.
type Asset struct {
	ID             string          `json:"id"`
	Quantity       decimal.Decimal `json:"quantity"`
	ReferencePrice decimal.Decimal `json:"reference_price"`
	LivePrice      decimal.Decimal `json:"live_price"`
}

// Value returns quantity x live price.
func (a Asset) Value() decimal.Decimal {
	return a.Quantity.Mul(a.LivePrice)
}

// ReferenceValue returns quantity x reference price.
func (a Asset) ReferenceValue() decimal.Decimal {
	return a.Quantity.Mul(a.ReferencePrice)
}

// Basket is an insertion-ordered collection of assets with unique ids. Its
// value is never cached: every read walks the constituents against their
// live prices.
type Basket struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	mu               sync.RWMutex
	assets           []Asset
	index            map[string]int
	lastRebalancedAt time.Time
}

// NewBasket creates a basket from the given assets, rejecting duplicate ids.
func NewBasket(id string, assets []Asset) (*Basket, error) {
	b := &Basket{
		ID:        id,
		CreatedAt: time.Now(),
		assets:    make([]Asset, 0, len(assets)),
		index:     make(map[string]int, len(assets)),
	}
	for _, a := range assets {
		if err := b.addLocked(a); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *Basket) addLocked(a Asset) error {
	if _, ok := b.index[a.ID]; ok {
		return fmt.Errorf("duplicate asset id: %s", a.ID)
	}
	b.index[a.ID] = len(b.assets)
	b.assets = append(b.assets, a)
	return nil
}

// AddAsset appends an asset, preserving insertion order.
func (b *Basket) AddAsset(a Asset) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addLocked(a)
}

// RemoveAsset removes an asset by id.
func (b *Basket) RemoveAsset(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.index[id]
	if !ok {
		return fmt.Errorf("asset not in basket: %s", id)
	}
	b.assets = append(b.assets[:pos], b.assets[pos+1:]...)
	delete(b.index, id)
	for i := pos; i < len(b.assets); i++ {
		b.index[b.assets[i].ID] = i
	}
	return nil
}

// Asset returns a copy of the asset with the given id.
func (b *Basket) Asset(id string) (Asset, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pos, ok := b.index[id]
	if !ok {
		return Asset{}, false
	}
	return b.assets[pos], true
}

// Assets returns a copy of the constituents in insertion order.
func (b *Basket) Assets() []Asset {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Asset, len(b.assets))
	copy(out, b.assets)
	return out
}

// Len returns the number of constituents.
func (b *Basket) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.assets)
}

// CurrentValue recomputes the basket value from live prices.
func (b *Basket) CurrentValue() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := decimal.Zero
	for _, a := range b.assets {
		total = total.Add(a.Value())
	}
	return total
}

// ReferenceValue recomputes the basket value from reference prices.
func (b *Basket) ReferenceValue() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := decimal.Zero
	for _, a := range b.assets {
		total = total.Add(a.ReferenceValue())
	}
	return total
}

// UpdateLivePrice sets the live price of one asset.
func (b *Basket) UpdateLivePrice(assetID string, price decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.index[assetID]
	if !ok {
		return fmt.Errorf("asset not in basket: %s", assetID)
	}
	b.assets[pos].LivePrice = price
	return nil
}

// LastRebalancedAt returns the time of the last committed rebalance.
func (b *Basket) LastRebalancedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastRebalancedAt
}

// AssetChange records a quantity change for one surviving asset.
type AssetChange struct {
	AssetID     string          `json:"asset_id"`
	OldQuantity decimal.Decimal `json:"old_quantity"`
	NewQuantity decimal.Decimal `json:"new_quantity"`
}

// BasketDiff reports the composition change produced by a rebalance commit.
type BasketDiff struct {
	BasketID  string          `json:"basket_id"`
	Added     []Asset         `json:"added"`
	Removed   []Asset         `json:"removed"`
	Changed   []AssetChange   `json:"changed"`
	OldValue  decimal.Decimal `json:"old_value"`
	NewValue  decimal.Decimal `json:"new_value"`
	Timestamp time.Time       `json:"timestamp"`
}

// ReplaceAssets commits a rebalanced composition wholesale. Each incoming
// asset's reference price must already be its execution price; live price is
// reset to the same basis. Returns the diff against the old composition.
func (b *Basket) ReplaceAssets(target []Asset) (*BasketDiff, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	oldValue := decimal.Zero
	for _, a := range b.assets {
		oldValue = oldValue.Add(a.Value())
	}

	newIndex := make(map[string]int, len(target))
	newAssets := make([]Asset, 0, len(target))
	for _, a := range target {
		if _, ok := newIndex[a.ID]; ok {
			return nil, fmt.Errorf("duplicate asset id: %s", a.ID)
		}
		a.LivePrice = a.ReferencePrice
		newIndex[a.ID] = len(newAssets)
		newAssets = append(newAssets, a)
	}

	diff := &BasketDiff{BasketID: b.ID, Timestamp: time.Now(), OldValue: oldValue}
	for _, a := range newAssets {
		pos, existed := b.index[a.ID]
		if !existed {
			diff.Added = append(diff.Added, a)
		} else if !b.assets[pos].Quantity.Equal(a.Quantity) {
			diff.Changed = append(diff.Changed, AssetChange{
				AssetID:     a.ID,
				OldQuantity: b.assets[pos].Quantity,
				NewQuantity: a.Quantity,
			})
		}
	}
	for _, a := range b.assets {
		if _, kept := newIndex[a.ID]; !kept {
			diff.Removed = append(diff.Removed, a)
		}
	}

	b.assets = newAssets
	b.index = newIndex
	b.lastRebalancedAt = diff.Timestamp

	newValue := decimal.Zero
	for _, a := range b.assets {
		newValue = newValue.Add(a.Value())
	}
	diff.NewValue = newValue
	return diff, nil
}
