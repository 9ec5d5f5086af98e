package domain

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// One asset category (packs, units, skins...). Each category is an
// independent ingestion pipeline with its own feed filter and files.
type Category struct {
	Name         string // "packs"
	TokenAddress string // asset contract the feed query filters on
	WithQuantity bool   // id column carries "<asset_id> <n>x"
}

// IDColumn is the category-specific CSV header for the asset column.
func (c Category) IDColumn() string {
	if c.WithQuantity {
		return c.Name + "_id & quantity"
	}
	return c.Name + "_id"
}

// FormatID renders the asset column value for one record.
func (c Category) FormatID(assetID string, quantity int) string {
	if c.WithQuantity {
		return fmt.Sprintf("%s %dx", assetID, quantity)
	}
	return assetID
}

// ParseID splits a persisted asset column value back into id and quantity.
func (c Category) ParseID(col string) (assetID string, quantity int) {
	quantity = 1
	fields := strings.Fields(col)
	if len(fields) == 0 {
		return "", quantity
	}
	assetID = fields[0]
	if c.WithQuantity && len(fields) > 1 {
		if n, err := strconv.Atoi(strings.TrimSuffix(fields[1], "x")); err == nil && n > 0 {
			quantity = n
		}
	}
	return assetID, quantity
}

func (c Category) BuyersDir(root string) string {
	return filepath.Join(root, c.Name+"_buyers")
}

func (c Category) BuyersFile(root string, windowStart int64) string {
	return filepath.Join(c.BuyersDir(root), fmt.Sprintf("%s_buyers_%d.csv", c.Name, windowStart))
}

func (c Category) UniqueDir(root string) string {
	return filepath.Join(root, c.Name+"_unique")
}

func (c Category) UniqueFile(root string, windowStart int64) string {
	return filepath.Join(c.UniqueDir(root), fmt.Sprintf("%s_unique_%d.csv", c.Name, windowStart))
}
