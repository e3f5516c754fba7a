package cart

import (
	"slices"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

// Item - костюм в корзине. Каждый костюм уникален, поэтому количество всегда 1.
type Item struct {
	CostumeID uuid.UUID       `json:"costume_id"`
	SellerID  uuid.UUID       `json:"seller_id"`
	Title     string          `json:"title"`
	Price     decimal.Decimal `json:"price"`
	Size      string          `json:"size"`
	Image     string          `json:"image,omitempty"`
}

// Cart - значение: операции возвращают новую корзину и не меняют исходную.
type Cart struct {
	Items []Item `json:"items"`
}

func (c Cart) Add(item Item) Cart {
	if c.Contains(item.CostumeID) {
		return c.clone()
	}
	next := c.clone()
	next.Items = append(next.Items, item)
	return next
}

func (c Cart) Remove(costumeID uuid.UUID) Cart {
	next := Cart{Items: make([]Item, 0, len(c.Items))}
	for _, it := range c.Items {
		if it.CostumeID != costumeID {
			next.Items = append(next.Items, it)
		}
	}
	return next
}

func (c Cart) Clear() Cart {
	return Cart{Items: []Item{}}
}

func (c Cart) Contains(costumeID uuid.UUID) bool {
	return slices.ContainsFunc(c.Items, func(it Item) bool { return it.CostumeID == costumeID })
}

func (c Cart) Len() int {
	return len(c.Items)
}

func (c Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range c.Items {
		total = total.Add(it.Price)
	}
	return total
}

func (c Cart) CostumeIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(c.Items))
	for _, it := range c.Items {
		ids = append(ids, it.CostumeID)
	}
	return ids
}

func (c Cart) clone() Cart {
	items := make([]Item, len(c.Items), len(c.Items)+1)
	copy(items, c.Items)
	return Cart{Items: items}
}
