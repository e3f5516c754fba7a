package listing

import (
	"fmt"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type SortOrder string

const (
	SortNewest    SortOrder = "newest"
	SortOldest    SortOrder = "oldest"
	SortPriceAsc  SortOrder = "price_asc"
	SortPriceDesc SortOrder = "price_desc"
)

const (
	DefaultPageSize = 12
	MaxPageSize     = 50
)

var orderByClauses = map[SortOrder]string{
	SortNewest:    "created_at DESC, id",
	SortOldest:    "created_at ASC, id",
	SortPriceAsc:  "price ASC, created_at DESC, id",
	SortPriceDesc: "price DESC, created_at DESC, id",
}

// Filter - разобранные параметры поиска. Пустые поля не участвуют в WHERE.
type Filter struct {
	Query     string
	Category  Category
	Size      string
	Condition Condition
	MinPrice  *decimal.Decimal
	MaxPrice  *decimal.Decimal
	SellerID  uuid.UUID
	Status    Status
	Sort      SortOrder
	Page      int
	Limit     int
}

// Normalize подставляет значения по умолчанию и зажимает пагинацию в допустимые рамки.
func (f Filter) Normalize() Filter {
	if f.Status == "" {
		f.Status = StatusAvailable
	}
	if _, ok := orderByClauses[f.Sort]; !ok {
		f.Sort = SortNewest
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	return f
}

func (f Filter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// searchQuery - WHERE и ORDER BY с именованными параметрами для sqlx.Named.
type searchQuery struct {
	where   string
	orderBy string
	args    map[string]any
}

func buildSearchQuery(f Filter) searchQuery {
	conds := make([]string, 0, 8)
	args := make(map[string]any)

	conds = append(conds, "status = :status")
	args["status"] = string(f.Status)

	if q := strings.TrimSpace(f.Query); q != "" {
		conds = append(conds, "(title ILIKE :q OR description ILIKE :q)")
		args["q"] = "%" + escapeLike(q) + "%"
	}
	if f.Category != "" {
		conds = append(conds, "category = :category")
		args["category"] = string(f.Category)
	}
	if f.Size != "" {
		conds = append(conds, "LOWER(size) = LOWER(:size)")
		args["size"] = f.Size
	}
	if f.Condition != "" {
		conds = append(conds, "condition = :condition")
		args["condition"] = string(f.Condition)
	}
	if f.MinPrice != nil {
		conds = append(conds, "price >= :min_price")
		args["min_price"] = *f.MinPrice
	}
	if f.MaxPrice != nil {
		conds = append(conds, "price <= :max_price")
		args["max_price"] = *f.MaxPrice
	}
	if f.SellerID != uuid.Nil {
		conds = append(conds, "seller_id = :seller_id")
		args["seller_id"] = f.SellerID
	}

	return searchQuery{
		where:   "WHERE " + strings.Join(conds, " AND "),
		orderBy: "ORDER BY " + orderByClauses[f.Sort],
		args:    args,
	}
}

func (q searchQuery) countSQL() string {
	return "SELECT COUNT(*) FROM costumes " + q.where
}

func (q searchQuery) selectSQL(limit, offset int) string {
	return fmt.Sprintf("SELECT %s FROM costumes %s %s LIMIT %d OFFSET %d",
		costumeColumns, q.where, q.orderBy, limit, offset)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Page - страница результатов поиска.
type Page struct {
	Items      []Costume
	Total      int
	Page       int
	Limit      int
	TotalPages int
}

func newPage(items []Costume, total int, f Filter) Page {
	pages := 0
	if total > 0 {
		pages = (total + f.Limit - 1) / f.Limit
	}
	return Page{Items: items, Total: total, Page: f.Page, Limit: f.Limit, TotalPages: pages}
}
