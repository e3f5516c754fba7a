package listing

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusAvailable Status = "available"
	StatusSold      Status = "sold"
)

type Category string

const (
	CategoryBallet         Category = "ballet"
	CategoryJazz           Category = "jazz"
	CategoryTap            Category = "tap"
	CategoryLyrical        Category = "lyrical"
	CategoryContemporary   Category = "contemporary"
	CategoryHipHop         Category = "hip-hop"
	CategoryBallroom       Category = "ballroom"
	CategoryLatin          Category = "latin"
	CategoryMusicalTheatre Category = "musical-theatre"
	CategoryOther          Category = "other"
)

// Categories в порядке отображения на клиенте.
var Categories = []Category{
	CategoryBallet,
	CategoryJazz,
	CategoryTap,
	CategoryLyrical,
	CategoryContemporary,
	CategoryHipHop,
	CategoryBallroom,
	CategoryLatin,
	CategoryMusicalTheatre,
	CategoryOther,
}

type Condition string

const (
	ConditionNew     Condition = "new"
	ConditionLikeNew Condition = "like-new"
	ConditionGood    Condition = "good"
	ConditionFair    Condition = "fair"
)

const MaxImages = 8

// Costume - объявление о продаже одного костюма.
type Costume struct {
	ID          uuid.UUID       `db:"id"`
	SellerID    uuid.UUID       `db:"seller_id"`
	Title       string          `db:"title"`
	Description string          `db:"description"`
	Category    Category        `db:"category"`
	Size        string          `db:"size"`
	Condition   Condition       `db:"condition"`
	Price       decimal.Decimal `db:"price"`
	Images      pq.StringArray  `db:"images"`
	Status      Status          `db:"status"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

func (c *Costume) IsAvailable() bool {
	return c.Status == StatusAvailable
}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

func (c Condition) Valid() bool {
	switch c {
	case ConditionNew, ConditionLikeNew, ConditionGood, ConditionFair:
		return true
	}
	return false
}
