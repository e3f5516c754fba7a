package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/costume-exchange/internal/listing"
)

const MaxItems = 50

var (
	ErrOwnCostume   = errors.New("cannot add your own costume to the cart")
	ErrCartFull     = errors.New("cart is full")
	ErrNotAvailable = errors.New("costume is no longer available")
)

type CostumeLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*listing.Costume, error)
}

// View - корзина вместе с позициями, которые успели продать.
type View struct {
	Cart
	Unavailable []uuid.UUID `json:"unavailable"`
}

type Service struct {
	store    Store
	costumes CostumeLookup
}

func NewService(store Store, costumes CostumeLookup) *Service {
	return &Service{store: store, costumes: costumes}
}

func (s *Service) load(ctx context.Context, userID uuid.UUID) (Cart, error) {
	c, err := s.store.Get(ctx, userID)
	if errors.Is(err, ErrCacheMiss) {
		return Cart{Items: []Item{}}, nil
	}
	if err != nil {
		return Cart{}, err
	}
	return c, nil
}

// Get возвращает сохранённую корзину и отмечает позиции, которые уже нельзя купить.
func (s *Service) Get(ctx context.Context, userID uuid.UUID) (View, error) {
	c, err := s.load(ctx, userID)
	if err != nil {
		return View{}, err
	}

	view := View{Cart: c, Unavailable: []uuid.UUID{}}
	for _, it := range c.Items {
		costume, err := s.costumes.Get(ctx, it.CostumeID)
		if err != nil && !errors.Is(err, listing.ErrNotFound) {
			return View{}, err
		}
		if costume == nil || !costume.IsAvailable() {
			view.Unavailable = append(view.Unavailable, it.CostumeID)
		}
	}
	return view, nil
}

func (s *Service) AddItem(ctx context.Context, userID, costumeID uuid.UUID) (Cart, error) {
	item, err := s.itemFor(ctx, userID, costumeID)
	if err != nil {
		return Cart{}, err
	}

	c, err := s.load(ctx, userID)
	if err != nil {
		return Cart{}, err
	}
	if !c.Contains(costumeID) && c.Len() >= MaxItems {
		return Cart{}, ErrCartFull
	}

	next := c.Add(item)
	if err := s.store.Set(ctx, userID, next); err != nil {
		return Cart{}, fmt.Errorf("failed to save cart: %w", err)
	}
	return next, nil
}

func (s *Service) RemoveItem(ctx context.Context, userID, costumeID uuid.UUID) (Cart, error) {
	c, err := s.load(ctx, userID)
	if err != nil {
		return Cart{}, err
	}

	next := c.Remove(costumeID)
	if err := s.store.Set(ctx, userID, next); err != nil {
		return Cart{}, fmt.Errorf("failed to save cart: %w", err)
	}
	return next, nil
}

// Replace сохраняет корзину, собранную клиентом до входа. Недоступные позиции молча отбрасываются.
func (s *Service) Replace(ctx context.Context, userID uuid.UUID, costumeIDs []uuid.UUID) (Cart, error) {
	next := Cart{Items: []Item{}}
	for _, id := range costumeIDs {
		if next.Len() >= MaxItems {
			break
		}
		item, err := s.itemFor(ctx, userID, id)
		if err != nil {
			if errors.Is(err, ErrNotAvailable) || errors.Is(err, ErrOwnCostume) {
				log.Info().Stringer("costume_id", id).Err(err).Msg("cart: dropping item on replace")
				continue
			}
			return Cart{}, err
		}
		next = next.Add(item)
	}

	if err := s.store.Set(ctx, userID, next); err != nil {
		return Cart{}, fmt.Errorf("failed to save cart: %w", err)
	}
	return next, nil
}

func (s *Service) Clear(ctx context.Context, userID uuid.UUID) error {
	return s.store.Delete(ctx, userID)
}

func (s *Service) itemFor(ctx context.Context, userID, costumeID uuid.UUID) (Item, error) {
	costume, err := s.costumes.Get(ctx, costumeID)
	if err != nil {
		if errors.Is(err, listing.ErrNotFound) {
			return Item{}, ErrNotAvailable
		}
		return Item{}, err
	}
	if !costume.IsAvailable() {
		return Item{}, ErrNotAvailable
	}
	if costume.SellerID == userID {
		return Item{}, ErrOwnCostume
	}

	item := Item{
		CostumeID: costume.ID,
		SellerID:  costume.SellerID,
		Title:     costume.Title,
		Price:     costume.Price,
		Size:      costume.Size,
	}
	if len(costume.Images) > 0 {
		item.Image = costume.Images[0]
	}
	return item, nil
}
