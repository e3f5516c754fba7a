package listing

import (
	"context"
	"errors"
	"fmt"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
)

const MaxImageSize = 5 << 20

var allowedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// ImageStore сохраняет файл по ключу и возвращает публичный URL.
type ImageStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

type Service interface {
	Create(ctx context.Context, costume *Costume) (*Costume, error)
	Get(ctx context.Context, id uuid.UUID) (*Costume, error)
	Update(ctx context.Context, sellerID uuid.UUID, costume *Costume) (*Costume, error)
	Delete(ctx context.Context, sellerID, id uuid.UUID) error
	AttachImage(ctx context.Context, sellerID, id uuid.UUID, data []byte) (*Costume, error)
	Search(ctx context.Context, f Filter) (Page, error)
}

type service struct {
	repo   Repository
	images ImageStore
}

func NewService(repo Repository, images ImageStore) Service {
	return &service{repo: repo, images: images}
}

func (s *service) Create(ctx context.Context, costume *Costume) (*Costume, error) {
	costume.ID = uuid.Nil
	costume.Status = StatusAvailable
	costume.Images = nil

	if err := s.repo.Create(ctx, costume); err != nil {
		log.Error().Err(err).Stringer("seller_id", costume.SellerID).Msg("service: failed to create costume")
		return nil, fmt.Errorf("failed to create costume: %w", err)
	}

	log.Info().Stringer("costume_id", costume.ID).Stringer("seller_id", costume.SellerID).Msg("service: costume listed")
	return costume, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*Costume, error) {
	costume, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		log.Error().Err(err).Stringer("costume_id", id).Msg("service: failed to get costume")
		return nil, fmt.Errorf("failed to get costume '%s': %w", id, err)
	}
	return costume, nil
}

func (s *service) Update(ctx context.Context, sellerID uuid.UUID, costume *Costume) (*Costume, error) {
	if _, err := s.ownedAvailable(ctx, sellerID, costume.ID); err != nil {
		return nil, err
	}

	costume.SellerID = sellerID
	if err := s.repo.Update(ctx, costume); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadySold) {
			return nil, err
		}
		log.Error().Err(err).Stringer("costume_id", costume.ID).Msg("service: failed to update costume")
		return nil, fmt.Errorf("failed to update costume '%s': %w", costume.ID, err)
	}

	return s.Get(ctx, costume.ID)
}

func (s *service) Delete(ctx context.Context, sellerID, id uuid.UUID) error {
	if _, err := s.ownedAvailable(ctx, sellerID, id); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadySold) || errors.Is(err, ErrHasOrderHistory) {
			return err
		}
		log.Error().Err(err).Stringer("costume_id", id).Msg("service: failed to delete costume")
		return fmt.Errorf("failed to delete costume '%s': %w", id, err)
	}

	log.Info().Stringer("costume_id", id).Msg("service: costume deleted")
	return nil
}

func (s *service) AttachImage(ctx context.Context, sellerID, id uuid.UUID, data []byte) (*Costume, error) {
	costume, err := s.ownedAvailable(ctx, sellerID, id)
	if err != nil {
		return nil, err
	}
	if len(costume.Images) >= MaxImages {
		return nil, ErrTooManyImages
	}
	if len(data) == 0 || len(data) > MaxImageSize {
		return nil, ErrUnsupportedImage
	}

	mtype := mimetype.Detect(data)
	ext, ok := allowedImageTypes[mtype.String()]
	if !ok {
		return nil, ErrUnsupportedImage
	}

	name, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("failed to generate image name: %w", err)
	}
	key := fmt.Sprintf("costumes/%s/%s%s", id, name, ext)

	url, err := s.images.Put(ctx, key, mtype.String(), data)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("service: failed to store image")
		return nil, fmt.Errorf("failed to store image: %w", err)
	}

	if err := s.repo.AppendImage(ctx, id, url); err != nil {
		if errors.Is(err, ErrTooManyImages) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to attach image to costume '%s': %w", id, err)
	}

	return s.Get(ctx, id)
}

func (s *service) Search(ctx context.Context, f Filter) (Page, error) {
	f = f.Normalize()
	items, total, err := s.repo.Search(ctx, f)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to search costumes")
		return Page{}, fmt.Errorf("failed to search costumes: %w", err)
	}
	return newPage(items, total, f), nil
}

func (s *service) ownedAvailable(ctx context.Context, sellerID, id uuid.UUID) (*Costume, error) {
	costume, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if costume.SellerID != sellerID {
		return nil, ErrForbidden
	}
	if !costume.IsAvailable() {
		return nil, ErrAlreadySold
	}
	return costume, nil
}
