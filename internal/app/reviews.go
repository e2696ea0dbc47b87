package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"elibrary/internal/markup"
	"elibrary/internal/store"
)

var reviewerRoles = map[string]struct{}{
	store.RoleUser:      {},
	store.RoleModerator: {},
	store.RoleAdmin:     {},
}

// AddReview stores one review per (book, user). The unique constraint is
// the authoritative guard; the lookup beforehand only produces a friendlier
// rejection.
func (a *App) AddReview(bookID uint, user store.User, rating int, text string) error {
	if _, ok := reviewerRoles[user.Role.Name]; !ok {
		return ErrForbidden
	}
	fields := map[string]string{}
	if rating < 0 || rating > 5 {
		fields["rating"] = "rating must be between 0 and 5"
	}
	if strings.TrimSpace(text) == "" {
		fields["text"] = "review text is required"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}

	if _, exists, err := a.store.GetReview(bookID, user.ID); err != nil {
		return fmt.Errorf("check existing review: %w", err)
	} else if exists {
		return ErrAlreadyReviewed
	}

	sanitized, err := markup.RenderReview(text)
	if err != nil {
		return fmt.Errorf("render review: %w", err)
	}
	review := &store.Review{
		BookID:    bookID,
		UserID:    user.ID,
		Rating:    rating,
		Text:      sanitized,
		CreatedAt: time.Now(),
	}
	if err := a.store.CreateReview(review); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return ErrAlreadyReviewed
		}
		return fmt.Errorf("save review: %w", err)
	}
	return nil
}

// ListReviews returns all reviews of a book, newest first.
func (a *App) ListReviews(bookID uint) ([]store.Review, error) {
	return a.store.ListReviews(bookID)
}

// UserReview returns the viewer's own review of a book, if any.
func (a *App) UserReview(bookID, userID uint) (store.Review, bool, error) {
	return a.store.GetReview(bookID, userID)
}
