package store

import (
	"errors"
	"strconv"
)

var (
	ErrNotFound    = errors.New("doodle not found")
	ErrDuplicateID = errors.New("doodle id already exists")
	ErrConflict    = errors.New("gallery changed during sweep")
)

// Doodle is one published gallery entry. Only Likes changes after creation.
type Doodle struct {
	ID        string  `json:"id"`
	Image     string  `json:"image"`
	Title     string  `json:"title"`
	Likes     int64   `json:"likes"`
	CreatedAt float64 `json:"created_at"`
}

// Snapshot is the gallery as read inside a sweep. Dangling holds index ids
// whose record no longer exists.
type Snapshot struct {
	Doodles  []Doodle
	Dangling []string
}

func (d Doodle) fields() []any {
	return []any{
		"id", d.ID,
		"image", d.Image,
		"title", d.Title,
		"likes", strconv.FormatInt(d.Likes, 10),
		"created_at", formatScore(d.CreatedAt),
	}
}

func decodeDoodle(id string, fields map[string]string) (Doodle, bool) {
	if len(fields) == 0 {
		return Doodle{}, false
	}
	likes, _ := strconv.ParseInt(fields["likes"], 10, 64)
	if likes < 0 {
		likes = 0
	}
	createdAt, _ := strconv.ParseFloat(fields["created_at"], 64)
	if stored := fields["id"]; stored != "" {
		id = stored
	}
	return Doodle{
		ID:        id,
		Image:     fields["image"],
		Title:     fields["title"],
		Likes:     likes,
		CreatedAt: createdAt,
	}, true
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
