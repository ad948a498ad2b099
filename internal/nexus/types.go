package nexus

import (
	"strconv"
	"time"
)

// Game is the upstream record for a game, as returned by the legacy
// per-resource lookup.
type Game struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	DomainName string `json:"domain_name"`
	ModCount   int    `json:"mods"`
}

// Mod is a single mod record. Both the legacy lookup and the bulk query
// endpoint produce this shape.
type Mod struct {
	ModID      int64     `json:"mod_id"`
	GameDomain string    `json:"domain_name"`
	Name       string    `json:"name"`
	Summary    string    `json:"summary"`
	Version    string    `json:"version"`
	Author     string    `json:"author"`
	UploaderID int64     `json:"uploader_id"`
	Uploader   string    `json:"uploaded_by"`
	PictureURL string    `json:"picture_url"`
	Adult      bool      `json:"contains_adult_content"`
	Available  bool      `json:"available"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// URL returns the mod's public page address.
func (m *Mod) URL() string {
	return "https://www.nexusmods.com/" + m.GameDomain + "/mods/" + strconv.FormatInt(m.ModID, 10)
}

// ModFile is one uploaded file of a mod, with its changelog if any.
type ModFile struct {
	FileID     int64     `json:"file_id"`
	Name       string    `json:"name"`
	Version    string    `json:"version"`
	Category   string    `json:"category_name"`
	Changelog  []string  `json:"changelog_html"`
	UploadedAt time.Time `json:"uploaded_time"`
}

// Collection is a curated mod collection record from the bulk query
// endpoint.
type Collection struct {
	ID         int64     `json:"id"`
	Slug       string    `json:"slug"`
	Name       string    `json:"name"`
	Summary    string    `json:"summary"`
	GameDomain string    `json:"game_domain"`
	Revision   int       `json:"latest_revision"`
	Adult      bool      `json:"adult_content"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// URL returns the collection's public page address.
func (c *Collection) URL() string {
	return "https://next.nexusmods.com/" + c.GameDomain + "/collections/" + c.Slug
}
