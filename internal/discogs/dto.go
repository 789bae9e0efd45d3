package discogs

import (
	"log/slog"
	"time"

	"github.com/digsapp/digs/internal/domain"
)

// Wire types for the three Discogs operations the engine consumes.

type paginationDTO struct {
	Page    int `json:"page"`
	Pages   int `json:"pages"`
	PerPage int `json:"per_page"`
	Items   int `json:"items"`
}

type folderDTO struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type foldersResponse struct {
	Folders []folderDTO `json:"folders"`
}

type artistDTO struct {
	Name string `json:"name"`
	ID   int64  `json:"id"`
}

type labelDTO struct {
	Name  string `json:"name"`
	CatNo string `json:"catno"`
}

type formatDTO struct {
	Name         string   `json:"name"`
	Qty          string   `json:"qty"`
	Descriptions []string `json:"descriptions"`
}

type basicInformationDTO struct {
	ID         int64       `json:"id"`
	Title      string      `json:"title"`
	Year       int         `json:"year"`
	Thumb      string      `json:"thumb"`
	CoverImage string      `json:"cover_image"`
	Artists    []artistDTO `json:"artists"`
	Labels     []labelDTO  `json:"labels"`
	Formats    []formatDTO `json:"formats"`
	Genres     []string    `json:"genres"`
	Styles     []string    `json:"styles"`
}

type collectionReleaseDTO struct {
	ID               int64               `json:"id"`
	InstanceID       int64               `json:"instance_id"`
	FolderID         int64               `json:"folder_id"`
	DateAdded        string              `json:"date_added"`
	BasicInformation basicInformationDTO `json:"basic_information"`
}

type collectionReleasesResponse struct {
	Pagination paginationDTO          `json:"pagination"`
	Releases   []collectionReleaseDTO `json:"releases"`
}

type trackDTO struct {
	Position string `json:"position"`
	Title    string `json:"title"`
	Duration string `json:"duration"`
}

type imageDTO struct {
	Type   string `json:"type"`
	URI    string `json:"uri"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type videoDTO struct {
	URI      string `json:"uri"`
	Title    string `json:"title"`
	Duration int    `json:"duration"`
}

type communityDTO struct {
	Rating struct {
		Average float64 `json:"average"`
		Count   int     `json:"count"`
	} `json:"rating"`
	Have int `json:"have"`
	Want int `json:"want"`
}

type releaseDetailDTO struct {
	ID        int64         `json:"id"`
	Title     string        `json:"title"`
	Year      int           `json:"year"`
	Tracklist []trackDTO    `json:"tracklist"`
	Images    []imageDTO    `json:"images"`
	Videos    []videoDTO    `json:"videos"`
	Community *communityDTO `json:"community"`
}

type identityDTO struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// mapFolders converts the wire folder list to domain folders.
func mapFolders(dtos []folderDTO) []domain.Folder {
	out := make([]domain.Folder, len(dtos))
	for i, f := range dtos {
		out[i] = domain.Folder{ID: f.ID, Name: f.Name, Count: f.Count}
	}
	return out
}

// mapCollectionRelease converts one collection listing item to a local
// row. Only the trimmed credit shapes survive: {name,id} for artists,
// {name,catno} for labels, {name,qty,descriptions} for formats. The
// traversed folder id wins over the one echoed in the payload.
func mapCollectionRelease(dto collectionReleaseDTO, folderID int64, logger *slog.Logger) domain.Release {
	info := dto.BasicInformation

	artists := make([]domain.Artist, len(info.Artists))
	for i, a := range info.Artists {
		artists[i] = domain.Artist{Name: a.Name, ID: a.ID}
	}
	labels := make([]domain.Label, len(info.Labels))
	for i, l := range info.Labels {
		labels[i] = domain.Label{Name: l.Name, CatNo: l.CatNo}
	}
	formats := make([]domain.Format, len(info.Formats))
	for i, f := range info.Formats {
		formats[i] = domain.Format{Name: f.Name, Qty: f.Qty, Descriptions: f.Descriptions}
	}

	dateAdded, err := time.Parse(time.RFC3339, dto.DateAdded)
	if err != nil && dto.DateAdded != "" {
		logger.Warn("unparseable date_added", "instance_id", dto.InstanceID, "date_added", dto.DateAdded)
	}

	return domain.Release{
		InstanceID: dto.InstanceID,
		ReleaseID:  info.ID,
		FolderID:   folderID,
		Title:      info.Title,
		Year:       info.Year,
		Artists:    artists,
		Labels:     labels,
		Formats:    formats,
		Genres:     info.Genres,
		Styles:     info.Styles,
		ThumbURL:   info.Thumb,
		CoverURL:   info.CoverImage,
		DateAdded:  dateAdded,
	}
}

// mapEnrichment converts a release detail response to the enrichment
// columns. The detail-synced timestamp is stamped by the caller.
func mapEnrichment(dto *releaseDetailDTO) *domain.Enrichment {
	e := &domain.Enrichment{}

	e.Tracklist = make([]domain.Track, len(dto.Tracklist))
	for i, t := range dto.Tracklist {
		e.Tracklist[i] = domain.Track{Position: t.Position, Title: t.Title, Duration: t.Duration}
	}
	if len(dto.Images) > 0 {
		e.Images = make([]domain.Image, len(dto.Images))
		for i, img := range dto.Images {
			e.Images[i] = domain.Image{Type: img.Type, URI: img.URI, Width: img.Width, Height: img.Height}
		}
	}
	if len(dto.Videos) > 0 {
		e.Videos = make([]domain.Video, len(dto.Videos))
		for i, v := range dto.Videos {
			e.Videos[i] = domain.Video{URI: v.URI, Title: v.Title, Duration: v.Duration}
		}
	}
	if dto.Community != nil {
		e.CommunityRating = dto.Community.Rating.Average
		e.CommunityHave = dto.Community.Have
		e.CommunityWant = dto.Community.Want
	}
	return e
}
