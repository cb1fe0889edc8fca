package catalog

// Movie is one catalog entry. IDs are assigned by the upstream catalog in
// insertion order, so a larger ID means a newer entry.
type Movie struct {
	ID              uint64    `json:"id"`
	TitleLong       string    `json:"title_long"`
	Year            int       `json:"year"`
	LargeCoverImage string    `json:"large_cover_image"`
	Torrents        []Torrent `json:"torrents"`
}

// Torrent is one downloadable release of a Movie.
type Torrent struct {
	URL     string `json:"url"`
	Hash    string `json:"hash"`
	Quality string `json:"quality"`
}

// listResponse is the list_movies envelope. Data and Movies are optional
// upstream; absent values decode to nil and are treated as "no entries".
type listResponse struct {
	Status        string    `json:"status"`
	StatusMessage string    `json:"status_message"`
	Data          *listData `json:"data,omitempty"`
}

type listData struct {
	MovieCount int     `json:"movie_count"`
	Limit      int     `json:"limit"`
	Movies     []Movie `json:"movies,omitempty"`
}

func (r listResponse) movies() []Movie {
	if r.Status != "ok" || r.Data == nil {
		return nil
	}
	return r.Data.Movies
}
