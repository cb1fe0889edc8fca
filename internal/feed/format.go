package feed

import (
	"fmt"
	"net/url"
	"strings"

	"scoutbot/internal/catalog"
)

// DefaultTrackers are the public announce endpoints appended to every magnet link.
var DefaultTrackers = []string{
	"udp://open.demonii.com:1337/announce",
	"udp://tracker.openbittorrent.com:80",
	"udp://tracker.coppersurfer.tk:6969",
	"udp://glotorrents.pw:6969/announce",
	"udp://tracker.opentrackr.org:1337/announce",
	"udp://torrent.gresille.org:80/announce",
	"udp://p4p.arenabg.com:1337",
	"udp://tracker.leechers-paradise.org:6969",
}

// Notification is one formatted catalog entry ready for delivery.
type Notification struct {
	MovieID  uint64
	Text     string
	ImageURL string
	Magnet   string
}

// Formatter turns a Movie into a Notification.
type Formatter struct {
	Trackers []string
	// PreferredQuality selects the first torrent with this quality label
	// (case-insensitive). Empty, or no match, selects the first torrent.
	PreferredQuality string
}

// Format returns false when the movie has no torrents; there is nothing to send.
func (f Formatter) Format(m catalog.Movie) (Notification, bool) {
	t, ok := f.pick(m.Torrents)
	if !ok {
		return Notification{}, false
	}
	trackers := f.Trackers
	if len(trackers) == 0 {
		trackers = DefaultTrackers
	}
	magnet := MagnetLink(t.Hash, m.TitleLong, trackers)

	var b strings.Builder
	fmt.Fprintf(&b, "🎬 New movie: %s\n", m.TitleLong)
	fmt.Fprintf(&b, "📅 Year: %d\n", m.Year)
	fmt.Fprintf(&b, "🎞 Quality: %s\n", t.Quality)
	fmt.Fprintf(&b, "🧲 Magnet: %s\n", magnet)
	fmt.Fprintf(&b, "⬇️ Torrent: %s", t.URL)

	return Notification{
		MovieID:  m.ID,
		Text:     b.String(),
		ImageURL: m.LargeCoverImage,
		Magnet:   magnet,
	}, true
}

func (f Formatter) pick(ts []catalog.Torrent) (catalog.Torrent, bool) {
	if len(ts) == 0 {
		return catalog.Torrent{}, false
	}
	if q := strings.TrimSpace(f.PreferredQuality); q != "" {
		for _, t := range ts {
			if strings.EqualFold(t.Quality, q) {
				return t, true
			}
		}
	}
	return ts[0], true
}

// MagnetLink builds magnet:?xt=urn:btih:<hash>&dn=<title>&tr=<tracker>... with
// every value percent-encoded.
func MagnetLink(hash, title string, trackers []string) string {
	var b strings.Builder
	b.WriteString("magnet:?xt=urn:btih:")
	b.WriteString(hash)
	b.WriteString("&dn=")
	b.WriteString(percentEncode(title))
	for _, tr := range trackers {
		if tr = strings.TrimSpace(tr); tr == "" {
			continue
		}
		b.WriteString("&tr=")
		b.WriteString(percentEncode(tr))
	}
	return b.String()
}

// percentEncode is query escaping with spaces as %20 rather than '+'.
func percentEncode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
