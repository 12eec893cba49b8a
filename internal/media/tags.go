package media

import (
	"fmt"

	"github.com/bogem/id3v2/v2"
)

// TrackTags is the metadata written to an extracted audio file.
type TrackTags struct {
	Title  string
	Album  string
	Artist string
	Track  int
}

// WriteTags applies ID3v2 tags to an mp3 produced by audio extraction.
func WriteTags(path string, tags TrackTags) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("opening %s for tagging: %w", path, err)
	}
	defer tag.Close()

	if tags.Title != "" {
		tag.SetTitle(tags.Title)
	}
	if tags.Album != "" {
		tag.SetAlbum(tags.Album)
	}
	if tags.Artist != "" {
		tag.SetArtist(tags.Artist)
	}
	if tags.Track > 0 {
		tag.AddTextFrame(tag.CommonID("Track number/Position in set"),
			tag.DefaultEncoding(), fmt.Sprintf("%d", tags.Track))
	}

	if err := tag.Save(); err != nil {
		return fmt.Errorf("saving tags to %s: %w", path, err)
	}
	return nil
}
