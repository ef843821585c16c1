package compressor

import (
	"os"

	"github.com/rwcarlsen/goexif/exif"
	exiftiff "github.com/rwcarlsen/goexif/tiff"
)

type fieldCounter int

func (c *fieldCounter) Walk(name exif.FieldName, tag *exiftiff.Tag) error {
	*c++
	return nil
}

// countMetadataFields returns the number of EXIF fields carried by the
// source image, all of which are dropped by re-encoding. Best effort: a
// source without parseable EXIF counts as zero.
func countMetadataFields(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return 0
	}

	var counter fieldCounter
	if err := x.Walk(&counter); err != nil {
		return 0
	}
	return int(counter)
}
