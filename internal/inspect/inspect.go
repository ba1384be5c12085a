// Package inspect reports the identifying metadata a HEIC source
// carries before conversion: GPS fixes, device identity, timestamps.
// Conversion without --keep-metadata drops all of it.
package inspect

import (
	"errors"
	"fmt"
	"strings"

	exif "github.com/dsoprea/go-exif/v3"
)

type Analysis struct {
	HasGPS       bool
	HasModel     bool
	HasTimestamp bool
	Details      []Detail
}

// Detail groups the formatted tag values found for one category.
type Detail struct {
	Category string
	Values   []string
}

// Analyze categorizes the EXIF tags found in data. data may be a bare
// TIFF block or a larger buffer containing one; no EXIF at all yields
// an empty analysis, not an error.
func Analyze(data []byte) (Analysis, error) {
	analysis := Analysis{}

	rawExif, err := exif.SearchAndExtractExif(data)
	if err != nil {
		if errors.Is(err, exif.ErrNoExif) {
			return analysis, nil
		}
		return analysis, err
	}

	tags, _, err := exif.GetFlatExifData(rawExif, nil)
	if err != nil {
		return analysis, err
	}

	var gps, model, timestamp []string
	for _, tag := range tags {
		name := tag.TagName
		value := strings.TrimSpace(tag.Formatted)
		entry := fmt.Sprintf("%s=%s", name, value)

		if strings.HasPrefix(name, "GPS") || strings.Contains(tag.IfdPath, "GPS") {
			analysis.HasGPS = true
			gps = append(gps, entry)
		}
		if name == "Model" || name == "Make" || name == "CameraModelName" {
			analysis.HasModel = true
			model = append(model, entry)
		}
		if name == "DateTimeOriginal" || name == "DateTimeDigitized" || name == "DateTime" {
			analysis.HasTimestamp = true
			timestamp = append(timestamp, entry)
		}
	}

	if len(gps) > 0 {
		analysis.Details = append(analysis.Details, Detail{Category: "GPS", Values: gps})
	}
	if len(model) > 0 {
		analysis.Details = append(analysis.Details, Detail{Category: "Device Model", Values: model})
	}
	if len(timestamp) > 0 {
		analysis.Details = append(analysis.Details, Detail{Category: "Timestamp", Values: timestamp})
	}
	return analysis, nil
}

// Categories lists the category names present, for compact summaries.
func (a Analysis) Categories() []string {
	cats := []string{}
	for _, d := range a.Details {
		cats = append(cats, d.Category)
	}
	return cats
}
