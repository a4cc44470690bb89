package segment

import (
	"fmt"
	"os"

	"github.com/at-wat/ebml-go"
)

// ebmlHeader mirrors just enough of the WebM EBML header to confirm the
// file is a real EBML document before admitting it as an init segment.
type ebmlHeader struct {
	EBML struct {
		DocType string `ebml:"EBMLDocType"`
	} `ebml:"EBML"`
}

// ValidateWebMInit confirms path starts with a well-formed EBML header
// whose DocType is "webm".
func ValidateWebMInit(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var hdr ebmlHeader
	if err := ebml.Unmarshal(f, &hdr); err != nil {
		return fmt.Errorf("parse ebml header: %w", err)
	}
	if hdr.EBML.DocType != "webm" {
		return fmt.Errorf("unexpected EBML doctype %q", hdr.EBML.DocType)
	}
	return nil
}
