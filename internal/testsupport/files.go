package testsupport

import (
	"fmt"
	"strings"

	"cardscan/internal/scan"
)

// Uploads builds one JPEG upload per payload. The payload doubles as the
// image bytes so fakes can route on content; filenames are card-N.jpg.
func Uploads(payloads ...string) []scan.Upload {
	uploads := make([]scan.Upload, 0, len(payloads))
	for i, payload := range payloads {
		uploads = append(uploads, scan.Upload{
			OriginalFilename: fmt.Sprintf("card-%d.jpg", i+1),
			ContentType:      "image/jpeg",
			Body:             strings.NewReader(payload),
		})
	}
	return uploads
}
