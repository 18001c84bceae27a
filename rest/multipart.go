package rest

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strconv"

	"github.com/google/uuid"
)

// File is a binary attachment uploaded alongside the JSON payload.
type File struct {
	Name    string
	Content []byte
}

// payloadField is the multipart field name Discord expects the JSON payload
// under when a request carries attachments.
const payloadField = "payload_json"

// Boundaries may be at most 70 characters; beyond this length a colliding
// candidate is regenerated instead of extended.
const maxBoundaryLen = 56

// encodeMultipart builds a multipart/form-data body holding the JSON payload
// followed by one octet-stream part per attachment, named positionally. It
// returns the body and the full Content-Type including the chosen boundary.
func encodeMultipart(payload []byte, files []File) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.SetBoundary(newBoundary(files)); err != nil {
		return nil, "", err
	}

	field, err := w.CreateFormField(payloadField)
	if err != nil {
		return nil, "", err
	}
	if _, err := field.Write(payload); err != nil {
		return nil, "", err
	}

	for i, f := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name="file%d"; filename=%s`, i+1, strconv.Quote(f.Name)))
		header.Set("Content-Type", "application/octet-stream")

		part, err := w.CreatePart(header)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(f.Content); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// newBoundary picks a delimiter guaranteed to appear in none of the
// attachments, extending the candidate until it is absent.
func newBoundary(files []File) string {
	candidate := "quackscordia-" + uuid.NewString()
	for appearsIn(files, candidate) {
		if len(candidate) > maxBoundaryLen {
			candidate = "quackscordia-" + uuid.NewString()
			continue
		}
		candidate += uuid.NewString()[:8]
	}
	return candidate
}

func appearsIn(files []File, boundary string) bool {
	needle := []byte(boundary)
	for _, f := range files {
		if bytes.Contains(f.Content, needle) {
			return true
		}
	}
	return false
}
