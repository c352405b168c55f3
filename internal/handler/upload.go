package handler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gabriel-vasile/mimetype"

	"merchant-verification/internal/model"
	"merchant-verification/internal/service"
)

const multipartOverhead = 1 << 20

var errMissingFile = errors.New("file field is required")

// readUpload pulls one file out of a multipart form. The MIME type is
// sniffed from the content; the client-declared type is ignored. Files up to
// one byte over maxBytes still reach the intake service so it can report
// FileTooLarge with its own limit. Bodies beyond maxBytes plus the multipart
// overhead are cut off before anything is spooled to disk.
func readUpload(w http.ResponseWriter, r *http.Request, field string, maxBytes int64) (*model.Upload, error) {
	limit := maxBytes + multipartOverhead
	if r.ContentLength > limit {
		return nil, bodyTooLarge(maxBytes)
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, bodyTooLarge(maxBytes)
		}
		return nil, fmt.Errorf("invalid multipart form: %w", err)
	}

	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, errMissingFile
	}
	if err != nil {
		return nil, fmt.Errorf("invalid file field: %w", err)
	}
	defer file.Close()

	return bufferUpload(file, header, maxBytes)
}

func bufferUpload(file multipart.File, header *multipart.FileHeader, maxBytes int64) (*model.Upload, error) {
	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}

	size := header.Size
	if size < int64(len(data)) {
		size = int64(len(data))
	}

	return &model.Upload{
		Filename: header.Filename,
		MimeType: mimetype.Detect(data).String(),
		Size:     size,
		Body:     bytes.NewReader(data),
	}, nil
}

func bodyTooLarge(maxBytes int64) *service.VerificationError {
	return &service.VerificationError{
		Kind:    service.KindFileTooLarge,
		Message: "request body exceeds the upload limit",
		Details: map[string]interface{}{"max_bytes": maxBytes},
	}
}
