package handler

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func zapNop() *zap.Logger { return zap.NewNop() }

func advanceToIdentity(t *testing.T, s *server) string {
	t.Helper()
	base := "/api/v1/verification/sessions/" + s.createSession(ownerID)

	rec, _ := s.do(http.MethodPost, base+"/contact/send", ownerID, map[string]string{"identifier": "+91 98765 43210", "channel": "sms"})
	if !assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String()) {
		t.FailNow()
	}
	rec, _ = s.do(http.MethodPost, base+"/contact/confirm", ownerID, map[string]string{"code": s.sender.last()})
	if !assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String()) {
		t.FailNow()
	}
	rec, _ = s.do(http.MethodPost, base+"/location", ownerID, map[string]interface{}{
		"position": map[string]float64{"latitude": venueAt.Latitude, "longitude": venueAt.Longitude},
	})
	if !assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String()) {
		t.FailNow()
	}
	return base
}

func TestUploadIsSniffedNotTrusted(t *testing.T) {
	s := newServer(t, nil)
	base := advanceToIdentity(t, s)

	rec, resp := s.upload(base+"/documents", ownerID, map[string]string{"document_type": "aadhaar"}, []byte("just some text, not a scan"))
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Equal(t, "InvalidFileType", resp.Error)

	rec, resp = s.upload(base+"/selfie", ownerID, nil, pdfBytes)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code, "selfies must be images")
	assert.Equal(t, "InvalidFileType", resp.Error)
}

func TestUploadTooLarge(t *testing.T) {
	s := newServer(t, nil)
	base := advanceToIdentity(t, s)

	big := append(append([]byte{}, pngBytes...), make([]byte, 3<<20)...)
	rec, resp := s.upload(base+"/selfie", ownerID, nil, big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "FileTooLarge", resp.Error)
}

func TestUploadBodyBeyondOverheadIsCutOff(t *testing.T) {
	s := newServer(t, nil)
	base := advanceToIdentity(t, s)

	huge := append(append([]byte{}, pngBytes...), make([]byte, 5<<20)...)
	rec, resp := s.upload(base+"/selfie", ownerID, nil, huge)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "FileTooLarge", resp.Error)

	rec, resp = s.upload(base+"/documents", ownerID, map[string]string{"document_type": "pan"}, append(append([]byte{}, pdfBytes...), make([]byte, 7<<20)...))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "FileTooLarge", resp.Error)
}

func TestUploadValidation(t *testing.T) {
	s := newServer(t, nil)
	base := advanceToIdentity(t, s)

	rec, _ := s.upload(base+"/documents", ownerID, map[string]string{"document_type": "passport"}, pdfBytes)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.do(http.MethodPost, base+"/documents", ownerID, map[string]string{"document_type": "pan"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.upload(base+"/documents", ownerID, map[string]string{
		"document_type":   "pan",
		"document_number": "<script>ABCDE1234F",
	}, pdfBytes)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
