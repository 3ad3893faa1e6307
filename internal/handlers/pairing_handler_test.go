package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairing_Flow(t *testing.T) {
	s := newTestServer(t)
	a := s.register(t, "alice")
	b := s.register(t, "bob")

	code := s.profile(t, b).PairCode
	rr := s.do(t, http.MethodPost, "/api/pairing/createPairRequest", a, map[string]string{"partnerCode": " " + code + " "})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	req := decode[request](t, rr)
	assert.Equal(t, "pair", req.Type)
	assert.Equal(t, "pending", req.Status)

	// повтор до ответа
	rr = s.do(t, http.MethodPost, "/api/pairing/createPairRequest", a, map[string]string{"partnerCode": code})
	assert.Equal(t, http.StatusPreconditionFailed, rr.Code)

	type lists struct {
		Incoming []request `json:"incoming"`
		Outgoing []request `json:"outgoing"`
	}
	rr = s.do(t, http.MethodGet, "/api/pairing/requests", b, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	l := decode[lists](t, rr)
	require.Len(t, l.Incoming, 1)
	assert.Equal(t, req.ID, l.Incoming[0].ID)
	assert.Empty(t, l.Outgoing)

	// отвечать может только адресат
	rr = s.do(t, http.MethodPost, "/api/pairing/respondPairRequest", a, map[string]string{"requestID": req.ID, "decision": "accept"})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = s.do(t, http.MethodPost, "/api/pairing/respondPairRequest", b, map[string]string{"requestID": req.ID, "decision": "maybe"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodPost, "/api/pairing/respondPairRequest", b, map[string]string{"requestID": req.ID, "decision": "accept"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "accepted", decode[request](t, rr).Status)

	pa, pb := s.profile(t, a), s.profile(t, b)
	assert.True(t, pa.Paired)
	assert.Equal(t, pa.ChatID, pb.ChatID)
	require.NotNil(t, pa.Partner)
	assert.Equal(t, b, pa.Partner.UID)
}

func TestPairing_Validation(t *testing.T) {
	s := newTestServer(t)
	a := s.register(t, "alice")

	tests := []struct {
		name   string
		code   string
		status int
	}{
		{"not digits", "abcdef", http.StatusBadRequest},
		{"too short", "123", http.StatusBadRequest},
		{"own code", s.profile(t, a).PairCode, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := s.do(t, http.MethodPost, "/api/pairing/createPairRequest", a, map[string]string{"partnerCode": tt.code})
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
		})
	}

	t.Run("anonymous", func(t *testing.T) {
		rr := s.do(t, http.MethodPost, "/api/pairing/createPairRequest", "", map[string]string{"partnerCode": "123456"})
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("unpair without partner", func(t *testing.T) {
		rr := s.do(t, http.MethodPost, "/api/pairing/createUnpairRequest", a, nil)
		assert.Equal(t, http.StatusPreconditionFailed, rr.Code)
	})
}

func TestPairing_Unpair(t *testing.T) {
	s := newTestServer(t)
	a := s.register(t, "alice")
	b := s.register(t, "bob")
	chatID := s.pair(t, a, b)
	s.send(t, a, chatID, "Y3Q=")

	rr := s.do(t, http.MethodPost, "/api/pairing/createUnpairRequest", b, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	req := decode[request](t, rr)
	assert.Equal(t, "unpair", req.Type)

	rr = s.do(t, http.MethodPost, "/api/pairing/respondUnpairRequest", a, map[string]string{"requestID": req.ID, "decision": "accept"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	assert.False(t, s.profile(t, a).Paired)
	rr = s.do(t, http.MethodPost, "/api/messages/sendMessage", a, map[string]any{"chatID": chatID, "ciphertext": "Y3Q="})
	assert.Equal(t, http.StatusPreconditionFailed, rr.Code)
	rr = s.do(t, http.MethodGet, "/api/chats/"+chatID+"/messages", b, nil)
	assert.Equal(t, http.StatusPreconditionFailed, rr.Code)
}
