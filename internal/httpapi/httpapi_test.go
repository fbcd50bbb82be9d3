package httpapi

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nunet-edge/overlay-node/internal/config"
	"github.com/nunet-edge/overlay-node/internal/identity"
	"github.com/nunet-edge/overlay-node/internal/nodestate"
	"github.com/nunet-edge/overlay-node/models"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newTestServer(t *testing.T) (*Server, *nodestate.Node) {
	t.Helper()
	cfg := config.Config{General: config.General{DataDir: t.TempDir()}}
	node, err := nodestate.New(cfg, "127.0.0.1", 9500)
	require.NoError(t, err)
	require.NoError(t, node.Monitor.Sample(context.Background()))
	t.Cleanup(func() { node.Journal.Close() })
	return New(node), node
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleStatusReportsSelf(t *testing.T) {
	s, node := newTestServer(t)
	rec := doJSON(t, s.Router(), http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status models.StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, node.IP, status.IP)
	assert.Equal(t, node.Port, status.Port)
}

func TestHandlePeerListIncludesSelf(t *testing.T) {
	s, node := newTestServer(t)
	rec := doJSON(t, s.Router(), http.MethodGet, "/peer", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Peers []models.PeerRecord `json:"peers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Peers, 1)
	assert.Equal(t, node.SelfAddress(), body.Peers[0].IP+":"+strconv.Itoa(body.Peers[0].Port))
}

func TestRegisterThenAuthenticateAddsPeer(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.Router()

	kp, err := identity.Generate()
	require.NoError(t, err)
	pubHex := identity.PublicKeyHex(kp.Public)

	registerRec := doJSON(t, router, http.MethodPost, "/register", models.RegisterRequest{
		IP: "10.0.0.1", Port: 6000, PublicKey: pubHex,
	})
	require.Equal(t, http.StatusOK, registerRec.Code)

	var challenge models.ChallengeResponse
	require.NoError(t, json.Unmarshal(registerRec.Body.Bytes(), &challenge))
	require.NotEmpty(t, challenge.Nonce)

	digest := sha256.Sum256([]byte(challenge.Nonce))
	sig, err := ecdsa.SignASN1(rand.Reader, kp.Private, digest[:])
	require.NoError(t, err)

	authRec := doJSON(t, router, http.MethodPost, "/authenticate", models.AuthenticateRequest{
		IP: "10.0.0.1", Port: 6000, Nonce: challenge.Nonce,
		Signature:        hex.EncodeToString(sig),
		PromisedCapacity: 42,
	})
	require.Equal(t, http.StatusOK, authRec.Code)

	peerRec := doJSON(t, router, http.MethodGet, "/peer", nil)
	var body struct {
		Peers []models.PeerRecord `json:"peers"`
	}
	require.NoError(t, json.Unmarshal(peerRec.Body.Bytes(), &body))
	require.Len(t, body.Peers, 2)
}

func TestAuthenticateWithBadSignatureIsRejected(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.Router()

	kp, err := identity.Generate()
	require.NoError(t, err)

	registerRec := doJSON(t, router, http.MethodPost, "/register", models.RegisterRequest{
		IP: "10.0.0.2", Port: 6001, PublicKey: identity.PublicKeyHex(kp.Public),
	})
	require.Equal(t, http.StatusOK, registerRec.Code)

	authRec := doJSON(t, router, http.MethodPost, "/authenticate", models.AuthenticateRequest{
		IP: "10.0.0.2", Port: 6001, Nonce: "whatever",
		Signature: "not-a-real-signature",
	})
	assert.Equal(t, http.StatusForbidden, authRec.Code)
}

func TestHandleResourceOfferIsVerifiable(t *testing.T) {
	s, node := newTestServer(t)
	rec := doJSON(t, s.Router(), http.MethodGet, "/resource_offer", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var o models.Offer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &o))
	assert.Equal(t, node.SelfAddress(), o.NodeAddress)
	assert.NotEmpty(t, o.Signature)
}

func TestHandleExecuteTaskAcceptsImmediately(t *testing.T) {
	s, _ := newTestServer(t)
	task := models.TaskDescriptor{TaskID: "t-1", TaskType: "prime", ResourceRequirements: models.ResourceRequirements{CPUCores: 0.1, RAMGB: 0.1}}
	rec := doJSON(t, s.Router(), http.MethodPost, "/execute_task", task)
	require.Equal(t, http.StatusOK, rec.Code)

	var accepted struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	assert.Equal(t, "t-1", accepted.TaskID)
	assert.Equal(t, "accepted", accepted.Status)
}

func TestHandleFindSuccessorOnSoloRingReturnsSelf(t *testing.T) {
	s, node := newTestServer(t)
	rec := doJSON(t, s.Router(), http.MethodGet, "/chord/find_successor?id="+node.SelfChordID().String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlePredecessorIsNullOnSoloRing(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.Router(), http.MethodGet, "/chord/predecessor", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", rec.Body.String())
}
